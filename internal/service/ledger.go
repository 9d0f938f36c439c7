package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

// LedgerService writes and reads the append-only double-entry record.
// Entries are never updated or deleted.
type LedgerService struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLedgerService(logger *slog.Logger) *LedgerService {
	return &LedgerService{logger: logger, now: time.Now}
}

// NewLedgerTxnID produces the id shared by both legs of one posting.
func NewLedgerTxnID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("LTX%d%s", time.Now().UnixMilli(), suffix)
}

// PostPair writes a DEBIT on the source account and a CREDIT on the
// destination under the same ledger transaction id, and moves both cached
// balances by the same delta. The caller supplies the enclosing
// transaction so the pair and the balance updates commit atomically.
func (s *LedgerService) PostPair(ctx context.Context, q store.Queries, ledgerTxnID string,
	sourceAccountID, destinationAccountID int64, amount decimal.Decimal,
	description, referenceType string, referenceID int64) error {

	if _, err := q.GetAccount(ctx, sourceAccountID); err != nil {
		return fmt.Errorf("source account %d: %w", sourceAccountID, err)
	}
	if _, err := q.GetAccount(ctx, destinationAccountID); err != nil {
		return fmt.Errorf("destination account %d: %w", destinationAccountID, err)
	}

	now := s.now()
	debit := domain.LedgerEntry{
		LedgerTxnID:   ledgerTxnID,
		AccountID:     sourceAccountID,
		Type:          domain.EntryTypeDebit,
		Amount:        amount,
		Description:   description,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		CreatedAt:     now,
	}
	credit := debit
	credit.AccountID = destinationAccountID
	credit.Type = domain.EntryTypeCredit

	if _, err := q.InsertLedgerEntry(ctx, &debit); err != nil {
		return err
	}
	if _, err := q.InsertLedgerEntry(ctx, &credit); err != nil {
		return err
	}

	if err := q.AddToBalance(ctx, sourceAccountID, amount.Neg()); err != nil {
		return err
	}
	if err := q.AddToBalance(ctx, destinationAccountID, amount); err != nil {
		return err
	}

	s.logger.Info("ledger entries created",
		"ledger_txn_id", ledgerTxnID, "amount", amount, "reference_id", referenceID)
	return nil
}

// BalanceOf recomputes the balance as the signed sum of the account's
// entries (CREDIT positive). This is the authoritative value; the cached
// Account.Balance field is an optimization reconciled against it.
func (s *LedgerService) BalanceOf(ctx context.Context, q store.Queries, accountID int64) (decimal.Decimal, error) {
	if _, err := q.GetAccount(ctx, accountID); err != nil {
		return decimal.Zero, fmt.Errorf("account %d: %w", accountID, err)
	}
	return q.SumLedgerEntries(ctx, accountID)
}

func (s *LedgerService) EntriesByAccount(ctx context.Context, q store.Queries, accountID int64, limit, offset int) ([]domain.LedgerEntry, error) {
	if _, err := q.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}
	return q.LedgerEntriesByAccount(ctx, accountID, limit, offset)
}

func (s *LedgerService) EntriesByTxnID(ctx context.Context, q store.Queries, ledgerTxnID string) ([]domain.LedgerEntry, error) {
	return q.LedgerEntriesByTxnID(ctx, ledgerTxnID)
}
