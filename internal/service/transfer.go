package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/audit"
	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

// maxRetainedVersions caps the per-transfer version history. The oldest
// snapshot is pruned when an insert passes the cap.
const maxRetainedVersions = 10

// TransferRequest is the engine-level input for initiating a transfer.
type TransferRequest struct {
	SourceAccountID      int64           `json:"source_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description,omitempty"`
	IdempotencyKey       string          `json:"-"`
}

// TransferResult is the canonical response for transfer operations and the
// payload cached for idempotent replay.
type TransferResult struct {
	TransferID           int64                 `json:"transfer_id"`
	SourceAccountID      int64                 `json:"source_account_id"`
	DestinationAccountID int64                 `json:"destination_account_id"`
	Amount               decimal.Decimal       `json:"amount"`
	Currency             string                `json:"currency"`
	Status               domain.TransferStatus `json:"status"`
	Description          string                `json:"description,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	AuthorizedAt         *time.Time            `json:"authorized_at,omitempty"`
	PostedAt             *time.Time            `json:"posted_at,omitempty"`
	LedgerTxnID          string                `json:"ledger_txn_id,omitempty"`
	IdempotencyKey       string                `json:"idempotency_key,omitempty"`
	CurrentVersion       int64                 `json:"current_version"`
	CorrelationID        string                `json:"correlation_id"`

	// Replayed marks a result served from the idempotency cache rather
	// than a fresh insert. Never cached itself.
	Replayed bool `json:"-"`
}

// Limits are the transfer caps enforced at initiation.
type Limits struct {
	PerTransaction decimal.Decimal
	Daily          decimal.Decimal
}

// Engine drives a transfer through its state machine:
// REQUESTED -> AUTHORIZED -> POSTED, with CANCELLED/REJECTED off-ramps.
// Every mutating operation runs as one transaction: either all of its
// state changes (status, holds, ledger entries, version row, balances)
// become visible together, or none do.
type Engine struct {
	store  store.Store
	gate   *Gate
	ledger *LedgerService
	holds  *HoldService
	idem   *IdempotencyService
	audit  audit.Emitter
	limits Limits
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(s store.Store, gate *Gate, ledger *LedgerService, holds *HoldService,
	idem *IdempotencyService, emitter audit.Emitter, limits Limits, logger *slog.Logger) *Engine {
	return &Engine{
		store:  s,
		gate:   gate,
		ledger: ledger,
		holds:  holds,
		idem:   idem,
		audit:  emitter,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Initiate validates and creates a transfer in REQUESTED state. With an
// idempotency key present, a replayed request returns the cached result
// unchanged except for the correlation id.
func (e *Engine) Initiate(ctx context.Context, req TransferRequest, actor domain.Actor, correlationID string) (result *TransferResult, err error) {
	replayed := false
	defer func() {
		if !replayed {
			e.emitAudit(ctx, actor.UserID, "TRANSFER_REQUEST", resultID(result), correlationID, err)
		}
	}()

	fingerprint := Fingerprint(req.SourceAccountID, req.DestinationAccountID, req.Amount)
	if req.IdempotencyKey != "" {
		rec, cerr := e.idem.Check(ctx, e.store, req.IdempotencyKey, fingerprint)
		if cerr != nil {
			err = cerr
			return nil, err
		}
		if rec != nil {
			var cached TransferResult
			if uerr := json.Unmarshal(rec.ResponseBody, &cached); uerr != nil {
				// Unreadable cache entry; fall through and reprocess.
				e.logger.Error("cached idempotency payload unreadable",
					"key", req.IdempotencyKey, "error", uerr)
			} else {
				e.logger.Info("returning cached response for idempotency key",
					"key", req.IdempotencyKey, "correlation_id", correlationID)
				cached.CorrelationID = correlationID
				cached.Replayed = true
				replayed = true
				return &cached, nil
			}
		}
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err = e.gate.TransferSource(ctx, tx, req.SourceAccountID, actor, correlationID); err != nil {
		return nil, err
	}
	if err = e.gate.TransferDestination(ctx, tx, req.DestinationAccountID, actor, correlationID); err != nil {
		return nil, err
	}

	source, err := tx.GetAccount(ctx, req.SourceAccountID)
	if err != nil {
		return nil, fmt.Errorf("source account %d: %w", req.SourceAccountID, err)
	}
	destination, err := tx.GetAccount(ctx, req.DestinationAccountID)
	if err != nil {
		return nil, fmt.Errorf("destination account %d: %w", req.DestinationAccountID, err)
	}

	if err = validateTransferRequest(req, source, destination); err != nil {
		return nil, err
	}
	if err = e.validateLimits(ctx, tx, req); err != nil {
		return nil, err
	}

	now := e.now()
	transfer := &domain.Transfer{
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Currency:             source.Currency,
		Description:          req.Description,
		Status:               domain.TransferStatusRequested,
		InitiatedBy:          actor.UserID,
		IdempotencyKey:       req.IdempotencyKey,
		CurrentVersion:       1,
		CreatedAt:            now,
	}
	transfer.ID, err = tx.InsertTransfer(ctx, transfer)
	if err != nil {
		return nil, err
	}
	if err = e.writeVersion(ctx, tx, transfer, "Transfer requested", actor.UserID); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	e.logger.Info("transfer initiated",
		"transfer_id", transfer.ID, "amount", transfer.Amount, "correlation_id", correlationID)

	result = resultFrom(transfer, correlationID)
	if req.IdempotencyKey != "" {
		// Best-effort: a failed idempotency write never rolls back the
		// committed transfer.
		payload, merr := json.Marshal(result)
		if merr == nil {
			merr = e.idem.Store(ctx, e.store, req.IdempotencyKey, fingerprint,
				http.StatusCreated, payload, actor.UserID)
		}
		if merr != nil {
			e.logger.Error("failed to store idempotency response",
				"key", req.IdempotencyKey, "error", merr)
		}
	}
	return result, nil
}

func validateTransferRequest(req TransferRequest, source, destination *domain.Account) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", domain.ErrInvalidTransfer)
	}
	if req.SourceAccountID == req.DestinationAccountID {
		return fmt.Errorf("source and destination accounts are the same: %w", domain.ErrInvalidTransfer)
	}
	if source.Status != domain.AccountStatusActive {
		return fmt.Errorf("source account is %s: %w", source.Status, domain.ErrInvalidTransfer)
	}
	if destination.Status != domain.AccountStatusActive {
		return fmt.Errorf("destination account is %s: %w", destination.Status, domain.ErrInvalidTransfer)
	}
	if source.Currency != destination.Currency {
		return fmt.Errorf("currency mismatch between accounts: %w", domain.ErrInvalidTransfer)
	}
	return nil
}

func (e *Engine) validateLimits(ctx context.Context, q store.Queries, req TransferRequest) error {
	if req.Amount.GreaterThan(e.limits.PerTransaction) {
		return &domain.LimitExceededError{
			Code:    domain.LimitCodePerTx,
			Message: fmt.Sprintf("per transaction limit is %s", e.limits.PerTransaction),
		}
	}

	// Same-day aggregate counts the source account's outgoing transfers
	// created since local midnight.
	now := e.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	todaysTotal, err := q.SumOutgoingTransfersSince(ctx, req.SourceAccountID, midnight)
	if err != nil {
		return err
	}
	if todaysTotal.Add(req.Amount).GreaterThan(e.limits.Daily) {
		return &domain.LimitExceededError{
			Code:    domain.LimitCodeDaily,
			Message: fmt.Sprintf("daily limit is %s", e.limits.Daily),
		}
	}
	return nil
}

// Authorize moves a REQUESTED transfer to AUTHORIZED and places a hold for
// the full amount on the source account. Which actors may authorize is
// left to the caller's boundary; the engine records who did.
func (e *Engine) Authorize(ctx context.Context, transferID int64, actor domain.Actor, correlationID string) (result *TransferResult, err error) {
	defer func() {
		e.emitAudit(ctx, actor.UserID, "TRANSFER_AUTHORIZE", transferID, correlationID, err)
	}()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	transfer, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer %d: %w", transferID, err)
	}
	if transfer.Status != domain.TransferStatusRequested {
		return nil, fmt.Errorf("transfer is %s, not REQUESTED: %w", transfer.Status, domain.ErrInvalidTransfer)
	}

	now := e.now()
	authorizer := actor.UserID
	transfer.Status = domain.TransferStatusAuthorized
	transfer.AuthorizedBy = &authorizer
	transfer.AuthorizedAt = &now

	if err = e.holds.Place(ctx, tx, transfer.ID, transfer.SourceAccountID, transfer.Amount); err != nil {
		return nil, err
	}
	if err = e.writeVersion(ctx, tx, transfer, "Transfer authorized", actor.UserID); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	e.logger.Info("transfer authorized", "transfer_id", transferID, "correlation_id", correlationID)
	return resultFrom(transfer, correlationID), nil
}

// Post settles an AUTHORIZED transfer: it re-validates available balance,
// writes the debit/credit pair, releases the hold and marks the transfer
// POSTED. The re-check runs under the source account's row lock; the hold
// prevents the same funds being allocated to two pending transfers, the
// re-check prevents settling past zero.
func (e *Engine) Post(ctx context.Context, transferID int64, actor domain.Actor, correlationID string) (result *TransferResult, err error) {
	defer func() {
		e.emitAudit(ctx, actor.UserID, "TRANSFER_POST", transferID, correlationID, err)
	}()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	transfer, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer %d: %w", transferID, err)
	}
	if transfer.Status != domain.TransferStatusAuthorized {
		return nil, fmt.Errorf("transfer is %s, not AUTHORIZED: %w", transfer.Status, domain.ErrInvalidTransfer)
	}

	// Lock both accounts in ascending id order to avoid deadlocks between
	// concurrent settlements.
	first, second := transfer.SourceAccountID, transfer.DestinationAccountID
	if first > second {
		first, second = second, first
	}
	if _, err = tx.GetAccountForUpdate(ctx, first); err != nil {
		return nil, fmt.Errorf("account %d: %w", first, err)
	}
	if _, err = tx.GetAccountForUpdate(ctx, second); err != nil {
		return nil, fmt.Errorf("account %d: %w", second, err)
	}

	available, err := e.holds.AvailableBalance(ctx, tx, transfer.SourceAccountID)
	if err != nil {
		return nil, err
	}
	if available.LessThan(transfer.Amount) {
		return nil, fmt.Errorf("available balance %s below transfer amount %s: %w",
			available, transfer.Amount, domain.ErrInsufficientFunds)
	}

	ledgerTxnID := NewLedgerTxnID()
	transfer.LedgerTxnID = ledgerTxnID
	if err = e.ledger.PostPair(ctx, tx, ledgerTxnID,
		transfer.SourceAccountID, transfer.DestinationAccountID, transfer.Amount,
		transfer.Description, "TRANSFER", transfer.ID); err != nil {
		return nil, err
	}
	if err = e.holds.Release(ctx, tx, transfer.ID); err != nil {
		return nil, err
	}

	now := e.now()
	transfer.Status = domain.TransferStatusPosted
	transfer.PostedAt = &now
	if err = e.writeVersion(ctx, tx, transfer, "Transfer posted and settled", actor.UserID); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	e.logger.Info("transfer posted",
		"transfer_id", transferID, "ledger_txn_id", ledgerTxnID, "correlation_id", correlationID)
	return resultFrom(transfer, correlationID), nil
}

// Cancel applies the state-dependent cancellation policy: in REQUESTED
// only the initiator may cancel; in AUTHORIZED only a banker or admin may,
// and a reason is mandatory.
func (e *Engine) Cancel(ctx context.Context, transferID int64, reason string, actor domain.Actor, correlationID string) (result *TransferResult, err error) {
	defer func() {
		e.emitAudit(ctx, actor.UserID, "TRANSFER_CANCEL", transferID, correlationID, err)
	}()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	transfer, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer %d: %w", transferID, err)
	}

	switch transfer.Status {
	case domain.TransferStatusPosted:
		return nil, fmt.Errorf("cannot cancel a POSTED transfer: %w", domain.ErrInvalidTransfer)
	case domain.TransferStatusCancelled:
		return nil, fmt.Errorf("transfer is already cancelled: %w", domain.ErrInvalidTransfer)
	case domain.TransferStatusRejected:
		return nil, fmt.Errorf("transfer is already rejected: %w", domain.ErrInvalidTransfer)
	case domain.TransferStatusRequested:
		if transfer.InitiatedBy != actor.UserID {
			e.logger.Warn("cancellation denied: not the requester",
				"transfer_id", transferID, "user_id", actor.UserID, "correlation_id", correlationID)
			return nil, &domain.AccessDeniedError{
				Reason:        "only the requester can cancel a REQUESTED transfer",
				CorrelationID: correlationID,
			}
		}
	case domain.TransferStatusAuthorized:
		if !actor.IsBanker() && !actor.IsAdmin() {
			e.logger.Warn("cancellation denied: requires BANKER or ADMIN",
				"transfer_id", transferID, "user_id", actor.UserID, "correlation_id", correlationID)
			return nil, &domain.AccessDeniedError{
				Reason:        "only BANKER or ADMIN can cancel an AUTHORIZED transfer",
				CorrelationID: correlationID,
			}
		}
		if strings.TrimSpace(reason) == "" {
			return nil, fmt.Errorf("a reason is required to cancel an AUTHORIZED transfer: %w", domain.ErrInvalidTransfer)
		}
	}

	if err = e.holds.Release(ctx, tx, transfer.ID); err != nil {
		return nil, err
	}
	transfer.Status = domain.TransferStatusCancelled

	summary := "Transfer cancelled"
	if r := strings.TrimSpace(reason); r != "" {
		summary += ": " + r
	}
	if err = e.writeVersion(ctx, tx, transfer, summary, actor.UserID); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	e.logger.Info("transfer cancelled",
		"transfer_id", transferID, "reason", reason, "cancelled_by", actor.UserID,
		"correlation_id", correlationID)
	return resultFrom(transfer, correlationID), nil
}

// Revert copies source/destination/amount/description back from a retained
// version. Settled transfers are immutable.
func (e *Engine) Revert(ctx context.Context, transferID, versionID int64, actor domain.Actor, correlationID string) (result *TransferResult, err error) {
	defer func() {
		e.emitAudit(ctx, actor.UserID, "TRANSFER_REVERT", transferID, correlationID, err)
	}()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	transfer, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer %d: %w", transferID, err)
	}
	if transfer.Status == domain.TransferStatusPosted {
		return nil, fmt.Errorf("cannot revert a POSTED transfer: %w", domain.ErrInvalidTransfer)
	}

	version, err := tx.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("transfer version %d: %w", versionID, err)
	}
	if version.TransferID != transferID {
		return nil, fmt.Errorf("version does not belong to this transfer: %w", domain.ErrInvalidTransfer)
	}

	// Accounts are re-resolved; the snapshot may reference ones since
	// removed.
	if _, err = tx.GetAccount(ctx, version.SourceAccountID); err != nil {
		return nil, fmt.Errorf("source account %d: %w", version.SourceAccountID, err)
	}
	if _, err = tx.GetAccount(ctx, version.DestinationAccountID); err != nil {
		return nil, fmt.Errorf("destination account %d: %w", version.DestinationAccountID, err)
	}

	transfer.SourceAccountID = version.SourceAccountID
	transfer.DestinationAccountID = version.DestinationAccountID
	transfer.Amount = version.Amount
	transfer.Description = version.Description
	transfer.InitiatedBy = actor.UserID

	summary := fmt.Sprintf("Reverted to version #%d", version.VersionNumber)
	if err = e.writeVersion(ctx, tx, transfer, summary, actor.UserID); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	e.logger.Info("transfer reverted",
		"transfer_id", transferID, "version_id", versionID, "correlation_id", correlationID)
	return resultFrom(transfer, correlationID), nil
}

// GetStatus returns the current view of a transfer.
func (e *Engine) GetStatus(ctx context.Context, transferID int64, correlationID string) (*TransferResult, error) {
	transfer, err := e.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer %d: %w", transferID, err)
	}
	return resultFrom(transfer, correlationID), nil
}

// VersionHistory returns retained versions, most recent first. At most 10
// entries exist by construction.
func (e *Engine) VersionHistory(ctx context.Context, transferID int64) ([]domain.TransferVersion, error) {
	if _, err := e.store.GetTransfer(ctx, transferID); err != nil {
		return nil, fmt.Errorf("transfer %d: %w", transferID, err)
	}
	return e.store.VersionsByTransfer(ctx, transferID)
}

// TransfersByAccount lists transfers touching the account, newest first.
func (e *Engine) TransfersByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transfer, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}
	return e.store.TransfersByAccount(ctx, accountID, limit, offset)
}

// writeVersion appends a snapshot, advances the transfer's current version
// and persists the transfer, then prunes history past the cap. Version
// numbers are never reused.
func (e *Engine) writeVersion(ctx context.Context, q store.Queries, t *domain.Transfer, summary string, userID int64) error {
	max, err := q.MaxVersionNumber(ctx, t.ID)
	if err != nil {
		return err
	}
	next := max + 1

	version := &domain.TransferVersion{
		TransferID:           t.ID,
		VersionNumber:        next,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount,
		Description:          t.Description,
		ChangedBy:            userID,
		ChangeSummary:        summary,
		CreatedAt:            e.now(),
	}
	if _, err := q.InsertVersion(ctx, version); err != nil {
		return err
	}

	t.CurrentVersion = next
	if err := q.UpdateTransfer(ctx, t); err != nil {
		return err
	}
	return q.PruneVersions(ctx, t.ID, maxRetainedVersions)
}

func (e *Engine) emitAudit(ctx context.Context, actorID int64, action string, entityID int64, correlationID string, opErr error) {
	outcome := audit.OutcomeSuccess
	switch {
	case errors.Is(opErr, domain.ErrAccessDenied):
		outcome = audit.OutcomeDenied
	case opErr != nil:
		outcome = audit.OutcomeFailure
	}
	event := audit.Event{
		ActorID:       actorID,
		Action:        action,
		EntityType:    "TRANSFER",
		EntityID:      entityID,
		CorrelationID: correlationID,
		Outcome:       outcome,
		At:            e.now(),
	}
	// Audit emission is non-fatal.
	if err := e.audit.Emit(ctx, event); err != nil {
		e.logger.Error("audit emit failed", "action", action, "entity_id", entityID, "error", err)
	}
}

func resultFrom(t *domain.Transfer, correlationID string) *TransferResult {
	return &TransferResult{
		TransferID:           t.ID,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount,
		Currency:             t.Currency,
		Status:               t.Status,
		Description:          t.Description,
		CreatedAt:            t.CreatedAt,
		AuthorizedAt:         t.AuthorizedAt,
		PostedAt:             t.PostedAt,
		LedgerTxnID:          t.LedgerTxnID,
		IdempotencyKey:       t.IdempotencyKey,
		CurrentVersion:       t.CurrentVersion,
		CorrelationID:        correlationID,
	}
}

func resultID(r *TransferResult) int64 {
	if r == nil {
		return 0
	}
	return r.TransferID
}
