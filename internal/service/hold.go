package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

// HoldService tracks funds reserved against a source account between
// authorization and settlement or cancellation. Concurrent holds on the
// same account accumulate; there is no merging.
type HoldService struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewHoldService(logger *slog.Logger) *HoldService {
	return &HoldService{logger: logger, now: time.Now}
}

// Place inserts an un-released hold. No upper bound is enforced here;
// callers check available balance before calling.
func (s *HoldService) Place(ctx context.Context, q store.Queries, transferID, accountID int64, amount decimal.Decimal) error {
	hold := domain.TransferHold{
		TransferID: transferID,
		AccountID:  accountID,
		Amount:     amount,
		CreatedAt:  s.now(),
	}
	if _, err := q.InsertHold(ctx, &hold); err != nil {
		return err
	}
	s.logger.Debug("hold placed", "transfer_id", transferID, "account_id", accountID, "amount", amount)
	return nil
}

// Release marks every un-released hold for the transfer as released.
// Calling it twice is a no-op the second time, never an error.
func (s *HoldService) Release(ctx context.Context, q store.Queries, transferID int64) error {
	if err := q.ReleaseHolds(ctx, transferID, s.now()); err != nil {
		return err
	}
	s.logger.Debug("holds released", "transfer_id", transferID)
	return nil
}

// AvailableBalance is the cached balance minus the sum of un-released
// holds. The caller is expected to hold the account row lock when the
// result guards a settlement.
func (s *HoldService) AvailableBalance(ctx context.Context, q store.Queries, accountID int64) (decimal.Decimal, error) {
	account, err := q.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account %d: %w", accountID, err)
	}
	held, err := q.SumActiveHolds(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance.Sub(held), nil
}
