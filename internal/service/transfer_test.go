package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/accountsvc/internal/audit"
	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var adminActor = domain.Actor{UserID: 900, Roles: []string{domain.RoleAdmin}}

type fixture struct {
	t      *testing.T
	store  *store.MemStore
	engine *Engine
	rec    *audit.Recorder
	gate   *Gate
	ledger *LedgerService
	holds  *HoldService
	idem   *IdempotencyService
}

func newFixture(t *testing.T) *fixture {
	logger := testLogger()
	st := store.NewMemStore()
	gate := NewGate(logger)
	ledger := NewLedgerService(logger)
	holds := NewHoldService(logger)
	idem := NewIdempotencyService(24*time.Hour, logger)
	rec := audit.NewRecorder()
	limits := Limits{
		PerTransaction: decimal.RequireFromString("100000.00"),
		Daily:          decimal.RequireFromString("500000.00"),
	}
	engine := NewEngine(st, gate, ledger, holds, idem, rec, limits, logger)
	return &fixture{t: t, store: st, engine: engine, rec: rec,
		gate: gate, ledger: ledger, holds: holds, idem: idem}
}

func (f *fixture) newAccount(customerID int64, balance string) int64 {
	f.t.Helper()
	id, err := f.store.CreateAccount(context.Background(), &domain.Account{
		AccountNumber: fmt.Sprintf("ACC-%06d", customerID),
		CustomerID:    customerID,
		Type:          domain.AccountTypeSavings,
		Status:        domain.AccountStatusActive,
		Currency:      "USD",
		Balance:       decimal.RequireFromString(balance),
		CreatedAt:     time.Now(),
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) initiate(amount string, src, dst int64, actor domain.Actor, key string) (*TransferResult, error) {
	return f.engine.Initiate(context.Background(), TransferRequest{
		SourceAccountID:      src,
		DestinationAccountID: dst,
		Amount:               decimal.RequireFromString(amount),
		Description:          "rent",
		IdempotencyKey:       key,
	}, actor, "corr-1")
}

func TestTransferLifecycleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("400.00", src, dst, adminActor, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRequested, res.Status)
	assert.Equal(t, int64(1), res.CurrentVersion)
	assert.Equal(t, "USD", res.Currency)

	res, err = f.engine.Authorize(ctx, res.TransferID, adminActor, "corr-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusAuthorized, res.Status)

	held, err := f.store.SumActiveHolds(ctx, src)
	require.NoError(t, err)
	assert.True(t, held.Equal(decimal.RequireFromString("400.00")), "held %s", held)

	available, err := f.holds.AvailableBalance(ctx, f.store, src)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.RequireFromString("600.00")), "available %s", available)

	res, err = f.engine.Post(ctx, res.TransferID, adminActor, "corr-3")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusPosted, res.Status)
	assert.True(t, strings.HasPrefix(res.LedgerTxnID, "LTX"))
	require.NotNil(t, res.PostedAt)

	// Double entry: exactly one debit and one credit, summing to zero.
	entries, err := f.ledger.EntriesByTxnID(ctx, f.store, res.LedgerTxnID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Signed())
	}
	assert.True(t, sum.IsZero(), "entries sum to %s", sum)

	srcAcc, err := f.store.GetAccount(ctx, src)
	require.NoError(t, err)
	dstAcc, err := f.store.GetAccount(ctx, dst)
	require.NoError(t, err)
	assert.True(t, srcAcc.Balance.Equal(decimal.RequireFromString("600.00")))
	assert.True(t, dstAcc.Balance.Equal(decimal.RequireFromString("400.00")))

	// Holds are released on settlement.
	held, err = f.store.SumActiveHolds(ctx, src)
	require.NoError(t, err)
	assert.True(t, held.IsZero())

	versions, err := f.engine.VersionHistory(ctx, res.TransferID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, int64(3), versions[0].VersionNumber)
	assert.Equal(t, "Transfer posted and settled", versions[0].ChangeSummary)
	assert.Equal(t, "Transfer requested", versions[2].ChangeSummary)

	events := f.rec.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "TRANSFER_REQUEST", events[0].Action)
	assert.Equal(t, "TRANSFER_AUTHORIZE", events[1].Action)
	assert.Equal(t, "TRANSFER_POST", events[2].Action)
	for _, e := range events {
		assert.Equal(t, audit.OutcomeSuccess, e.Outcome)
		assert.Equal(t, res.TransferID, e.EntityID)
	}
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	_, err := f.initiate("0.00", src, dst, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	_, err = f.initiate("-5.00", src, dst, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	_, err = f.initiate("10.00", src, src, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	_, err = f.initiate("10.00", src, 9999, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.initiate("10.00", 9999, dst, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInitiateRejectsInactiveAndMismatchedAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")

	frozen, err := f.store.CreateAccount(ctx, &domain.Account{
		AccountNumber: "ACC-FROZEN", CustomerID: 2,
		Type: domain.AccountTypeSavings, Status: domain.AccountStatusFrozen,
		Currency: "USD", Balance: decimal.Zero, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = f.initiate("10.00", src, frozen, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
	_, err = f.initiate("10.00", frozen, src, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	euro, err := f.store.CreateAccount(ctx, &domain.Account{
		AccountNumber: "ACC-EUR", CustomerID: 3,
		Type: domain.AccountTypeCurrent, Status: domain.AccountStatusActive,
		Currency: "EUR", Balance: decimal.Zero, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = f.initiate("10.00", src, euro, adminActor, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
}

func TestInitiateLimits(t *testing.T) {
	f := newFixture(t)
	f.engine.limits = Limits{
		PerTransaction: decimal.RequireFromString("1000.00"),
		Daily:          decimal.RequireFromString("1500.00"),
	}
	src := f.newAccount(1, "100000.00")
	dst := f.newAccount(2, "0.00")

	_, err := f.initiate("1000.01", src, dst, adminActor, "")
	var limitErr *domain.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, domain.LimitCodePerTx, limitErr.Code)
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	_, err = f.initiate("800.00", src, dst, adminActor, "")
	require.NoError(t, err)

	_, err = f.initiate("800.00", src, dst, adminActor, "")
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, domain.LimitCodeDaily, limitErr.Code)

	// The rejected attempt must not count against the aggregate.
	_, err = f.initiate("700.00", src, dst, adminActor, "")
	require.NoError(t, err)
}

func TestInitiateIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	first, err := f.initiate("100.00", src, dst, adminActor, "key-1")
	require.NoError(t, err)

	replay, err := f.engine.Initiate(context.Background(), TransferRequest{
		SourceAccountID:      src,
		DestinationAccountID: dst,
		Amount:               decimal.RequireFromString("100.00"),
		Description:          "rent",
		IdempotencyKey:       "key-1",
	}, adminActor, "corr-replay")
	require.NoError(t, err)
	assert.Equal(t, first.TransferID, replay.TransferID)
	assert.Equal(t, "corr-replay", replay.CorrelationID)
	assert.False(t, first.Replayed)
	assert.True(t, replay.Replayed)

	// Only one transfer exists.
	transfers, err := f.engine.TransfersByAccount(context.Background(), src, 50, 0)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
}

func TestInitiateIdempotencyConflict(t *testing.T) {
	f := newFixture(t)
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	_, err := f.initiate("100.00", src, dst, adminActor, "key-1")
	require.NoError(t, err)

	_, err = f.initiate("250.00", src, dst, adminActor, "key-1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestAuthorizeRequiresRequestedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, res.TransferID, adminActor, "c")
	require.NoError(t, err)

	_, err = f.engine.Authorize(ctx, res.TransferID, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	_, err = f.engine.Authorize(ctx, 9999, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostRequiresAuthorizedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)

	_, err = f.engine.Post(ctx, res.TransferID, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
}

func TestPostInsufficientFundsAfterCompetingSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	// Settlement must clear the amount over every outstanding hold, the
	// poster's own included. 1000 covers 250 with 650 held in total; once
	// that settles, 750 no longer covers 400 with 400 still held.
	first, err := f.initiate("250.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, first.TransferID, adminActor, "c")
	require.NoError(t, err)

	second, err := f.initiate("400.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, second.TransferID, adminActor, "c")
	require.NoError(t, err)

	_, err = f.engine.Post(ctx, first.TransferID, adminActor, "c")
	require.NoError(t, err)

	_, err = f.engine.Post(ctx, second.TransferID, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	got, err := f.engine.GetStatus(ctx, second.TransferID, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusAuthorized, got.Status)
}

func TestPostRejectsOverAllocatedHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	// Authorization never rejects, so holds of 700 + 500 can pile up
	// against a 1000 balance. Neither transfer can then settle.
	first, err := f.initiate("700.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, first.TransferID, adminActor, "c")
	require.NoError(t, err)

	second, err := f.initiate("500.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, second.TransferID, adminActor, "c")
	require.NoError(t, err)

	_, err = f.engine.Post(ctx, first.TransferID, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = f.engine.Post(ctx, second.TransferID, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	for _, id := range []int64{first.TransferID, second.TransferID} {
		got, err := f.engine.GetStatus(ctx, id, "c")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusAuthorized, got.Status)
	}
}

func TestCancelRequestedOnlyByInitiator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutCustomer(10, 100)
	src := f.newAccount(10, "1000.00")
	dst := f.newAccount(11, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)

	stranger := domain.Actor{UserID: 777, Roles: []string{domain.RoleCustomer}}
	_, err = f.engine.Cancel(ctx, res.TransferID, "", stranger, "c")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	res, err = f.engine.Cancel(ctx, res.TransferID, "", adminActor, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCancelled, res.Status)

	_, err = f.engine.Cancel(ctx, res.TransferID, "", adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
}

func TestCancelAuthorizedNeedsBankerAndReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, res.TransferID, adminActor, "c")
	require.NoError(t, err)

	customer := domain.Actor{UserID: 555, Roles: []string{domain.RoleCustomer}}
	_, err = f.engine.Cancel(ctx, res.TransferID, "changed my mind", customer, "c")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	banker := domain.Actor{UserID: 901, Roles: []string{domain.RoleBanker}}
	_, err = f.engine.Cancel(ctx, res.TransferID, "  ", banker, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	res, err = f.engine.Cancel(ctx, res.TransferID, "suspected fraud", banker, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCancelled, res.Status)

	// The hold is released with the cancellation.
	held, err := f.store.SumActiveHolds(ctx, src)
	require.NoError(t, err)
	assert.True(t, held.IsZero())

	versions, err := f.engine.VersionHistory(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, "Transfer cancelled: suspected fraud", versions[0].ChangeSummary)
}

func TestCancelPostedIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, res.TransferID, adminActor, "c")
	require.NoError(t, err)
	_, err = f.engine.Post(ctx, res.TransferID, adminActor, "c")
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, res.TransferID, "too late", adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
}

func TestRevertRestoresSnapshotFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)

	versions, err := f.engine.VersionHistory(ctx, res.TransferID)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	other := domain.Actor{UserID: 901, Roles: []string{domain.RoleAdmin}}
	res, err = f.engine.Revert(ctx, res.TransferID, versions[0].ID, other, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CurrentVersion)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("100.00")))

	// The reverting actor becomes the initiator of record.
	got, err := f.store.GetTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, other.UserID, got.InitiatedBy)

	history, err := f.engine.VersionHistory(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, "Reverted to version #1", history[0].ChangeSummary)
}

func TestRevertRejectsPostedAndForeignVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	first, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)
	second, err := f.initiate("200.00", src, dst, adminActor, "")
	require.NoError(t, err)

	// A version belonging to another transfer is rejected.
	secondVersions, err := f.engine.VersionHistory(ctx, second.TransferID)
	require.NoError(t, err)
	_, err = f.engine.Revert(ctx, first.TransferID, secondVersions[0].ID, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	_, err = f.engine.Authorize(ctx, first.TransferID, adminActor, "c")
	require.NoError(t, err)
	_, err = f.engine.Post(ctx, first.TransferID, adminActor, "c")
	require.NoError(t, err)

	firstVersions, err := f.engine.VersionHistory(ctx, first.TransferID)
	require.NoError(t, err)
	_, err = f.engine.Revert(ctx, first.TransferID, firstVersions[0].ID, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
}

func TestVersionHistoryCapAtTen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)

	// 11 reverts push the version count to 12; only the latest 10 survive.
	for i := 0; i < 11; i++ {
		versions, err := f.engine.VersionHistory(ctx, res.TransferID)
		require.NoError(t, err)
		_, err = f.engine.Revert(ctx, res.TransferID, versions[0].ID, adminActor, "c")
		require.NoError(t, err)
	}

	got, err := f.store.GetTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.CurrentVersion)

	versions, err := f.engine.VersionHistory(ctx, res.TransferID)
	require.NoError(t, err)
	require.Len(t, versions, 10)
	assert.Equal(t, int64(12), versions[0].VersionNumber)
	assert.Equal(t, int64(3), versions[9].VersionNumber)
}

func TestInitiateCustomerGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutCustomer(10, 100)
	f.store.PutCustomer(11, 101)
	src := f.newAccount(10, "1000.00")
	dst := f.newAccount(11, "0.00")

	owner := domain.Actor{UserID: 100, Roles: []string{domain.RoleCustomer}}

	// Ownership alone is not enough to move money out; the TRANSFER grant
	// is required as well.
	_, err := f.initiate("50.00", src, dst, owner, "")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "corr-1", denied.CorrelationID)

	_, err = f.store.InsertACL(ctx, &domain.AccessControlEntry{
		AccountID: src, UserID: 100, Permission: domain.PermissionTransfer, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	res, err := f.initiate("50.00", src, dst, owner, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRequested, res.Status)

	// A denial leaves an audit trail.
	events := f.rec.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.OutcomeDenied, events[0].Outcome)
}

func TestFailedPostLeavesHoldIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newAccount(1, "1000.00")
	dst := f.newAccount(2, "0.00")

	res, err := f.initiate("100.00", src, dst, adminActor, "")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, res.TransferID, adminActor, "c")
	require.NoError(t, err)

	_, err = f.engine.Post(ctx, 9999, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	held, err := f.store.SumActiveHolds(ctx, src)
	require.NoError(t, err)
	assert.True(t, held.Equal(decimal.RequireFromString("100.00")))
}
