package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

func newGateFixture(t *testing.T) (*Gate, *store.MemStore, int64) {
	t.Helper()
	st := store.NewMemStore()
	st.PutCustomer(1, 100)
	st.PutBanker(20, 200)

	bankerID := int64(20)
	accountID, err := st.CreateAccount(context.Background(), &domain.Account{
		AccountNumber: "ACC-1", CustomerID: 1, BankerID: &bankerID,
		Type: domain.AccountTypeSavings, Status: domain.AccountStatusActive,
		Currency: "USD", Balance: decimal.Zero, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return NewGate(testLogger()), st, accountID
}

func TestGateResolvesOwnership(t *testing.T) {
	gate, st, accountID := newGateFixture(t)
	ctx := context.Background()

	owner := domain.Actor{UserID: 100, Roles: []string{domain.RoleCustomer}}
	assert.NoError(t, gate.ViewAccount(ctx, st, accountID, owner, "c"))
	assert.NoError(t, gate.UpdateAccount(ctx, st, accountID, owner, "c"))

	// Ownership without a DELETE grant is not enough.
	err := gate.DeleteAccount(ctx, st, accountID, owner, "c")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = st.InsertACL(ctx, &domain.AccessControlEntry{
		AccountID: accountID, UserID: 100, Permission: domain.PermissionDelete, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, gate.DeleteAccount(ctx, st, accountID, owner, "c"))
}

func TestGateResolvesACLGrants(t *testing.T) {
	gate, st, accountID := newGateFixture(t)
	ctx := context.Background()
	st.PutCustomer(2, 101)

	other := domain.Actor{UserID: 101, Roles: []string{domain.RoleCustomer}}
	err := gate.ViewAccount(ctx, st, accountID, other, "corr-7")
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "corr-7", denied.CorrelationID)

	_, err = st.InsertACL(ctx, &domain.AccessControlEntry{
		AccountID: accountID, UserID: 101, Permission: domain.PermissionView, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, gate.ViewAccount(ctx, st, accountID, other, "c"))

	// A VIEW grant does not extend to updates.
	err = gate.UpdateAccount(ctx, st, accountID, other, "c")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestGateResolvesBankerAssignment(t *testing.T) {
	gate, st, accountID := newGateFixture(t)
	ctx := context.Background()

	assigned := domain.Actor{UserID: 200, Roles: []string{domain.RoleBanker}}
	assert.NoError(t, gate.ViewAccount(ctx, st, accountID, assigned, "c"))
	assert.NoError(t, gate.TransferSource(ctx, st, accountID, assigned, "c"))

	st.PutBanker(21, 201)
	unassigned := domain.Actor{UserID: 201, Roles: []string{domain.RoleBanker}}
	err := gate.ViewAccount(ctx, st, accountID, unassigned, "c")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestGateCustomerWithoutRecord(t *testing.T) {
	gate, st, accountID := newGateFixture(t)
	ctx := context.Background()

	ghost := domain.Actor{UserID: 999, Roles: []string{domain.RoleCustomer}}
	err := gate.ViewAccount(ctx, st, accountID, ghost, "c")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestGateUnknownAccountIsNotFound(t *testing.T) {
	gate, st, _ := newGateFixture(t)
	err := gate.ViewAccount(context.Background(), st, 9999, adminActor, "c")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
