package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/domain"
)

// Queries is the data access surface shared by the pooled store and an open
// transaction. Services take a Queries so the same code path runs inside or
// outside a transaction.
type Queries interface {
	// Accounts
	CreateAccount(ctx context.Context, acc *domain.Account) (int64, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	// GetAccountForUpdate locks the account row for the duration of the
	// enclosing transaction. Callers must lock accounts in ascending id
	// order to avoid deadlocks.
	GetAccountForUpdate(ctx context.Context, id int64) (*domain.Account, error)
	AddToBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error

	// Ledger (append-only)
	InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (int64, error)
	SumLedgerEntries(ctx context.Context, accountID int64) (decimal.Decimal, error)
	LedgerEntriesByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.LedgerEntry, error)
	LedgerEntriesByTxnID(ctx context.Context, ledgerTxnID string) ([]domain.LedgerEntry, error)

	// Transfers
	InsertTransfer(ctx context.Context, t *domain.Transfer) (int64, error)
	GetTransfer(ctx context.Context, id int64) (*domain.Transfer, error)
	GetTransferForUpdate(ctx context.Context, id int64) (*domain.Transfer, error)
	UpdateTransfer(ctx context.Context, t *domain.Transfer) error
	TransfersByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transfer, error)
	SumOutgoingTransfersSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error)

	// Holds
	InsertHold(ctx context.Context, h *domain.TransferHold) (int64, error)
	HoldsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferHold, error)
	// ReleaseHolds marks every un-released hold for the transfer as
	// released. Calling it again is a no-op.
	ReleaseHolds(ctx context.Context, transferID int64, at time.Time) error
	SumActiveHolds(ctx context.Context, accountID int64) (decimal.Decimal, error)

	// Transfer versions
	InsertVersion(ctx context.Context, v *domain.TransferVersion) (int64, error)
	MaxVersionNumber(ctx context.Context, transferID int64) (int64, error)
	VersionsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferVersion, error)
	GetVersion(ctx context.Context, versionID int64) (*domain.TransferVersion, error)
	PruneVersions(ctx context.Context, transferID int64, keep int) error

	// Idempotency
	GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	UpsertIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error
	DeleteExpiredIdempotencyRecords(ctx context.Context, cutoff time.Time) (int64, error)

	// Identity lookups consumed by the authorization gate
	CustomerIDForUser(ctx context.Context, userID int64) (int64, error)
	IsBankerAssignedToAccount(ctx context.Context, userID, accountID int64) (bool, error)
	IsBankerAssignedToCustomer(ctx context.Context, userID, customerID int64) (bool, error)

	// ACL
	GetACL(ctx context.Context, accountID, userID int64) (*domain.AccessControlEntry, error)
	GetACLByID(ctx context.Context, aclID int64) (*domain.AccessControlEntry, error)
	ACLsByAccount(ctx context.Context, accountID int64) ([]domain.AccessControlEntry, error)
	InsertACL(ctx context.Context, e *domain.AccessControlEntry) (int64, error)
	UpdateACLPermission(ctx context.Context, aclID int64, p domain.Permission) error
	DeleteACL(ctx context.Context, aclID int64) error
}

// Tx is an open transaction. Rollback after Commit is a no-op, so callers
// can `defer tx.Rollback(ctx)` unconditionally.
type Tx interface {
	Queries
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Store interface {
	Queries
	Begin(ctx context.Context) (Tx, error)
	Close()
}
