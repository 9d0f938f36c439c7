package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/domain"
)

// Queries shells. MemStore methods take the store lock per call; memTx
// methods run with the lock already held by Begin.

func (s *MemStore) CreateAccount(ctx context.Context, acc *domain.Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createAccount(acc)
}

func (s *MemStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getAccount(id)
}

func (s *MemStore) GetAccountForUpdate(ctx context.Context, id int64) (*domain.Account, error) {
	return s.GetAccount(ctx, id)
}

func (s *MemStore) AddToBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.addToBalance(accountID, delta)
}

func (s *MemStore) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.insertLedgerEntry(e)
}

func (s *MemStore) SumLedgerEntries(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.sumLedgerEntries(accountID)
}

func (s *MemStore) LedgerEntriesByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.ledgerEntriesByAccount(accountID, limit, offset)
}

func (s *MemStore) LedgerEntriesByTxnID(ctx context.Context, ledgerTxnID string) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.ledgerEntriesByTxnID(ledgerTxnID)
}

func (s *MemStore) InsertTransfer(ctx context.Context, t *domain.Transfer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.insertTransfer(t)
}

func (s *MemStore) GetTransfer(ctx context.Context, id int64) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getTransfer(id)
}

func (s *MemStore) GetTransferForUpdate(ctx context.Context, id int64) (*domain.Transfer, error) {
	return s.GetTransfer(ctx, id)
}

func (s *MemStore) UpdateTransfer(ctx context.Context, t *domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.updateTransfer(t)
}

func (s *MemStore) TransfersByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.transfersByAccount(accountID, limit, offset)
}

func (s *MemStore) SumOutgoingTransfersSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.sumOutgoingTransfersSince(accountID, since)
}

func (s *MemStore) InsertHold(ctx context.Context, h *domain.TransferHold) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.insertHold(h)
}

func (s *MemStore) HoldsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.holdsByTransfer(transferID)
}

func (s *MemStore) ReleaseHolds(ctx context.Context, transferID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.releaseHolds(transferID, at)
}

func (s *MemStore) SumActiveHolds(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.sumActiveHolds(accountID)
}

func (s *MemStore) InsertVersion(ctx context.Context, v *domain.TransferVersion) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.insertVersion(v)
}

func (s *MemStore) MaxVersionNumber(ctx context.Context, transferID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.maxVersionNumber(transferID)
}

func (s *MemStore) VersionsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.versionsByTransfer(transferID)
}

func (s *MemStore) GetVersion(ctx context.Context, versionID int64) (*domain.TransferVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getVersion(versionID)
}

func (s *MemStore) PruneVersions(ctx context.Context, transferID int64, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.pruneVersions(transferID, keep)
}

func (s *MemStore) GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getIdempotencyRecord(key)
}

func (s *MemStore) UpsertIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.upsertIdempotencyRecord(rec)
}

func (s *MemStore) DeleteExpiredIdempotencyRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.deleteExpiredIdempotencyRecords(cutoff)
}

func (s *MemStore) CustomerIDForUser(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.customerIDForUser(userID)
}

func (s *MemStore) IsBankerAssignedToAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.isBankerAssignedToAccount(userID, accountID)
}

func (s *MemStore) IsBankerAssignedToCustomer(ctx context.Context, userID, customerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.isBankerAssignedToCustomer(userID, customerID)
}

func (s *MemStore) GetACL(ctx context.Context, accountID, userID int64) (*domain.AccessControlEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getACL(accountID, userID)
}

func (s *MemStore) GetACLByID(ctx context.Context, aclID int64) (*domain.AccessControlEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getACLByID(aclID)
}

func (s *MemStore) ACLsByAccount(ctx context.Context, accountID int64) ([]domain.AccessControlEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.aclsByAccount(accountID)
}

func (s *MemStore) InsertACL(ctx context.Context, e *domain.AccessControlEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.insertACL(e)
}

func (s *MemStore) UpdateACLPermission(ctx context.Context, aclID int64, p domain.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.updateACLPermission(aclID, p)
}

func (s *MemStore) DeleteACL(ctx context.Context, aclID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.deleteACL(aclID)
}

// memTx shells.

func (t *memTx) CreateAccount(ctx context.Context, acc *domain.Account) (int64, error) {
	return t.s.d.createAccount(acc)
}

func (t *memTx) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return t.s.d.getAccount(id)
}

func (t *memTx) GetAccountForUpdate(ctx context.Context, id int64) (*domain.Account, error) {
	return t.s.d.getAccount(id)
}

func (t *memTx) AddToBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	return t.s.d.addToBalance(accountID, delta)
}

func (t *memTx) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (int64, error) {
	return t.s.d.insertLedgerEntry(e)
}

func (t *memTx) SumLedgerEntries(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	return t.s.d.sumLedgerEntries(accountID)
}

func (t *memTx) LedgerEntriesByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.LedgerEntry, error) {
	return t.s.d.ledgerEntriesByAccount(accountID, limit, offset)
}

func (t *memTx) LedgerEntriesByTxnID(ctx context.Context, ledgerTxnID string) ([]domain.LedgerEntry, error) {
	return t.s.d.ledgerEntriesByTxnID(ledgerTxnID)
}

func (t *memTx) InsertTransfer(ctx context.Context, tr *domain.Transfer) (int64, error) {
	return t.s.d.insertTransfer(tr)
}

func (t *memTx) GetTransfer(ctx context.Context, id int64) (*domain.Transfer, error) {
	return t.s.d.getTransfer(id)
}

func (t *memTx) GetTransferForUpdate(ctx context.Context, id int64) (*domain.Transfer, error) {
	return t.s.d.getTransfer(id)
}

func (t *memTx) UpdateTransfer(ctx context.Context, tr *domain.Transfer) error {
	return t.s.d.updateTransfer(tr)
}

func (t *memTx) TransfersByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transfer, error) {
	return t.s.d.transfersByAccount(accountID, limit, offset)
}

func (t *memTx) SumOutgoingTransfersSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error) {
	return t.s.d.sumOutgoingTransfersSince(accountID, since)
}

func (t *memTx) InsertHold(ctx context.Context, h *domain.TransferHold) (int64, error) {
	return t.s.d.insertHold(h)
}

func (t *memTx) HoldsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferHold, error) {
	return t.s.d.holdsByTransfer(transferID)
}

func (t *memTx) ReleaseHolds(ctx context.Context, transferID int64, at time.Time) error {
	return t.s.d.releaseHolds(transferID, at)
}

func (t *memTx) SumActiveHolds(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	return t.s.d.sumActiveHolds(accountID)
}

func (t *memTx) InsertVersion(ctx context.Context, v *domain.TransferVersion) (int64, error) {
	return t.s.d.insertVersion(v)
}

func (t *memTx) MaxVersionNumber(ctx context.Context, transferID int64) (int64, error) {
	return t.s.d.maxVersionNumber(transferID)
}

func (t *memTx) VersionsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferVersion, error) {
	return t.s.d.versionsByTransfer(transferID)
}

func (t *memTx) GetVersion(ctx context.Context, versionID int64) (*domain.TransferVersion, error) {
	return t.s.d.getVersion(versionID)
}

func (t *memTx) PruneVersions(ctx context.Context, transferID int64, keep int) error {
	return t.s.d.pruneVersions(transferID, keep)
}

func (t *memTx) GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	return t.s.d.getIdempotencyRecord(key)
}

func (t *memTx) UpsertIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	return t.s.d.upsertIdempotencyRecord(rec)
}

func (t *memTx) DeleteExpiredIdempotencyRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	return t.s.d.deleteExpiredIdempotencyRecords(cutoff)
}

func (t *memTx) CustomerIDForUser(ctx context.Context, userID int64) (int64, error) {
	return t.s.d.customerIDForUser(userID)
}

func (t *memTx) IsBankerAssignedToAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	return t.s.d.isBankerAssignedToAccount(userID, accountID)
}

func (t *memTx) IsBankerAssignedToCustomer(ctx context.Context, userID, customerID int64) (bool, error) {
	return t.s.d.isBankerAssignedToCustomer(userID, customerID)
}

func (t *memTx) GetACL(ctx context.Context, accountID, userID int64) (*domain.AccessControlEntry, error) {
	return t.s.d.getACL(accountID, userID)
}

func (t *memTx) GetACLByID(ctx context.Context, aclID int64) (*domain.AccessControlEntry, error) {
	return t.s.d.getACLByID(aclID)
}

func (t *memTx) ACLsByAccount(ctx context.Context, accountID int64) ([]domain.AccessControlEntry, error) {
	return t.s.d.aclsByAccount(accountID)
}

func (t *memTx) InsertACL(ctx context.Context, e *domain.AccessControlEntry) (int64, error) {
	return t.s.d.insertACL(e)
}

func (t *memTx) UpdateACLPermission(ctx context.Context, aclID int64, p domain.Permission) error {
	return t.s.d.updateACLPermission(aclID, p)
}

func (t *memTx) DeleteACL(ctx context.Context, aclID int64) error {
	return t.s.d.deleteACL(aclID)
}

var (
	_ Store = (*MemStore)(nil)
	_ Tx    = (*memTx)(nil)
	_ Store = (*PgStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
