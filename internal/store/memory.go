package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/domain"
)

// MemStore is an in-memory Store with the same semantics as the postgres
// implementation. It backs unit tests and local development; a transaction
// holds the store lock and rolls back by restoring a snapshot.
type MemStore struct {
	mu sync.Mutex
	d  *memData
}

type memData struct {
	accounts    map[int64]domain.Account
	transfers   map[int64]domain.Transfer
	entries     []domain.LedgerEntry
	holds       map[int64]domain.TransferHold
	versions    map[int64]domain.TransferVersion
	idempotency map[string]domain.IdempotencyRecord
	acls        map[int64]domain.AccessControlEntry

	customers       map[int64]int64 // customer id -> user id
	customerBankers map[int64]int64 // customer id -> banker id
	bankers         map[int64]int64 // banker id -> user id

	seq int64
}

func NewMemStore() *MemStore {
	return &MemStore{d: &memData{
		accounts:        map[int64]domain.Account{},
		transfers:       map[int64]domain.Transfer{},
		holds:           map[int64]domain.TransferHold{},
		versions:        map[int64]domain.TransferVersion{},
		idempotency:     map[string]domain.IdempotencyRecord{},
		acls:            map[int64]domain.AccessControlEntry{},
		customers:       map[int64]int64{},
		customerBankers: map[int64]int64{},
		bankers:         map[int64]int64{},
	}}
}

func (d *memData) clone() *memData {
	c := &memData{
		accounts:        make(map[int64]domain.Account, len(d.accounts)),
		transfers:       make(map[int64]domain.Transfer, len(d.transfers)),
		entries:         append([]domain.LedgerEntry(nil), d.entries...),
		holds:           make(map[int64]domain.TransferHold, len(d.holds)),
		versions:        make(map[int64]domain.TransferVersion, len(d.versions)),
		idempotency:     make(map[string]domain.IdempotencyRecord, len(d.idempotency)),
		acls:            make(map[int64]domain.AccessControlEntry, len(d.acls)),
		customers:       make(map[int64]int64, len(d.customers)),
		customerBankers: make(map[int64]int64, len(d.customerBankers)),
		bankers:         make(map[int64]int64, len(d.bankers)),
		seq:             d.seq,
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.transfers {
		c.transfers[k] = v
	}
	for k, v := range d.holds {
		c.holds[k] = v
	}
	for k, v := range d.versions {
		c.versions[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range d.acls {
		c.acls[k] = v
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.customerBankers {
		c.customerBankers[k] = v
	}
	for k, v := range d.bankers {
		c.bankers[k] = v
	}
	return c
}

func (d *memData) nextID() int64 {
	d.seq++
	return d.seq
}

// Seeding helpers for tests and local development.

// PutCustomer registers the customer record belonging to a user.
func (s *MemStore) PutCustomer(customerID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.customers[customerID] = userID
}

// PutBanker registers the banker record belonging to a user.
func (s *MemStore) PutBanker(bankerID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.bankers[bankerID] = userID
}

// AssignBankerToCustomer links a customer to its managing banker.
func (s *MemStore) AssignBankerToCustomer(customerID, bankerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.customerBankers[customerID] = bankerID
}

func (s *MemStore) Close() {}

func (s *MemStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{s: s, snapshot: s.d.clone()}, nil
}

type memTx struct {
	s        *MemStore
	snapshot *memData
	done     bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.d = t.snapshot
	t.s.mu.Unlock()
	return nil
}

// memData operations. The caller holds the store lock.

func (d *memData) createAccount(acc *domain.Account) (int64, error) {
	a := *acc
	a.ID = d.nextID()
	d.accounts[a.ID] = a
	return a.ID, nil
}

func (d *memData) getAccount(id int64) (*domain.Account, error) {
	a, ok := d.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (d *memData) addToBalance(accountID int64, delta decimal.Decimal) error {
	a, ok := d.accounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	a.Balance = a.Balance.Add(delta)
	d.accounts[accountID] = a
	return nil
}

func (d *memData) insertLedgerEntry(e *domain.LedgerEntry) (int64, error) {
	entry := *e
	entry.ID = d.nextID()
	d.entries = append(d.entries, entry)
	return entry.ID, nil
}

func (d *memData) sumLedgerEntries(accountID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range d.entries {
		if e.AccountID == accountID {
			sum = sum.Add(e.Signed())
		}
	}
	return sum, nil
}

func (d *memData) ledgerEntriesByAccount(accountID int64, limit, offset int) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for _, e := range d.entries {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	return page(entries, limit, offset), nil
}

func (d *memData) ledgerEntriesByTxnID(ledgerTxnID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for _, e := range d.entries {
		if e.LedgerTxnID == ledgerTxnID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (d *memData) insertTransfer(t *domain.Transfer) (int64, error) {
	tr := *t
	tr.ID = d.nextID()
	d.transfers[tr.ID] = tr
	return tr.ID, nil
}

func (d *memData) getTransfer(id int64) (*domain.Transfer, error) {
	t, ok := d.transfers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (d *memData) updateTransfer(t *domain.Transfer) error {
	if _, ok := d.transfers[t.ID]; !ok {
		return domain.ErrNotFound
	}
	d.transfers[t.ID] = *t
	return nil
}

func (d *memData) transfersByAccount(accountID int64, limit, offset int) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for _, t := range d.transfers {
		if t.SourceAccountID == accountID || t.DestinationAccountID == accountID {
			transfers = append(transfers, t)
		}
	}
	sort.Slice(transfers, func(i, j int) bool { return transfers[i].ID > transfers[j].ID })
	return page(transfers, limit, offset), nil
}

func (d *memData) sumOutgoingTransfersSince(accountID int64, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range d.transfers {
		if t.SourceAccountID == accountID && !t.CreatedAt.Before(since) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (d *memData) insertHold(h *domain.TransferHold) (int64, error) {
	hold := *h
	hold.ID = d.nextID()
	d.holds[hold.ID] = hold
	return hold.ID, nil
}

func (d *memData) holdsByTransfer(transferID int64) ([]domain.TransferHold, error) {
	var holds []domain.TransferHold
	for _, h := range d.holds {
		if h.TransferID == transferID {
			holds = append(holds, h)
		}
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].ID < holds[j].ID })
	return holds, nil
}

func (d *memData) releaseHolds(transferID int64, at time.Time) error {
	for id, h := range d.holds {
		if h.TransferID == transferID && !h.Released {
			h.Released = true
			released := at
			h.ReleasedAt = &released
			d.holds[id] = h
		}
	}
	return nil
}

func (d *memData) sumActiveHolds(accountID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, h := range d.holds {
		if h.AccountID == accountID && !h.Released {
			sum = sum.Add(h.Amount)
		}
	}
	return sum, nil
}

func (d *memData) insertVersion(v *domain.TransferVersion) (int64, error) {
	version := *v
	version.ID = d.nextID()
	d.versions[version.ID] = version
	return version.ID, nil
}

func (d *memData) maxVersionNumber(transferID int64) (int64, error) {
	var max int64
	for _, v := range d.versions {
		if v.TransferID == transferID && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

func (d *memData) versionsByTransfer(transferID int64) ([]domain.TransferVersion, error) {
	var versions []domain.TransferVersion
	for _, v := range d.versions {
		if v.TransferID == transferID {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNumber > versions[j].VersionNumber })
	return versions, nil
}

func (d *memData) getVersion(versionID int64) (*domain.TransferVersion, error) {
	v, ok := d.versions[versionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

func (d *memData) pruneVersions(transferID int64, keep int) error {
	versions, _ := d.versionsByTransfer(transferID)
	for i := keep; i < len(versions); i++ {
		delete(d.versions, versions[i].ID)
	}
	return nil
}

func (d *memData) getIdempotencyRecord(key string) (*domain.IdempotencyRecord, error) {
	rec, ok := d.idempotency[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (d *memData) upsertIdempotencyRecord(rec *domain.IdempotencyRecord) error {
	d.idempotency[rec.Key] = *rec
	return nil
}

func (d *memData) deleteExpiredIdempotencyRecords(cutoff time.Time) (int64, error) {
	var n int64
	for key, rec := range d.idempotency {
		if rec.ExpiresAt.Before(cutoff) {
			delete(d.idempotency, key)
			n++
		}
	}
	return n, nil
}

func (d *memData) customerIDForUser(userID int64) (int64, error) {
	for customerID, uid := range d.customers {
		if uid == userID {
			return customerID, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (d *memData) bankerIDForUser(userID int64) (int64, bool) {
	for bankerID, uid := range d.bankers {
		if uid == userID {
			return bankerID, true
		}
	}
	return 0, false
}

func (d *memData) isBankerAssignedToAccount(userID, accountID int64) (bool, error) {
	bankerID, ok := d.bankerIDForUser(userID)
	if !ok {
		return false, nil
	}
	acc, found := d.accounts[accountID]
	if !found || acc.BankerID == nil {
		return false, nil
	}
	return *acc.BankerID == bankerID, nil
}

func (d *memData) isBankerAssignedToCustomer(userID, customerID int64) (bool, error) {
	bankerID, ok := d.bankerIDForUser(userID)
	if !ok {
		return false, nil
	}
	assigned, found := d.customerBankers[customerID]
	return found && assigned == bankerID, nil
}

func (d *memData) getACL(accountID, userID int64) (*domain.AccessControlEntry, error) {
	for _, e := range d.acls {
		if e.AccountID == accountID && e.UserID == userID {
			entry := e
			return &entry, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (d *memData) getACLByID(aclID int64) (*domain.AccessControlEntry, error) {
	e, ok := d.acls[aclID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (d *memData) aclsByAccount(accountID int64) ([]domain.AccessControlEntry, error) {
	var entries []domain.AccessControlEntry
	for _, e := range d.acls {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (d *memData) insertACL(e *domain.AccessControlEntry) (int64, error) {
	if _, err := d.getACL(e.AccountID, e.UserID); err == nil {
		return 0, domain.ErrAlreadyExists
	}
	entry := *e
	entry.ID = d.nextID()
	entry.UpdatedAt = entry.CreatedAt
	d.acls[entry.ID] = entry
	return entry.ID, nil
}

func (d *memData) updateACLPermission(aclID int64, p domain.Permission) error {
	e, ok := d.acls[aclID]
	if !ok {
		return domain.ErrNotFound
	}
	e.Permission = p
	e.UpdatedAt = time.Now()
	d.acls[aclID] = e
	return nil
}

func (d *memData) deleteACL(aclID int64) error {
	if _, ok := d.acls[aclID]; !ok {
		return domain.ErrNotFound
	}
	delete(d.acls, aclID)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
