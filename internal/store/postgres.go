package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/domain"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgQueries implements Queries against a pool or an open transaction.
type PgQueries struct {
	db DBTX
}

// PgStore is the postgres-backed Store.
type PgStore struct {
	*PgQueries
	pool *pgxpool.Pool
}

// NewPgStore builds a connection pool with shopspring decimal codecs
// registered on every connection, so numeric columns scan straight into
// decimal.Decimal.
func NewPgStore(ctx context.Context, connString string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PgStore{PgQueries: &PgQueries{db: pool}, pool: pool}, nil
}

func (s *PgStore) Close() {
	s.pool.Close()
}

func (s *PgStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	return &pgTx{PgQueries: &PgQueries{db: tx}, tx: tx}, nil
}

type pgTx struct {
	*PgQueries
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Accounts

const accountColumns = `account_id, account_number, customer_id, banker_id, account_type,
	account_status, currency, balance, status_reason, status_changed_at, created_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	err := row.Scan(&acc.ID, &acc.AccountNumber, &acc.CustomerID, &acc.BankerID, &acc.Type,
		&acc.Status, &acc.Currency, &acc.Balance, &acc.StatusReason, &acc.StatusChangedAt, &acc.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &acc, nil
}

func (q *PgQueries) CreateAccount(ctx context.Context, acc *domain.Account) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO accounts (account_number, customer_id, banker_id, account_type, account_status,
			currency, balance, status_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING account_id`,
		acc.AccountNumber, acc.CustomerID, acc.BankerID, acc.Type, acc.Status,
		acc.Currency, acc.Balance, acc.StatusReason, acc.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("account insert failed: %w", err)
	}
	return id, nil
}

func (q *PgQueries) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(q.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, id))
}

func (q *PgQueries) GetAccountForUpdate(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(q.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1 FOR UPDATE`, id))
}

func (q *PgQueries) AddToBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE account_id = $2`, delta, accountID)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ledger

func (q *PgQueries) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO ledger_entries (ledger_txn_id, account_id, entry_type, amount, description,
			reference_type, reference_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING ledger_entry_id`,
		e.LedgerTxnID, e.AccountID, e.Type, e.Amount, e.Description,
		e.ReferenceType, e.ReferenceID, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger entry insert failed: %w", err)
	}
	return id, nil
}

func (q *PgQueries) SumLedgerEntries(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger sum failed: %w", err)
	}
	return sum, nil
}

const ledgerColumns = `ledger_entry_id, ledger_txn_id, account_id, entry_type, amount,
	description, reference_type, reference_id, created_at`

func (q *PgQueries) queryLedgerEntries(ctx context.Context, sql string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.LedgerTxnID, &e.AccountID, &e.Type, &e.Amount,
			&e.Description, &e.ReferenceType, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *PgQueries) LedgerEntriesByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.LedgerEntry, error) {
	return q.queryLedgerEntries(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE account_id = $1
		 ORDER BY created_at DESC, ledger_entry_id DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
}

func (q *PgQueries) LedgerEntriesByTxnID(ctx context.Context, ledgerTxnID string) ([]domain.LedgerEntry, error) {
	return q.queryLedgerEntries(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE ledger_txn_id = $1
		 ORDER BY ledger_entry_id`, ledgerTxnID)
}

// Transfers

const transferColumns = `transfer_id, source_account_id, destination_account_id, amount, currency,
	description, transfer_status, initiated_by, authorized_by, authorized_at, posted_at,
	ledger_txn_id, idempotency_key, current_version, created_at`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	err := row.Scan(&t.ID, &t.SourceAccountID, &t.DestinationAccountID, &t.Amount, &t.Currency,
		&t.Description, &t.Status, &t.InitiatedBy, &t.AuthorizedBy, &t.AuthorizedAt, &t.PostedAt,
		&t.LedgerTxnID, &t.IdempotencyKey, &t.CurrentVersion, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (q *PgQueries) InsertTransfer(ctx context.Context, t *domain.Transfer) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO transfers (source_account_id, destination_account_id, amount, currency,
			description, transfer_status, initiated_by, idempotency_key, current_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING transfer_id`,
		t.SourceAccountID, t.DestinationAccountID, t.Amount, t.Currency,
		t.Description, t.Status, t.InitiatedBy, t.IdempotencyKey, t.CurrentVersion, t.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("transfer insert failed: %w", err)
	}
	return id, nil
}

func (q *PgQueries) GetTransfer(ctx context.Context, id int64) (*domain.Transfer, error) {
	return scanTransfer(q.db.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE transfer_id = $1`, id))
}

func (q *PgQueries) GetTransferForUpdate(ctx context.Context, id int64) (*domain.Transfer, error) {
	return scanTransfer(q.db.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE transfer_id = $1 FOR UPDATE`, id))
}

func (q *PgQueries) UpdateTransfer(ctx context.Context, t *domain.Transfer) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE transfers SET source_account_id = $1, destination_account_id = $2, amount = $3,
			description = $4, transfer_status = $5, initiated_by = $6, authorized_by = $7,
			authorized_at = $8, posted_at = $9, ledger_txn_id = $10, current_version = $11
		 WHERE transfer_id = $12`,
		t.SourceAccountID, t.DestinationAccountID, t.Amount,
		t.Description, t.Status, t.InitiatedBy, t.AuthorizedBy,
		t.AuthorizedAt, t.PostedAt, t.LedgerTxnID, t.CurrentVersion, t.ID)
	if err != nil {
		return fmt.Errorf("transfer update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *PgQueries) TransfersByAccount(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transfer, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+transferColumns+` FROM transfers
		 WHERE source_account_id = $1 OR destination_account_id = $1
		 ORDER BY created_at DESC, transfer_id DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		if err := rows.Scan(&t.ID, &t.SourceAccountID, &t.DestinationAccountID, &t.Amount, &t.Currency,
			&t.Description, &t.Status, &t.InitiatedBy, &t.AuthorizedBy, &t.AuthorizedAt, &t.PostedAt,
			&t.LedgerTxnID, &t.IdempotencyKey, &t.CurrentVersion, &t.CreatedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (q *PgQueries) SumOutgoingTransfersSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transfers
		 WHERE source_account_id = $1 AND created_at >= $2`, accountID, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("daily aggregate query failed: %w", err)
	}
	return sum, nil
}

// Holds

func (q *PgQueries) InsertHold(ctx context.Context, h *domain.TransferHold) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO transfer_holds (transfer_id, account_id, hold_amount, released, created_at)
		 VALUES ($1, $2, $3, false, $4) RETURNING hold_id`,
		h.TransferID, h.AccountID, h.Amount, h.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("hold insert failed: %w", err)
	}
	return id, nil
}

func (q *PgQueries) HoldsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferHold, error) {
	rows, err := q.db.Query(ctx,
		`SELECT hold_id, transfer_id, account_id, hold_amount, released, released_at, created_at
		 FROM transfer_holds WHERE transfer_id = $1 ORDER BY hold_id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []domain.TransferHold
	for rows.Next() {
		var h domain.TransferHold
		if err := rows.Scan(&h.ID, &h.TransferID, &h.AccountID, &h.Amount, &h.Released, &h.ReleasedAt, &h.CreatedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (q *PgQueries) ReleaseHolds(ctx context.Context, transferID int64, at time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE transfer_holds SET released = true, released_at = $1
		 WHERE transfer_id = $2 AND released = false`, at, transferID)
	if err != nil {
		return fmt.Errorf("hold release failed: %w", err)
	}
	return nil
}

func (q *PgQueries) SumActiveHolds(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(hold_amount), 0) FROM transfer_holds
		 WHERE account_id = $1 AND released = false`, accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hold sum failed: %w", err)
	}
	return sum, nil
}

// Transfer versions

func (q *PgQueries) InsertVersion(ctx context.Context, v *domain.TransferVersion) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO transfer_versions (transfer_id, version_number, source_account_id,
			destination_account_id, amount, description, changed_by, change_summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING version_id`,
		v.TransferID, v.VersionNumber, v.SourceAccountID,
		v.DestinationAccountID, v.Amount, v.Description, v.ChangedBy, v.ChangeSummary, v.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("version insert failed: %w", err)
	}
	return id, nil
}

func (q *PgQueries) MaxVersionNumber(ctx context.Context, transferID int64) (int64, error) {
	var max int64
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM transfer_versions WHERE transfer_id = $1`,
		transferID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max version query failed: %w", err)
	}
	return max, nil
}

const versionColumns = `version_id, transfer_id, version_number, source_account_id,
	destination_account_id, amount, description, changed_by, change_summary, created_at`

func (q *PgQueries) VersionsByTransfer(ctx context.Context, transferID int64) ([]domain.TransferVersion, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+versionColumns+` FROM transfer_versions WHERE transfer_id = $1
		 ORDER BY version_number DESC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []domain.TransferVersion
	for rows.Next() {
		var v domain.TransferVersion
		if err := rows.Scan(&v.ID, &v.TransferID, &v.VersionNumber, &v.SourceAccountID,
			&v.DestinationAccountID, &v.Amount, &v.Description, &v.ChangedBy, &v.ChangeSummary, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (q *PgQueries) GetVersion(ctx context.Context, versionID int64) (*domain.TransferVersion, error) {
	var v domain.TransferVersion
	err := q.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM transfer_versions WHERE version_id = $1`, versionID,
	).Scan(&v.ID, &v.TransferID, &v.VersionNumber, &v.SourceAccountID,
		&v.DestinationAccountID, &v.Amount, &v.Description, &v.ChangedBy, &v.ChangeSummary, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (q *PgQueries) PruneVersions(ctx context.Context, transferID int64, keep int) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM transfer_versions WHERE transfer_id = $1 AND version_number NOT IN (
			SELECT version_number FROM transfer_versions WHERE transfer_id = $1
			ORDER BY version_number DESC LIMIT $2)`, transferID, keep)
	if err != nil {
		return fmt.Errorf("version prune failed: %w", err)
	}
	return nil
}

// Idempotency

func (q *PgQueries) GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := q.db.QueryRow(ctx,
		`SELECT idempotency_key, request_hash, response_status, response_body, user_id, expires_at
		 FROM idempotency_keys WHERE idempotency_key = $1`, key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.ResponseStatus, &rec.ResponseBody, &rec.UserID, &rec.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (q *PgQueries) UpsertIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO idempotency_keys (idempotency_key, request_hash, response_status, response_body, user_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (idempotency_key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash, response_status = EXCLUDED.response_status,
			response_body = EXCLUDED.response_body, user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		rec.Key, rec.RequestHash, rec.ResponseStatus, rec.ResponseBody, rec.UserID, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("idempotency upsert failed: %w", err)
	}
	return nil
}

func (q *PgQueries) DeleteExpiredIdempotencyRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("idempotency cleanup failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Identity lookups

func (q *PgQueries) CustomerIDForUser(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`SELECT customer_id FROM customers WHERE user_id = $1`, userID).Scan(&id)
	if err != nil {
		return 0, notFound(err)
	}
	return id, nil
}

func (q *PgQueries) IsBankerAssignedToAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	var assigned bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM accounts a JOIN bankers b ON a.banker_id = b.banker_id
			WHERE b.user_id = $1 AND a.account_id = $2)`, userID, accountID).Scan(&assigned)
	if err != nil {
		return false, err
	}
	return assigned, nil
}

func (q *PgQueries) IsBankerAssignedToCustomer(ctx context.Context, userID, customerID int64) (bool, error) {
	var assigned bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM customers c JOIN bankers b ON c.banker_id = b.banker_id
			WHERE b.user_id = $1 AND c.customer_id = $2)`, userID, customerID).Scan(&assigned)
	if err != nil {
		return false, err
	}
	return assigned, nil
}

// ACL

const aclColumns = `acl_id, account_id, user_id, permission, created_at, updated_at`

func (q *PgQueries) GetACL(ctx context.Context, accountID, userID int64) (*domain.AccessControlEntry, error) {
	var e domain.AccessControlEntry
	err := q.db.QueryRow(ctx,
		`SELECT `+aclColumns+` FROM access_control_list WHERE account_id = $1 AND user_id = $2`,
		accountID, userID,
	).Scan(&e.ID, &e.AccountID, &e.UserID, &e.Permission, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (q *PgQueries) GetACLByID(ctx context.Context, aclID int64) (*domain.AccessControlEntry, error) {
	var e domain.AccessControlEntry
	err := q.db.QueryRow(ctx,
		`SELECT `+aclColumns+` FROM access_control_list WHERE acl_id = $1`, aclID,
	).Scan(&e.ID, &e.AccountID, &e.UserID, &e.Permission, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (q *PgQueries) ACLsByAccount(ctx context.Context, accountID int64) ([]domain.AccessControlEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+aclColumns+` FROM access_control_list WHERE account_id = $1 ORDER BY acl_id`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AccessControlEntry
	for rows.Next() {
		var e domain.AccessControlEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.UserID, &e.Permission, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *PgQueries) InsertACL(ctx context.Context, e *domain.AccessControlEntry) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO access_control_list (account_id, user_id, permission, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4) RETURNING acl_id`,
		e.AccountID, e.UserID, e.Permission, e.CreatedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, domain.ErrAlreadyExists
		}
		return 0, fmt.Errorf("acl insert failed: %w", err)
	}
	return id, nil
}

func (q *PgQueries) UpdateACLPermission(ctx context.Context, aclID int64, p domain.Permission) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE access_control_list SET permission = $1, updated_at = now() WHERE acl_id = $2`,
		p, aclID)
	if err != nil {
		return fmt.Errorf("acl update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *PgQueries) DeleteACL(ctx context.Context, aclID int64) error {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM access_control_list WHERE acl_id = $1`, aclID)
	if err != nil {
		return fmt.Errorf("acl delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
