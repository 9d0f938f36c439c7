package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeSavings AccountType = "SAVINGS"
	AccountTypeCurrent AccountType = "CURRENT"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Account holds the cached balance. The signed sum of the account's ledger
// entries is the authoritative value; the cached field is an optimization.
type Account struct {
	ID              int64           `json:"id"`
	AccountNumber   string          `json:"account_number"`
	CustomerID      int64           `json:"customer_id"`
	BankerID        *int64          `json:"banker_id,omitempty"`
	Type            AccountType     `json:"account_type"`
	Status          AccountStatus   `json:"account_status"`
	Currency        string          `json:"currency"`
	Balance         decimal.Decimal `json:"balance"`
	StatusReason    string          `json:"status_reason,omitempty"`
	StatusChangedAt *time.Time      `json:"status_changed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type TransferStatus string

const (
	TransferStatusRequested  TransferStatus = "REQUESTED"
	TransferStatusAuthorized TransferStatus = "AUTHORIZED"
	TransferStatusPosted     TransferStatus = "POSTED"
	TransferStatusCancelled  TransferStatus = "CANCELLED"
	TransferStatusRejected   TransferStatus = "REJECTED"
)

// Transfer represents the intent to move money between two accounts.
// Status only ever advances along REQUESTED -> AUTHORIZED -> POSTED, with
// CANCELLED/REJECTED as the terminal off-ramps.
type Transfer struct {
	ID                   int64           `json:"id"`
	SourceAccountID      int64           `json:"source_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description,omitempty"`
	Status               TransferStatus  `json:"status"`
	InitiatedBy          int64           `json:"initiated_by"`
	AuthorizedBy         *int64          `json:"authorized_by,omitempty"`
	AuthorizedAt         *time.Time      `json:"authorized_at,omitempty"`
	PostedAt             *time.Time      `json:"posted_at,omitempty"`
	LedgerTxnID          string          `json:"ledger_txn_id,omitempty"`
	IdempotencyKey       string          `json:"idempotency_key,omitempty"`
	CurrentVersion       int64           `json:"current_version"`
	CreatedAt            time.Time       `json:"created_at"`
}

type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// LedgerEntry is one leg of a double-entry posting. Entries sharing a
// LedgerTxnID must sum to zero across the accounts they touch.
type LedgerEntry struct {
	ID            int64           `json:"id"`
	LedgerTxnID   string          `json:"ledger_txn_id"`
	AccountID     int64           `json:"account_id"`
	Type          EntryType       `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the entry amount with CREDIT positive and DEBIT negative.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Type == EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// TransferHold earmarks funds on the source account between authorization
// and settlement or cancellation.
type TransferHold struct {
	ID         int64           `json:"id"`
	TransferID int64           `json:"transfer_id"`
	AccountID  int64           `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	Released   bool            `json:"released"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TransferVersion is an append-only snapshot of a transfer's mutable fields.
// At most the 10 most recent versions are retained per transfer.
type TransferVersion struct {
	ID                   int64           `json:"id"`
	TransferID           int64           `json:"transfer_id"`
	VersionNumber        int64           `json:"version_number"`
	SourceAccountID      int64           `json:"source_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description,omitempty"`
	ChangedBy            int64           `json:"changed_by"`
	ChangeSummary        string          `json:"change_summary"`
	CreatedAt            time.Time       `json:"created_at"`
}

// IdempotencyRecord maps a client-supplied key to the request fingerprint
// and the response produced the first time the request was processed.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	ResponseStatus int
	ResponseBody   json.RawMessage
	UserID         int64
	ExpiresAt      time.Time
}

type Permission string

const (
	PermissionView     Permission = "VIEW"
	PermissionUpdate   Permission = "UPDATE"
	PermissionDelete   Permission = "DELETE"
	PermissionTransfer Permission = "TRANSFER"
)

// AccessControlEntry grants a single permission to a user on an account.
// At most one entry exists per (account, user) pair; changing the grant is
// an update, never a second insert.
type AccessControlEntry struct {
	ID         int64      `json:"id"`
	AccountID  int64      `json:"account_id"`
	UserID     int64      `json:"user_id"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

const (
	RoleCustomer = "CUSTOMER"
	RoleBanker   = "BANKER"
	RoleOps      = "OPS"
	RoleAdmin    = "ADMIN"
)

// Actor is the already-authenticated identity attached to a request. The
// core never parses tokens; an upstream gateway supplies this.
type Actor struct {
	UserID int64
	Roles  []string
}

func (a Actor) hasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool    { return a.hasRole(RoleAdmin) }
func (a Actor) IsOps() bool      { return a.hasRole(RoleOps) }
func (a Actor) IsBanker() bool   { return a.hasRole(RoleBanker) }
func (a Actor) IsCustomer() bool { return a.hasRole(RoleCustomer) }
