package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidTransfer     = errors.New("invalid transfer")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLimitExceeded       = errors.New("transfer limit exceeded")
	ErrAccessDenied        = errors.New("access denied")
	ErrIdempotencyConflict = errors.New("idempotency key used with different request")
	ErrAlreadyExists       = errors.New("resource already exists")
)

// Limit sub-codes carried by LimitExceededError.
const (
	LimitCodePerTx = "LIMIT_PER_TX_EXCEEDED"
	LimitCodeDaily = "LIMIT_DAILY_EXCEEDED"
)

// LimitExceededError reports a per-transaction or daily aggregate cap
// breach with a machine-readable sub-code.
type LimitExceededError struct {
	Code    string
	Message string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// AccessDeniedError is an authorization gate rejection. It always carries
// the correlation id of the originating request so the denial can be
// matched with an audit entry.
type AccessDeniedError struct {
	Reason        string
	CorrelationID string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s (correlation_id=%s)", e.Reason, e.CorrelationID)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }
