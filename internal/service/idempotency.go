package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

// IdempotencyService deduplicates client retries. A key maps to the
// fingerprint of the request that first used it and to the response it
// produced; records expire after the configured TTL.
type IdempotencyService struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewIdempotencyService(ttl time.Duration, logger *slog.Logger) *IdempotencyService {
	return &IdempotencyService{ttl: ttl, logger: logger, now: time.Now}
}

// Fingerprint hashes the semantically significant request fields. The
// description and the key itself are excluded on purpose: two logically
// identical requests collide even when described differently.
func Fingerprint(sourceAccountID, destinationAccountID int64, amount decimal.Decimal) string {
	data := fmt.Sprintf("%d|%d|%s", sourceAccountID, destinationAccountID, amount.String())
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Check classifies a key. It returns (nil, nil) for a new or expired key,
// the stored record for a duplicate with a matching fingerprint, and
// ErrIdempotencyConflict when the fingerprint differs.
func (s *IdempotencyService) Check(ctx context.Context, q store.Queries, key, fingerprint string) (*domain.IdempotencyRecord, error) {
	rec, err := q.GetIdempotencyRecord(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if s.now().After(rec.ExpiresAt) {
		return nil, nil
	}
	if rec.RequestHash != fingerprint {
		return nil, fmt.Errorf("key %q: %w", key, domain.ErrIdempotencyConflict)
	}
	return rec, nil
}

// Store upserts the cached response for a key with a fresh expiry.
func (s *IdempotencyService) Store(ctx context.Context, q store.Queries, key, fingerprint string, statusCode int, payload json.RawMessage, userID int64) error {
	rec := domain.IdempotencyRecord{
		Key:            key,
		RequestHash:    fingerprint,
		ResponseStatus: statusCode,
		ResponseBody:   payload,
		UserID:         userID,
		ExpiresAt:      s.now().Add(s.ttl),
	}
	if err := q.UpsertIdempotencyRecord(ctx, &rec); err != nil {
		return err
	}
	s.logger.Debug("idempotency record stored", "key", key, "status", statusCode)
	return nil
}

// DeleteExpired removes records past their expiry. Invoked by the periodic
// sweep; safe to run concurrently with request traffic.
func (s *IdempotencyService) DeleteExpired(ctx context.Context, q store.Queries) (int64, error) {
	n, err := q.DeleteExpiredIdempotencyRecords(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired idempotency keys removed", "count", n)
	}
	return n, nil
}
