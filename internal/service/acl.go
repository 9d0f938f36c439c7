package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

// ACLService manages the per-account, per-user permission whitelist.
// All mutations are admin-gated. A (account, user) pair holds at most one
// entry; changing the grant goes through UpdatePermission, never a second
// insert.
type ACLService struct {
	gate   *Gate
	logger *slog.Logger
	now    func() time.Time
}

func NewACLService(gate *Gate, logger *slog.Logger) *ACLService {
	return &ACLService{gate: gate, logger: logger, now: time.Now}
}

func validPermission(p domain.Permission) bool {
	switch p {
	case domain.PermissionView, domain.PermissionUpdate, domain.PermissionDelete, domain.PermissionTransfer:
		return true
	}
	return false
}

func (s *ACLService) Grant(ctx context.Context, q store.Queries, accountID, userID int64, p domain.Permission, actor domain.Actor, correlationID string) (*domain.AccessControlEntry, error) {
	if err := s.gate.RequireAdmin(actor, correlationID); err != nil {
		return nil, err
	}
	if !validPermission(p) {
		return nil, fmt.Errorf("invalid permission %q: %w", p, domain.ErrInvalidTransfer)
	}
	if _, err := q.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}

	entry := domain.AccessControlEntry{
		AccountID:  accountID,
		UserID:     userID,
		Permission: p,
		CreatedAt:  s.now(),
	}
	id, err := q.InsertACL(ctx, &entry)
	if err != nil {
		return nil, err
	}
	entry.ID = id
	entry.UpdatedAt = entry.CreatedAt

	s.logger.Info("acl entry created",
		"acl_id", id, "account_id", accountID, "user_id", userID,
		"permission", p, "correlation_id", correlationID)
	return &entry, nil
}

func (s *ACLService) UpdatePermission(ctx context.Context, q store.Queries, aclID int64, p domain.Permission, actor domain.Actor, correlationID string) (*domain.AccessControlEntry, error) {
	if err := s.gate.RequireAdmin(actor, correlationID); err != nil {
		return nil, err
	}
	if !validPermission(p) {
		return nil, fmt.Errorf("invalid permission %q: %w", p, domain.ErrInvalidTransfer)
	}
	entry, err := q.GetACLByID(ctx, aclID)
	if err != nil {
		return nil, fmt.Errorf("acl %d: %w", aclID, err)
	}
	if err := q.UpdateACLPermission(ctx, aclID, p); err != nil {
		return nil, err
	}

	s.logger.Info("acl entry updated",
		"acl_id", aclID, "permission_old", entry.Permission, "permission_new", p,
		"correlation_id", correlationID)
	entry.Permission = p
	return entry, nil
}

func (s *ACLService) Revoke(ctx context.Context, q store.Queries, aclID int64, actor domain.Actor, correlationID string) error {
	if err := s.gate.RequireAdmin(actor, correlationID); err != nil {
		return err
	}
	entry, err := q.GetACLByID(ctx, aclID)
	if err != nil {
		return fmt.Errorf("acl %d: %w", aclID, err)
	}
	if err := q.DeleteACL(ctx, aclID); err != nil {
		return err
	}

	s.logger.Info("acl entry deleted",
		"acl_id", aclID, "account_id", entry.AccountID, "user_id", entry.UserID,
		"permission", entry.Permission, "correlation_id", correlationID)
	return nil
}

func (s *ACLService) ByAccount(ctx context.Context, q store.Queries, accountID int64) ([]domain.AccessControlEntry, error) {
	if _, err := q.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}
	return q.ACLsByAccount(ctx, accountID)
}
