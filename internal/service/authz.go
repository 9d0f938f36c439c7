package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/accountsvc/internal/authz"
	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

// Gate enforces per-operation access on accounts. It resolves the actor's
// ownership and ACL facts from the store, feeds them to the pure rule table
// in internal/authz, and turns a deny into a typed AccessDeniedError
// carrying the correlation id.
type Gate struct {
	logger *slog.Logger
}

func NewGate(logger *slog.Logger) *Gate {
	return &Gate{logger: logger}
}

func (g *Gate) ViewAccount(ctx context.Context, q store.Queries, accountID int64, actor domain.Actor, correlationID string) error {
	return g.check(ctx, q, authz.OpView, accountID, actor, correlationID)
}

func (g *Gate) UpdateAccount(ctx context.Context, q store.Queries, accountID int64, actor domain.Actor, correlationID string) error {
	return g.check(ctx, q, authz.OpUpdate, accountID, actor, correlationID)
}

func (g *Gate) DeleteAccount(ctx context.Context, q store.Queries, accountID int64, actor domain.Actor, correlationID string) error {
	return g.check(ctx, q, authz.OpDelete, accountID, actor, correlationID)
}

func (g *Gate) TransferSource(ctx context.Context, q store.Queries, accountID int64, actor domain.Actor, correlationID string) error {
	return g.check(ctx, q, authz.OpTransferSource, accountID, actor, correlationID)
}

func (g *Gate) TransferDestination(ctx context.Context, q store.Queries, accountID int64, actor domain.Actor, correlationID string) error {
	return g.check(ctx, q, authz.OpTransferDestination, accountID, actor, correlationID)
}

// RequireAdmin gates banker/account assignment management and ACL
// administration.
func (g *Gate) RequireAdmin(actor domain.Actor, correlationID string) error {
	d := authz.Decide(authz.OpAdmin, authz.Subject{Admin: actor.IsAdmin()})
	if !d.Allowed {
		g.logger.Warn("access denied",
			"user_id", actor.UserID, "reason", d.Reason, "correlation_id", correlationID)
		return &domain.AccessDeniedError{Reason: d.Reason, CorrelationID: correlationID}
	}
	return nil
}

func (g *Gate) check(ctx context.Context, q store.Queries, op authz.Operation, accountID int64, actor domain.Actor, correlationID string) error {
	account, err := q.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("account %d: %w", accountID, err)
	}

	subject, err := g.buildSubject(ctx, q, actor, account)
	if err != nil {
		return err
	}

	d := authz.Decide(op, subject)
	if !d.Allowed {
		// Denials are never downgraded to not-found; the caller learns the
		// account exists but is off limits.
		g.logger.Warn("access denied",
			"user_id", actor.UserID, "account_id", accountID,
			"reason", d.Reason, "correlation_id", correlationID)
		return &domain.AccessDeniedError{Reason: d.Reason, CorrelationID: correlationID}
	}
	return nil
}

func (g *Gate) buildSubject(ctx context.Context, q store.Queries, actor domain.Actor, account *domain.Account) (authz.Subject, error) {
	s := authz.Subject{
		Admin:    actor.IsAdmin(),
		Ops:      actor.IsOps(),
		Banker:   actor.IsBanker(),
		Customer: actor.IsCustomer(),
	}

	if s.Customer {
		// The customer record is created after user registration, so the
		// linkage is resolved here rather than trusted from credentials.
		customerID, err := q.CustomerIDForUser(ctx, actor.UserID)
		switch {
		case err == nil:
			s.HasCustomerRecord = true
			s.OwnsAccount = customerID == account.CustomerID
		case errors.Is(err, domain.ErrNotFound):
			// no customer record; ownership facts stay false
		default:
			return authz.Subject{}, fmt.Errorf("customer lookup for user %d: %w", actor.UserID, err)
		}

		acl, err := q.GetACL(ctx, account.ID, actor.UserID)
		switch {
		case err == nil:
			s.Permission = &acl.Permission
		case errors.Is(err, domain.ErrNotFound):
		default:
			return authz.Subject{}, fmt.Errorf("acl lookup for user %d: %w", actor.UserID, err)
		}
	}

	if s.Banker {
		assigned, err := q.IsBankerAssignedToAccount(ctx, actor.UserID, account.ID)
		if err != nil {
			return authz.Subject{}, fmt.Errorf("banker assignment lookup for user %d: %w", actor.UserID, err)
		}
		s.BankerAssigned = assigned
	}

	return s, nil
}
