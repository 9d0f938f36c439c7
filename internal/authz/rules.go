// Package authz holds the pure decision rules for the authorization gate.
// The rule table is storage-free: callers assemble a Subject from role and
// ownership facts and get back an allow/deny decision.
package authz

import "github.com/punchamoorthee/accountsvc/internal/domain"

type Operation int

const (
	OpView Operation = iota
	OpUpdate
	OpDelete
	OpTransferSource
	OpTransferDestination
	OpAdmin
)

// Subject carries everything a decision depends on: the actor's roles and
// the resolved ownership/ACL/assignment facts for the target account.
type Subject struct {
	Admin    bool
	Ops      bool
	Banker   bool
	Customer bool

	// HasCustomerRecord reports whether a customer record exists for the
	// actor's user id. Without one a CUSTOMER-role actor owns nothing.
	HasCustomerRecord bool
	OwnsAccount       bool
	BankerAssigned    bool
	// Permission is the actor's ACL grant on the account, nil when absent.
	Permission *domain.Permission
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

func (s Subject) hasPermission(p domain.Permission) bool {
	return s.Permission != nil && *s.Permission == p
}

// Decide evaluates the rule table for one operation. ADMIN and OPS checks
// come first, then role-specific logic; the first matching rule wins.
func Decide(op Operation, s Subject) Decision {
	switch op {
	case OpView:
		return decideView(s)
	case OpUpdate:
		return decideUpdate(s)
	case OpDelete:
		return decideDelete(s)
	case OpTransferSource:
		return decideTransferSource(s)
	case OpTransferDestination:
		return decideTransferDestination(s)
	case OpAdmin:
		if s.Admin {
			return allow()
		}
		return deny("only ADMIN can perform this operation")
	}
	return deny("unknown operation")
}

func decideView(s Subject) Decision {
	if s.Admin || s.Ops {
		return allow()
	}
	if s.Customer {
		if !s.HasCustomerRecord {
			return deny("you do not have a customer account")
		}
		if s.OwnsAccount || s.hasPermission(domain.PermissionView) {
			return allow()
		}
		return deny("you cannot view this account")
	}
	if s.Banker {
		if s.BankerAssigned {
			return allow()
		}
		return deny("this account is not assigned to you")
	}
	return deny("invalid role")
}

func decideUpdate(s Subject) Decision {
	if s.Admin {
		return allow()
	}
	if s.Ops {
		return deny("OPS role has read-only access")
	}
	if s.Customer {
		if !s.HasCustomerRecord {
			return deny("you do not have a customer account")
		}
		if s.OwnsAccount || s.hasPermission(domain.PermissionUpdate) {
			return allow()
		}
		return deny("you cannot update this account")
	}
	if s.Banker {
		if s.BankerAssigned {
			return allow()
		}
		return deny("this account is not assigned to you")
	}
	return deny("invalid role")
}

func decideDelete(s Subject) Decision {
	if s.Admin {
		return allow()
	}
	if s.Ops {
		return deny("OPS role has read-only access")
	}
	if s.Customer {
		if !s.HasCustomerRecord || !s.OwnsAccount {
			return deny("you cannot delete this account")
		}
		if !s.hasPermission(domain.PermissionDelete) {
			return deny("you do not have DELETE permission on this account")
		}
		return allow()
	}
	if s.Banker {
		if s.BankerAssigned {
			return allow()
		}
		return deny("this account is not assigned to you")
	}
	return deny("invalid role")
}

func decideTransferSource(s Subject) Decision {
	if s.Admin {
		return allow()
	}
	if s.Ops {
		return deny("OPS role cannot perform transfers")
	}
	if s.Customer {
		if !s.HasCustomerRecord || !s.OwnsAccount {
			return deny("you cannot transfer from this account")
		}
		if !s.hasPermission(domain.PermissionTransfer) {
			return deny("you do not have TRANSFER permission on this account")
		}
		return allow()
	}
	if s.Banker {
		if s.BankerAssigned {
			return allow()
		}
		return deny("this account is not assigned to you")
	}
	return deny("invalid role")
}

func decideTransferDestination(s Subject) Decision {
	if s.Admin || s.Banker {
		return allow()
	}
	if s.Ops {
		return deny("OPS role cannot perform transfers")
	}
	if s.Customer {
		// Transfers between different customers are allowed; the source
		// check already constrained the sending side.
		return allow()
	}
	return deny("invalid role")
}
