// Package policy decides which group operations a member's role permits.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/splitify/splitify/internal/store"
)

// ErrForbidden is returned when the actor may not perform the operation. It
// never says which role was missing.
var ErrForbidden = errors.New("forbidden")

// Operation is the class of action requested on a group.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update" // covers partial updates
	OpDelete Operation = "delete"
)

// Allowed reports whether role permits op. Roles are flat: owner is not a
// superset of admin except where the table lists both.
func Allowed(role store.Role, op Operation) bool {
	switch op {
	case OpRead, OpCreate:
		return true
	case OpUpdate:
		return role == store.RoleOwner || role == store.RoleAdmin
	case OpDelete:
		return role == store.RoleOwner
	}
	return false
}

// MembershipLookup finds the membership row for a (user, group) pair and
// returns nil when there is none.
type MembershipLookup interface {
	GetMembershipFor(ctx context.Context, userID, groupID string) (*store.Membership, error)
}

// Checker authorizes group operations against stored memberships.
type Checker struct {
	memberships MembershipLookup
}

// NewChecker creates a checker backed by the given membership lookup.
func NewChecker(memberships MembershipLookup) *Checker {
	return &Checker{memberships: memberships}
}

// Authorize returns nil when userID may perform op on groupID and
// ErrForbidden when it may not. Lookup failures are returned wrapped.
func (c *Checker) Authorize(ctx context.Context, userID, groupID string, op Operation) error {
	switch op {
	case OpRead, OpCreate:
		return nil
	case OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrForbidden, op)
	}
	if userID == "" {
		return ErrForbidden
	}

	m, err := c.memberships.GetMembershipFor(ctx, userID, groupID)
	if err != nil {
		return fmt.Errorf("lookup membership: %w", err)
	}
	if m == nil || !Allowed(m.Role, op) {
		return ErrForbidden
	}
	return nil
}
