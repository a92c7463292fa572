package auth

import (
	"context"

	"github.com/splitify/splitify/internal/store"
)

// Identity is the unified identity representation for all auth providers.
type Identity struct {
	UserID   string // local user ID; resolved after provisioning for external identities
	Subject  string // identity provider subject; empty for builtin tokens
	Username string
	Role     string // "admin" or "user"
}

// External reports whether the identity was issued by an external provider
// and still needs to be linked to a local user.
func (id *Identity) External() bool {
	return id.Subject != ""
}

// Provider validates bearer tokens and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Bootstrap(ctx context.Context) error
	Name() string
}

// LoginProvider is implemented by providers that support username/password login.
type LoginProvider interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password, role string) (*store.User, error)
}
