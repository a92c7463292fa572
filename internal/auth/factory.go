package auth

import (
	"context"
	"fmt"

	"github.com/splitify/splitify/internal/config"
	"github.com/splitify/splitify/internal/store"
)

// NewProvider creates an auth Provider based on configuration. ctx bounds the
// lifetime of any background key refresh.
func NewProvider(ctx context.Context, cfg config.AuthConfig, s store.Store) (Provider, error) {
	switch cfg.Provider {
	case "jwks":
		return NewJWKSProvider(ctx, cfg.JWKS)
	case "builtin", "":
		return NewService(s, cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
