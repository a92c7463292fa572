package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/splitify/splitify/internal/config"
)

// JWKSProvider validates RS256 tokens issued by an external identity provider
// against its published JSON Web Key Set.
type JWKSProvider struct {
	issuer   string
	audience string
	jwks     keyfunc.Keyfunc
}

// NewJWKSProvider creates a provider that fetches and refreshes the key set
// at cfg.URL until ctx is canceled. An unreachable key set is not an error
// here; tokens simply fail to verify until keys are available.
func NewJWKSProvider(ctx context.Context, cfg config.JWKSConfig) (*JWKSProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", cfg.URL, err)
	}

	return newJWKSProvider(cfg.Issuer, cfg.Audience, jwks), nil
}

func newJWKSProvider(issuer, audience string, jwks keyfunc.Keyfunc) *JWKSProvider {
	return &JWKSProvider{
		issuer:   issuer,
		audience: audience,
		jwks:     jwks,
	}
}

// ValidateToken parses an RS256 JWT and returns an external Identity. The
// caller links it to a local user.
func (p *JWKSProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthorized
	}

	return &Identity{
		Subject:  sub,
		Username: UsernameFromSubject(sub),
		Role:     "user",
	}, nil
}

// UsernameFromSubject derives the local username from a provider subject
// such as "auth0|64f0c2". Pipes are not allowed in usernames.
func UsernameFromSubject(sub string) string {
	return strings.ReplaceAll(sub, "|", ".")
}

// Bootstrap is a no-op: users are managed by the identity provider.
func (p *JWKSProvider) Bootstrap(context.Context) error {
	return nil
}

// Name returns the provider name.
func (p *JWKSProvider) Name() string { return "jwks" }

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
