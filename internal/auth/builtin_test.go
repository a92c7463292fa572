package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/splitify/splitify/internal/config"
	"github.com/splitify/splitify/internal/store"
)

const testSecret = "test-secret-at-least-32-chars-long"

func newTestAuthService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.AuthConfig{
		JWTSecret: testSecret,
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
	}

	return NewService(s, cfg), s
}

func TestBootstrap(t *testing.T) {
	svc, s := newTestAuthService(t)
	ctx := context.Background()

	admin := &config.InitialAdmin{
		Username: "admin",
		Password: "admin-password",
	}

	// First bootstrap should create the admin user
	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	user, err := s.GetUser(ctx, "admin")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil {
		t.Fatal("admin user not created")
	}
	if user.Role != "admin" {
		t.Errorf("Role: got %q, want %q", user.Role, "admin")
	}

	// Second bootstrap should be idempotent (no error, no duplicate)
	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatalf("Bootstrap (idempotent): %v", err)
	}

	_, total, err := s.ListUsers(ctx, store.Page{})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 user after double bootstrap, got %d", total)
	}

	if err := svc.BootstrapAdmin(ctx, nil); err != nil {
		t.Fatalf("BootstrapAdmin(nil): %v", err)
	}
}

func TestLoginSuccess(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "secret123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := svc.Login(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected JWT with 3 parts, got %d", len(parts))
	}
}

func TestLoginFailures(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "secret123", "user"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "secret123", "user")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := svc.Login(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	identity, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if identity.UserID != user.ID {
		t.Errorf("UserID: got %q, want %q", identity.UserID, user.ID)
	}
	if identity.Username != "alice" || identity.Role != "user" {
		t.Errorf("identity: got %+v", identity)
	}
	if identity.External() {
		t.Error("builtin identity must not be external")
	}
}

func TestValidateTokenRejects(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	sign := func(secret string, claims jwt.Claims, method jwt.SigningMethod) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}
	valid := &Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign("another-secret-that-is-32-chars-long", valid, jwt.SigningMethodHS256)},
		{"no expiry", sign(testSecret, &Claims{UserID: "u1"}, jwt.SigningMethodHS256)},
		{"no user id", sign(testSecret, &Claims{RegisteredClaims: valid.RegisteredClaims}, jwt.SigningMethodHS256)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(ctx, tt.token); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}

	if _, err := svc.ValidateToken(ctx, sign(testSecret, valid, jwt.SigningMethodHS256)); err != nil {
		t.Errorf("control token rejected: %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc := NewService(s, config.AuthConfig{
		JWTSecret: testSecret,
		JWTExpiry: config.Duration{Duration: -1 * time.Hour}, // expired 1h ago
	})
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "secret123", "user"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := svc.Login(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "secret123", "user"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other-password", "user"); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestIssueToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "bob", "secret123", "admin")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := svc.IssueToken(ctx, "bob")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	identity, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if identity.UserID != user.ID || identity.Role != "admin" {
		t.Errorf("identity: got %+v", identity)
	}

	if _, err := svc.IssueToken(ctx, "nobody"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	p, err := NewProvider(context.Background(), config.AuthConfig{JWTSecret: testSecret}, s)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "builtin" {
		t.Errorf("Name: got %q", p.Name())
	}
	if _, ok := p.(LoginProvider); !ok {
		t.Error("builtin provider must support login")
	}

	if _, err := NewProvider(context.Background(), config.AuthConfig{Provider: "ldap"}, s); err == nil {
		t.Error("expected error for unknown provider")
	}
}
