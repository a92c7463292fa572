package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/splitify/splitify/internal/auth"
	"github.com/splitify/splitify/internal/store"
)

type contextKey string

const identityKey contextKey = "identity"

// bearerToken extracts the token from the Authorization header. When
// allowQuery is set, a ?token= parameter is accepted as well, for WebSocket
// clients that cannot set headers.
func bearerToken(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// authenticate validates the token and resolves it to a local user,
// provisioning one the first time an external subject is seen.
func (s *Server) authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	identity, err := s.authProvider.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if identity.External() {
		return s.ensureUser(ctx, identity)
	}

	user, err := s.store.GetUserByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, auth.ErrUnknownUser
	}
	identity.Role = user.Role
	return identity, nil
}

func (s *Server) ensureUser(ctx context.Context, identity *auth.Identity) (*auth.Identity, error) {
	user, err := s.store.GetUserByExternalID(ctx, identity.Subject)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		user = &store.User{
			ID:         uuid.New().String(),
			ExternalID: identity.Subject,
			Username:   identity.Username,
			Role:       "user",
			CreatedAt:  time.Now(),
		}
		err := s.store.CreateUser(ctx, user)
		if errors.Is(err, store.ErrDuplicateUser) {
			// Another request provisioned the subject first.
			user, err = s.store.GetUserByExternalID(ctx, identity.Subject)
			if err == nil && user == nil {
				err = fmt.Errorf("username %q is taken", identity.Username)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("provision user: %w", err)
		}
		s.logger.Info("provisioned user", "user_id", user.ID, "username", user.Username)
	}
	identity.UserID = user.ID
	identity.Username = user.Username
	identity.Role = user.Role
	return identity, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r, false)
		if token == "" {
			writeError(w, http.StatusUnauthorized, msgNotAuthed)
			return
		}

		identity, err := s.authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) && !errors.Is(err, auth.ErrUnknownUser) {
				s.logger.Warn("authentication failed", "error", err)
			}
			writeError(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := getIdentityFromContext(r.Context())
		if identity == nil || identity.Role != "admin" {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getIdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestLogMiddleware logs each request at debug level.
func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
