// Package api provides the HTTP API and middleware for splitify.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/splitify/splitify/internal/auth"
	"github.com/splitify/splitify/internal/config"
	"github.com/splitify/splitify/internal/feed"
	"github.com/splitify/splitify/internal/metrics"
	"github.com/splitify/splitify/internal/policy"
	"github.com/splitify/splitify/internal/store"
)

// Options carries the optional collaborators of a Server.
type Options struct {
	Metrics *metrics.Metrics
	// Publisher receives every activity event in addition to the
	// in-process WebSocket broker (e.g. the Kafka sink).
	Publisher feed.Publisher
	// Redis, when set, backs the per-user rate limiter so the limit is
	// shared across replicas.
	Redis *redis.Client
}

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	authProvider  auth.Provider
	loginProvider auth.LoginProvider
	policy        *policy.Checker
	broker        *feed.Broker
	streamer      *feed.Streamer
	publisher     feed.Publisher
	metrics       *metrics.Metrics
	media         *mediaStore
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time
	maxBodyBytes  int64
	loginRL       *rateLimiter
	rl            *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, ap auth.Provider, lp auth.LoginProvider, cfg *config.Config, logger *slog.Logger, opts Options) *Server {
	logger = logger.With("component", "api")
	broker := feed.NewBroker(logger)

	var publisher feed.Publisher = broker
	if opts.Publisher != nil {
		publisher = feed.Multi{broker, opts.Publisher}
	}

	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		policy:        policy.NewChecker(s),
		broker:        broker,
		streamer:      feed.NewStreamer(broker, cfg.Server.AllowedOrigins, logger),
		publisher:     publisher,
		metrics:       opts.Metrics,
		media: &mediaStore{
			root:     cfg.Media.Root,
			urlPath:  cfg.Media.URLPath,
			maxBytes: cfg.Media.MaxBytes,
		},
		logger:       logger,
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(chimw.StripSlashes)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))
	mux.Use(srv.metrics.Middleware)
	mux.Use(srv.requestLogMiddleware)

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	if opts.Metrics != nil && !cfg.Metrics.Disabled {
		mux.Method(http.MethodGet, cfg.Metrics.Path, opts.Metrics.Handler())
	}

	mux.Get("/api/public", srv.handlePublic)
	mux.Get(srv.media.urlPath+"*", srv.handleMedia)

	// Login route only registered when using builtin auth.
	if lp != nil {
		srv.loginRL = newRateLimiter(5, 10)
		mux.With(srv.limitMiddleware(srv.loginRL, clientIP, "too many login attempts")).
			Post("/api/auth/login", srv.handleLogin)
	}

	// WebSocket route (auth handled inside, token may be a query parameter)
	mux.Get("/api/groups/{groupID}/events", srv.handleGroupEvents)

	// Authenticated API routes
	var userLimiter limiter
	if opts.Redis != nil {
		userLimiter = newRedisLimiter(opts.Redis, cfg.RateLimit.Burst)
	} else {
		srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		userLimiter = srv.rl
	}
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(srv.limitMiddleware(userLimiter, identityKeyFor, "rate limit exceeded"))

		r.Get("/api/private", srv.handlePrivate)
		r.Get("/api/me", srv.handleGetMe)
		r.Get("/api/users", srv.handleListUsers)

		r.Get("/api/currencies", srv.handleListCurrencies)
		r.Post("/api/currencies", srv.handleCreateCurrency)
		r.Get("/api/currencies/{currencyID}", srv.handleGetCurrency)
		r.Put("/api/currencies/{currencyID}", srv.handleUpdateCurrency(false))
		r.Patch("/api/currencies/{currencyID}", srv.handleUpdateCurrency(true))
		r.Delete("/api/currencies/{currencyID}", srv.handleDeleteCurrency)

		r.Get("/api/categories", srv.handleListCategories)
		r.Post("/api/categories", srv.handleCreateCategory)
		r.Get("/api/categories/{categoryID}", srv.handleGetCategory)
		r.Put("/api/categories/{categoryID}", srv.handleUpdateCategory(false))
		r.Patch("/api/categories/{categoryID}", srv.handleUpdateCategory(true))
		r.Delete("/api/categories/{categoryID}", srv.handleDeleteCategory)

		r.Get("/api/groups", srv.handleListGroups)
		r.Post("/api/groups", srv.handleCreateGroup)
		r.Get("/api/groups/{groupID}", srv.handleGetGroup)
		r.Put("/api/groups/{groupID}", srv.handleUpdateGroup(false))
		r.Patch("/api/groups/{groupID}", srv.handleUpdateGroup(true))
		r.Delete("/api/groups/{groupID}", srv.handleDeleteGroup)

		r.Get("/api/group-members", srv.handleListMemberships)
		r.Post("/api/group-members", srv.handleCreateMembership)
		r.Get("/api/group-members/{membershipID}", srv.handleGetMembership)
		r.Put("/api/group-members/{membershipID}", srv.handleUpdateMembership(false))
		r.Patch("/api/group-members/{membershipID}", srv.handleUpdateMembership(true))
		r.Delete("/api/group-members/{membershipID}", srv.handleDeleteMembership)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(srv.adminMiddleware)
			// User management only available with builtin auth.
			if lp != nil {
				r.Post("/api/users", srv.handleCreateUser)
			}
			r.Get("/api/admin/audit", srv.handleAdminListAuditEvents)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broker returns the in-process event broker feeding WebSocket subscribers.
func (s *Server) Broker() *feed.Broker {
	return s.broker
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.loginRL != nil {
		s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// authorize applies the membership policy to the acting user. On denial it
// records the attempt, answers 403 and returns false.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, groupID string, op policy.Operation) bool {
	identity := getIdentityFromContext(r.Context())
	userID := ""
	if identity != nil {
		userID = identity.UserID
	}

	err := s.policy.Authorize(r.Context(), userID, groupID, op)
	if err == nil {
		return true
	}
	if !errors.Is(err, policy.ErrForbidden) {
		s.writeStoreError(w, r, err, "check permissions")
		return false
	}

	s.metrics.AuthorizationDenied(string(op))
	s.audit(r.Context(), "authz.denied", userID, groupID, map[string]string{"operation": string(op)})
	writeError(w, http.StatusForbidden, msgForbidden)
	return false
}

// audit records an event. Failures are logged and never fail the request.
func (s *Server) audit(ctx context.Context, action, userID, groupID string, detail any) {
	event := &store.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		UserID:    userID,
		GroupID:   groupID,
		CreatedAt: time.Now(),
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			event.Detail = b
		}
	}
	if err := s.store.LogAuditEvent(ctx, event); err != nil {
		s.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}

// publish sends an activity event. Failures are logged and never fail the
// request.
func (s *Server) publish(ctx context.Context, e feed.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", "type", e.Type, "group_id", e.GroupID, "error", err)
	}
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Hello from a public endpoint! You don't need to be authenticated to see this.",
	})
}

func (s *Server) handlePrivate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Hello from a private endpoint! You need to be authenticated to see this.",
	})
}

// parseLimitOffset reads ?limit= and ?offset= for the admin listings.
func parseLimitOffset(r *http.Request, def, max int) (limit, offset int) {
	limit = def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
