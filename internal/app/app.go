// Package app is the main orchestrator that ties all splitify components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/splitify/splitify/internal/api"
	"github.com/splitify/splitify/internal/auth"
	"github.com/splitify/splitify/internal/config"
	"github.com/splitify/splitify/internal/feed"
	"github.com/splitify/splitify/internal/metrics"
	"github.com/splitify/splitify/internal/store"
)

// App is the main splitify process.
type App struct {
	cfg          *config.Config
	store        store.Store
	authProvider auth.Provider
	api          *api.Server
	kafka        *feed.KafkaPublisher
	redis        *redis.Client
	logger       *slog.Logger
}

// New creates the app from configuration. ctx bounds background work started
// during construction, such as key set refreshes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a := &App{
		cfg:    cfg,
		store:  db,
		logger: logger.With("component", "app"),
	}

	// Create auth provider based on config.
	authProvider, err := auth.NewProvider(ctx, cfg.Auth, db)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}
	a.authProvider = authProvider

	// Bootstrap (creates admin user for builtin provider).
	if err := authProvider.Bootstrap(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	// Get LoginProvider.
	var loginProvider auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		loginProvider = lp
	}

	opts := api.Options{}
	if !cfg.Metrics.Disabled {
		opts.Metrics = metrics.New()
	}
	if len(cfg.Events.Kafka.Brokers) > 0 {
		kp, err := feed.NewKafkaPublisher(cfg.Events.Kafka)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		a.kafka = kp
		opts.Publisher = kp
	}
	if cfg.RateLimit.RedisAddr != "" {
		client, err := api.NewRedisClient(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, cfg.RateLimit.RedisDB)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("init rate limiter: %w", err)
		}
		a.redis = client
		opts.Redis = client
	}

	// Initialize API server.
	a.api = api.NewServer(db, authProvider, loginProvider, cfg, logger, opts)

	// Startup validation warnings (only for builtin provider).
	if authProvider.Name() == "builtin" {
		if cfg.Auth.InitialAdmin != nil &&
			cfg.Auth.InitialAdmin.Username == "admin" && cfg.Auth.InitialAdmin.Password == "admin" {
			logger.Warn("default admin credentials detected (admin/admin), change immediately in production")
		}
		logger.Warn("builtin auth provider in use, configure jwks for production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start rate limiter cleanup tasks.
	a.api.StartBackgroundTasks(ctx)

	// Start retention purger.
	if a.cfg.Storage.AuditRetention.Duration > 0 {
		go a.runRetentionPurger(ctx, time.Hour, a.cfg.Storage.AuditRetention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("splitify listening", "addr", a.cfg.Server.Addr, "auth", a.authProvider.Name())
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		a.closeAll()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		a.closeAll()
		return err
	}
}

// closeAll releases the store and the optional broker connections.
func (a *App) closeAll() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("closing kafka publisher", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.logger.Info("closing store")
	_ = a.store.Close()
}

func (a *App) runRetentionPurger(ctx context.Context, interval, auditRetention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeAuditEvents(ctx, auditRetention)
		}
	}
}

func (a *App) purgeAuditEvents(ctx context.Context, retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	if n, err := a.store.PurgeOldAuditEvents(ctx, cutoff); err != nil {
		a.logger.Warn("retention purge: audit events failed", "error", err)
	} else if n > 0 {
		a.logger.Info("retention purge: deleted old audit events", "count", n)
	}
}
