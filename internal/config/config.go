// Package config handles splitify configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// Environment variables that override values from the config file.
const (
	EnvJWTSecret    = "SPLITIFY_JWT_SECRET"
	EnvStorageDSN   = "SPLITIFY_STORAGE_DSN"
	EnvJWKSAudience = "SPLITIFY_JWKS_AUDIENCE"
)

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Media     MediaConfig     `json:"media,omitempty"`
	Events    EventsConfig    `json:"events,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

// ServerConfig defines the HTTP listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"` // e.g. ":8000"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max JSON body size; default 1MB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider     string        `json:"provider,omitempty"` // "builtin" (default) or "jwks"
	JWTSecret    string        `json:"jwt_secret,omitempty"`
	JWTExpiry    Duration      `json:"jwt_expiry,omitempty"`
	InitialAdmin *InitialAdmin `json:"initial_admin,omitempty"`
	JWKS         JWKSConfig    `json:"jwks,omitempty"`
}

// JWKSConfig configures verification of tokens issued by an external identity provider.
type JWKSConfig struct {
	Domain   string `json:"domain,omitempty"`   // e.g. "tenant.eu.auth0.com"
	Issuer   string `json:"issuer,omitempty"`   // defaults to https://{domain}/
	Audience string `json:"audience,omitempty"` // e.g. "https://splitify.com/api"
	URL      string `json:"url,omitempty"`      // defaults to {issuer}.well-known/jwks.json
}

// InitialAdmin is used to bootstrap the first admin user.
type InitialAdmin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver         string   `json:"driver"`                    // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn"`                       // e.g. "splitify.db" or ":memory:"
	AuditRetention Duration `json:"audit_retention,omitempty"` // audit event retention; default 90 days
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json", "text" or "pretty"
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
	RedisAddr         string  `json:"redis_addr,omitempty"`          // shared limiter across replicas
	RedisPassword     string  `json:"redis_password,omitempty"`
	RedisDB           int     `json:"redis_db,omitempty"`
}

// MediaConfig defines where uploaded images live.
type MediaConfig struct {
	Root     string `json:"root,omitempty"`      // default "./media"
	URLPath  string `json:"url_path,omitempty"`  // default "/media/"
	MaxBytes int64  `json:"max_bytes,omitempty"` // default 5MB
}

// EventsConfig defines where group activity events are published.
type EventsConfig struct {
	Kafka KafkaConfig `json:"kafka,omitempty"`
}

// KafkaConfig enables the Kafka event sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"` // default "splitify.group-events"
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Disabled bool   `json:"disabled,omitempty"`
	Path     string `json:"path,omitempty"` // default "/metrics"
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvJWKSAudience); v != "" {
		c.Auth.JWKS.Audience = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Provider {
	case "", "builtin":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required")
		}
	case "jwks":
		if c.Auth.JWKS.Domain == "" && c.Auth.JWKS.Issuer == "" {
			return fmt.Errorf("auth.jwks.domain or auth.jwks.issuer is required when provider is jwks")
		}
		if c.Auth.JWKS.Audience == "" {
			return fmt.Errorf("auth.jwks.audience is required when provider is jwks")
		}
	default:
		return fmt.Errorf("unknown auth provider: %q", c.Auth.Provider)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}
	switch c.Logging.Format {
	case "", "json", "text", "pretty":
	default:
		return fmt.Errorf("logging.format must be json, text or pretty")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Auth.Provider == "jwks" {
		if c.Auth.JWKS.Issuer == "" {
			c.Auth.JWKS.Issuer = "https://" + c.Auth.JWKS.Domain + "/"
		}
		if c.Auth.JWKS.URL == "" {
			c.Auth.JWKS.URL = strings.TrimSuffix(c.Auth.JWKS.Issuer, "/") + "/.well-known/jwks.json"
		}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "splitify.db"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 90 * 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Media.Root == "" {
		c.Media.Root = "./media"
	}
	if c.Media.URLPath == "" {
		c.Media.URLPath = "/media/"
	}
	if !strings.HasSuffix(c.Media.URLPath, "/") {
		c.Media.URLPath += "/"
	}
	if c.Media.MaxBytes == 0 {
		c.Media.MaxBytes = 5 * 1024 * 1024 // 5MB
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "splitify.group-events"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Defaults returns a config populated with defaults for the given address and secret.
// Used by the init wizard and by tests.
func Defaults(addr, jwtSecret string) *Config {
	cfg := &Config{}
	cfg.Server.Addr = addr
	cfg.Auth.JWTSecret = jwtSecret
	cfg.applyDefaults()
	return cfg
}
