package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// limiter decides whether the caller identified by key may proceed.
type limiter interface {
	allow(ctx context.Context, key string) (bool, error)
}

// rateLimiter is an in-process per-key token bucket limiter.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
}

type bucket struct {
	lim        *rate.Limiter
	lastAccess time.Time
}

func newRateLimiter(requestsPerSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastAccess = time.Now()
	return b.lim.Allow(), nil
}

// cleanup removes buckets that haven't been accessed for maxAge.
func (rl *rateLimiter) cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for key, b := range rl.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup periodically removes stale rate limit buckets.
func (rl *rateLimiter) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxAge)
			}
		}
	}()
}

// redisLimiter is a fixed one-second window shared by every replica. Each key
// may make burst requests per window.
type redisLimiter struct {
	client *redis.Client
	burst  int
	prefix string
}

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func newRedisLimiter(client *redis.Client, burst int) *redisLimiter {
	return &redisLimiter{client: client, burst: burst, prefix: "splitify:ratelimit:"}
}

func (rl *redisLimiter) allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix()
	k := fmt.Sprintf("%s%s:%d", rl.prefix, key, window)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(rl.burst), nil
}

// limitMiddleware rejects requests whose key is over the limit. Limiter
// failures let the request through.
func (s *Server) limitMiddleware(l limiter, keyFn func(*http.Request) string, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := l.allow(r.Context(), key)
			if err != nil {
				s.logger.Warn("rate limiter unavailable", "error", err)
				ok = true
			}
			if !ok {
				s.metrics.RateLimited()
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses RemoteAddr, which chi's RealIP middleware has already
// rewritten, stripped of its port.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func identityKeyFor(r *http.Request) string {
	identity := getIdentityFromContext(r.Context())
	if identity == nil {
		return ""
	}
	return identity.UserID
}
