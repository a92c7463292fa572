// Package metrics exposes Prometheus collectors for the HTTP API and the
// group lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	groupsCreated     prometheus.Counter
	membershipsSeeded prometheus.Counter
	authzDenied       *prometheus.CounterVec
	rateLimited       prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitify",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "splitify",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		groupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitify",
			Name:      "groups_created_total",
			Help:      "Groups created.",
		}),
		membershipsSeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitify",
			Name:      "owner_memberships_seeded_total",
			Help:      "Owner memberships inserted for group creators.",
		}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitify",
			Name:      "authorization_denied_total",
			Help:      "Requests rejected by the group role policy, by operation.",
		}, []string{"operation"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitify",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.requests, m.latency, m.groupsCreated, m.membershipsSeeded, m.authzDenied, m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request count and latency labelled by the chi route
// pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// GroupCreated counts a created group and whether an owner was seeded.
func (m *Metrics) GroupCreated(seeded bool) {
	if m == nil {
		return
	}
	m.groupsCreated.Inc()
	if seeded {
		m.membershipsSeeded.Inc()
	}
}

// AuthorizationDenied counts a policy denial for the given operation.
func (m *Metrics) AuthorizationDenied(op string) {
	if m == nil {
		return
	}
	m.authzDenied.WithLabelValues(op).Inc()
}

// RateLimited counts a request rejected by a limiter.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
