/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	httpRequestMetricsLabelMethod       = "method"
	httpRequestMetricsLabelRoutePattern = "route_pattern"
	httpRequestMetricsLabelStatusCode   = "status_code"
)

// DefaultHTTPRequestDurationBuckets is default buckets into which observations of serving HTTP requests are counted.
var DefaultHTTPRequestDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// RoutePatternGetterFunc is a function for getting route pattern from the request.
type RoutePatternGetterFunc func(r *http.Request) string

// GetChiRoutePattern returns the pattern of the chi route matched for the request.
func GetChiRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

// HTTPRequestMetricsCollector represents collector of metrics for incoming HTTP requests.
type HTTPRequestMetricsCollector struct {
	Durations *prometheus.HistogramVec
	InFlight  *prometheus.GaugeVec
}

// NewHTTPRequestMetricsCollector creates a new metrics collector.
func NewHTTPRequestMetricsCollector(namespace string) *HTTPRequestMetricsCollector {
	return &HTTPRequestMetricsCollector{
		Durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "A histogram of the HTTP request durations.",
				Buckets:   DefaultHTTPRequestDurationBuckets,
			},
			[]string{httpRequestMetricsLabelMethod, httpRequestMetricsLabelRoutePattern, httpRequestMetricsLabelStatusCode},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being served.",
			},
			[]string{httpRequestMetricsLabelMethod},
		),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (c *HTTPRequestMetricsCollector) MustRegister() {
	prometheus.MustRegister(c.Durations, c.InFlight)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (c *HTTPRequestMetricsCollector) Unregister() {
	prometheus.Unregister(c.InFlight)
	prometheus.Unregister(c.Durations)
}

type httpRequestMetricsHandler struct {
	next            http.Handler
	collector       *HTTPRequestMetricsCollector
	getRoutePattern RoutePatternGetterFunc
}

// HTTPRequestMetrics is a middleware that collects metrics for incoming HTTP requests using Prometheus data types.
// If getRoutePattern is nil, GetChiRoutePattern is used.
func HTTPRequestMetrics(
	collector *HTTPRequestMetricsCollector, getRoutePattern RoutePatternGetterFunc,
) func(next http.Handler) http.Handler {
	if getRoutePattern == nil {
		getRoutePattern = GetChiRoutePattern
	}
	return func(next http.Handler) http.Handler {
		return &httpRequestMetricsHandler{next: next, collector: collector, getRoutePattern: getRoutePattern}
	}
}

func (h *httpRequestMetricsHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	startTime := GetRequestStartTimeFromContext(r.Context())
	if startTime.IsZero() {
		startTime = time.Now()
		r = r.WithContext(NewContextWithRequestStartTime(r.Context(), startTime))
	}

	inFlightGauge := h.collector.InFlight.WithLabelValues(r.Method)
	inFlightGauge.Inc()
	defer inFlightGauge.Dec()

	wrw := chimw.NewWrapResponseWriter(rw, r.ProtoMajor)
	defer func() {
		// Route pattern is known only after the router has matched the request.
		routePattern := h.getRoutePattern(r)
		if p := recover(); p != nil {
			if p != http.ErrAbortHandler {
				h.observe(r.Method, routePattern, http.StatusInternalServerError, startTime)
			}
			panic(p)
		}
		status := wrw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.observe(r.Method, routePattern, status, startTime)
	}()

	h.next.ServeHTTP(wrw, r)
}

func (h *httpRequestMetricsHandler) observe(method, routePattern string, status int, startTime time.Time) {
	h.collector.Durations.With(prometheus.Labels{
		httpRequestMetricsLabelMethod:       method,
		httpRequestMetricsLabelRoutePattern: routePattern,
		httpRequestMetricsLabelStatusCode:   strconv.Itoa(status),
	}).Observe(time.Since(startTime).Seconds())
}

// Decision labels of the guard metrics.
const (
	RateLimitDecisionAllowed  = "allowed"
	RateLimitDecisionRejected = "rejected"
	RateLimitDecisionDryRun   = "dry_run"
	RateLimitDecisionExempt   = "exempt"
	RateLimitDecisionError    = "error"

	IdempotencyOutcomeStored   = "stored"
	IdempotencyOutcomeReplayed = "replayed"
	IdempotencyOutcomeConflict = "conflict"
	IdempotencyOutcomeSkipped  = "skipped"
	IdempotencyOutcomeError    = "error"
)

// GuardMetricsCollector counts decisions made by the RateLimit and Idempotency middlewares.
type GuardMetricsCollector struct {
	RateLimitDecisions  *prometheus.CounterVec
	IdempotencyOutcomes *prometheus.CounterVec
}

// NewGuardMetricsCollector creates a new GuardMetricsCollector.
func NewGuardMetricsCollector(namespace string) *GuardMetricsCollector {
	return &GuardMetricsCollector{
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "The total number of rate limit decisions by outcome.",
		}, []string{"decision"}),
		IdempotencyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_outcomes_total",
			Help:      "The total number of requests with idempotency key by outcome.",
		}, []string{"outcome"}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (c *GuardMetricsCollector) MustRegister() {
	prometheus.MustRegister(c.RateLimitDecisions, c.IdempotencyOutcomes)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (c *GuardMetricsCollector) Unregister() {
	prometheus.Unregister(c.RateLimitDecisions)
	prometheus.Unregister(c.IdempotencyOutcomes)
}

func (c *GuardMetricsCollector) incRateLimitDecision(decision string) {
	if c == nil {
		return
	}
	c.RateLimitDecisions.WithLabelValues(decision).Inc()
}

func (c *GuardMetricsCollector) incIdempotencyOutcome(outcome string) {
	if c == nil {
		return
	}
	c.IdempotencyOutcomes.WithLabelValues(outcome).Inc()
}
