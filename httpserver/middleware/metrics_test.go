/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/testutil"
)

func TestHTTPRequestMetricsHandler_ServeHTTP(t *testing.T) {
	collector := NewHTTPRequestMetricsCollector("")

	router := chi.NewRouter()
	router.Use(HTTPRequestMetrics(collector, nil))
	router.Post("/api/v1/returns/{id}", func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, 1, int(gaugeValue(t, collector.InFlight.WithLabelValues(http.MethodPost))))
		rw.WriteHeader(http.StatusCreated)
	})
	router.Get("/panic", func(rw http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/returns/r-1", nil))
		require.Equal(t, http.StatusCreated, resp.Code)
	}
	hist := collector.Durations.With(prometheus.Labels{
		httpRequestMetricsLabelMethod:       http.MethodPost,
		httpRequestMetricsLabelRoutePattern: "/api/v1/returns/{id}",
		httpRequestMetricsLabelStatusCode:   "201",
	}).(prometheus.Histogram)
	testutil.AssertSamplesCountInHistogram(t, hist, 3)
	require.Equal(t, 0, int(gaugeValue(t, collector.InFlight.WithLabelValues(http.MethodPost))))

	require.Panics(t, func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/panic", nil))
	})
	hist = collector.Durations.With(prometheus.Labels{
		httpRequestMetricsLabelMethod:       http.MethodGet,
		httpRequestMetricsLabelRoutePattern: "/panic",
		httpRequestMetricsLabelStatusCode:   "500",
	}).(prometheus.Histogram)
	testutil.AssertSamplesCountInHistogram(t, hist, 1)
}

func TestGuardMetricsCollector_NilSafe(t *testing.T) {
	var c *GuardMetricsCollector
	require.NotPanics(t, func() {
		c.incRateLimitDecision(RateLimitDecisionAllowed)
		c.incIdempotencyOutcome(IdempotencyOutcomeStored)
	})

	c = NewGuardMetricsCollector("reqguard")
	require.NotPanics(t, c.MustRegister)
	c.Unregister()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(g))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	return families[0].GetMetric()[0].GetGauge().GetValue()
}
