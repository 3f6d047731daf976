/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/acronis/go-reqguard/httpserver/middleware"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/restapi"
)

// StatusClientClosedRequest is used when the client closed the request before the health-check finished.
const StatusClientClosedRequest = 499

// DefaultHealthCheckTimeout bounds a single component check.
const DefaultHealthCheckTimeout = 3 * time.Second

// HealthCheckComponentName is a type alias for component names. It's used for better readability.
type HealthCheckComponentName = string

// Names of the components that reqguard reports in health-check responses.
const (
	HealthCheckComponentRateLimiter      HealthCheckComponentName = "rate_limiter"
	HealthCheckComponentIdempotencyStore HealthCheckComponentName = "idempotency_store"
)

// HealthCheckFunc checks a single component. A nil error means the component is healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthChecks maps component names to their checks. A nil check always reports a healthy component.
type HealthChecks map[HealthCheckComponentName]HealthCheckFunc

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler implements http.Handler and checks the components of the service one by one.
// It responds 200 if all components are healthy and 503 otherwise.
type HealthCheckHandler struct {
	checks  HealthChecks
	names   []string
	timeout time.Duration
}

// NewHealthCheckHandler creates a new http.Handler for doing health-check.
func NewHealthCheckHandler(checks HealthChecks) *HealthCheckHandler {
	return NewHealthCheckHandlerWithTimeout(checks, DefaultHealthCheckTimeout)
}

// NewHealthCheckHandlerWithTimeout creates a new http.Handler for doing health-check
// where every component check is limited by the timeout.
func NewHealthCheckHandlerWithTimeout(checks HealthChecks, timeout time.Duration) *HealthCheckHandler {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	if timeout <= 0 {
		timeout = DefaultHealthCheckTimeout
	}
	return &HealthCheckHandler{checks: checks, names: names, timeout: timeout}
}

// ServeHTTP serves heath-check HTTP request.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	respData := healthCheckResponseData{Components: make(map[string]bool, len(h.names))}
	healthy := true
	for _, name := range h.names {
		err := h.check(r.Context(), h.checks[name])
		if errors.Is(r.Context().Err(), context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		respData.Components[name] = err == nil
		if err != nil {
			healthy = false
			if logger != nil {
				logger.Error("component is unhealthy", log.String("component", name), log.Error(err))
			}
		}
	}
	if errors.Is(r.Context().Err(), context.Canceled) {
		rw.WriteHeader(StatusClientClosedRequest)
		return
	}

	respStatus := http.StatusOK
	if !healthy {
		respStatus = http.StatusServiceUnavailable
	}
	restapi.RespondCodeAndJSON(rw, respStatus, respData, logger)
}

func (h *HealthCheckHandler) check(ctx context.Context, fn HealthCheckFunc) error {
	if fn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return fn(ctx)
}
