/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-reqguard/httpserver/middleware"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/restapi"
)

// RouterOpts configures the system endpoints and API routes of the router.
type RouterOpts struct {
	ServiceNameInURL string
	APIRoutes        map[APIVersion]APIRoute
	RootMiddlewares  []func(http.Handler) http.Handler
	ErrorDomain      string
	HealthChecks     HealthChecks
	MetricsHandler   http.Handler
}

// nolint // hugeParam: opts is heavy, it's ok in this case.
func configureRouter(router chi.Router, logger log.FieldLogger, opts RouterOpts) {
	router.Use(opts.RootMiddlewares...)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthChecks))

	apiPrefix := "/api"
	if opts.ServiceNameInURL != "" {
		apiPrefix += "/" + opts.ServiceNameInURL
	}
	if len(opts.APIRoutes) != 0 {
		router.Route(apiPrefix, func(router chi.Router) {
			for ver, r := range opts.APIRoutes {
				router.Route(fmt.Sprintf("/v%d", ver), r)
			}
		})
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, logger)
	})

	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeMethodNotAllowed, restapi.ErrMessageMethodNotAllowed)
		restapi.RespondError(rw, http.StatusMethodNotAllowed, apiErr, logger)
	})
}

// nolint // hugeParam: opts is heavy, it's ok in this case.
func applyDefaultMiddlewaresToRouter(
	router chi.Router, cfg *Config, logger log.FieldLogger, opts Opts, metricsCollector *middleware.HTTPRequestMetricsCollector,
) {
	router.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(rw, r.WithContext(middleware.NewContextWithRequestStartTime(r.Context(), time.Now())))
		})
	})

	router.Use(middleware.RequestID())

	loggingOpts := middleware.LoggingOpts{
		RequestStart:         cfg.Log.RequestStart,
		RequestHeaders:       make(map[string]string, len(cfg.Log.RequestHeaders)),
		ExcludedEndpoints:    cfg.Log.ExcludedEndpoints,
		SlowRequestThreshold: time.Duration(cfg.Log.SlowRequestThreshold),
	}
	for _, headerName := range cfg.Log.RequestHeaders {
		logFieldKey := "req_header_" + strings.ToLower(strings.ReplaceAll(headerName, "-", "_"))
		loggingOpts.RequestHeaders[headerName] = logFieldKey
	}
	router.Use(middleware.LoggingWithOpts(logger, loggingOpts))

	router.Use(middleware.Recovery(opts.ErrorDomain))

	// System endpoints are not involved in metrics collecting.
	metricsMw := middleware.HTTPRequestMetrics(metricsCollector, opts.GetRoutePattern)
	router.Use(func(next http.Handler) http.Handler {
		withMetrics := metricsMw(next)
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if isSystemEndpoint(r.URL.Path) {
				next.ServeHTTP(rw, r)
				return
			}
			withMetrics.ServeHTTP(rw, r)
		})
	})

	if cfg.Limits.MaxBodySizeBytes > 0 {
		maxBytes := int64(cfg.Limits.MaxBodySizeBytes)
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(rw, r.Body, maxBytes)
				next.ServeHTTP(rw, r)
			})
		})
	}
}

func isSystemEndpoint(path string) bool {
	for i := range systemEndpoints {
		if path == systemEndpoints[i] {
			return true
		}
	}
	return false
}
