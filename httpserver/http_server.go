/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-reqguard/httpserver/middleware"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/service"
)

// systemEndpoints is a list of endpoints which are not involved in metrics collecting.
var systemEndpoints = []string{"/metrics", "/healthz"}

// APIVersion is a type alias for API version.
type APIVersion = int

// APIRoute is a type alias for single API route.
type APIRoute = func(router chi.Router)

// Opts represents options for creating HTTPServer.
type Opts struct {
	// ServiceNameInURL is a prefix for API routes (e.g., "/api/service_name/v1").
	ServiceNameInURL string
	APIRoutes        map[APIVersion]APIRoute
	RootMiddlewares  []func(http.Handler) http.Handler
	ErrorDomain      string

	HealthChecks   HealthChecks
	MetricsHandler http.Handler

	// MetricsNamespace is used as a namespace for HTTP request metrics.
	MetricsNamespace string
	// GetRoutePattern is used for the route_pattern label. Chi route pattern is used by default.
	GetRoutePattern middleware.RoutePatternGetterFunc

	// Listener is a pre-configured network listener to use instead of creating a new one.
	Listener net.Listener
}

func (opts Opts) routerOpts() RouterOpts {
	return RouterOpts{
		ServiceNameInURL: opts.ServiceNameInURL,
		APIRoutes:        opts.APIRoutes,
		RootMiddlewares:  opts.RootMiddlewares,
		ErrorDomain:      opts.ErrorDomain,
		HealthChecks:     opts.HealthChecks,
		MetricsHandler:   opts.MetricsHandler,
	}
}

// HTTPServer represents a wrapper around http.Server with additional fields and methods.
// chi.Router is used as a handler for the server.
// It also implements service.Unit and service.MetricsRegisterer interfaces.
type HTTPServer struct {
	URL             string
	HTTPServer      *http.Server
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener       net.Listener
	port           int32
	httpServerDone atomic.Value
	metrics        *middleware.HTTPRequestMetricsCollector
}

var _ service.Unit = (*HTTPServer)(nil)
var _ service.MetricsRegisterer = (*HTTPServer)(nil)

// New creates a new HTTPServer with predefined logging, metrics collecting,
// recovering after panics and health-checking functionality.
func New(cfg *Config, logger log.FieldLogger, opts Opts) *HTTPServer { //nolint // hugeParam: opts is heavy, it's ok in this case.
	metricsCollector := middleware.NewHTTPRequestMetricsCollector(opts.MetricsNamespace)
	router := chi.NewRouter()
	applyDefaultMiddlewaresToRouter(router, cfg, logger, opts, metricsCollector)
	configureRouter(router, logger, opts.routerOpts())

	httpServer := &http.Server{
		Addr:              cfg.Address,
		WriteTimeout:      time.Duration(cfg.Timeouts.Write),
		ReadTimeout:       time.Duration(cfg.Timeouts.Read),
		ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
		IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		Handler:           router,
	}
	return &HTTPServer{
		URL:             "http://" + cfg.Address,
		HTTPServer:      httpServer,
		HTTPRouter:      router,
		Logger:          logger,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
		listener:        opts.Listener,
		metrics:         metricsCollector,
	}
}

// Start starts application HTTP server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("write_timeout", s.HTTPServer.WriteTimeout),
		log.Duration("read_timeout", s.HTTPServer.ReadTimeout),
		log.Duration("read_header_timeout", s.HTTPServer.ReadHeaderTimeout),
		log.Duration("idle_timeout", s.HTTPServer.IdleTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)

	logger.Info("starting application HTTP server...")

	var err error
	if s.listener == nil {
		if s.listener, err = net.Listen("tcp", s.HTTPServer.Addr); err != nil {
			logger.Error("application HTTP server error", log.Error(err))
			fatalError <- err
			return
		}
	}

	if s.listener.Addr().Network() == "tcp" {
		var portStr string
		if _, portStr, err = net.SplitHostPort(s.listener.Addr().String()); err != nil {
			logger.Error("unexpected format of TCP listener address: unable to split host and port", log.Error(err))
			fatalError <- err
			return
		}
		var port int64
		if port, err = strconv.ParseInt(portStr, 10, 32); err != nil {
			logger.Error("unexpected format of TCP listener address: no numeric port", log.Error(err))
			fatalError <- err
			return
		}
		atomic.StoreInt32(&s.port, int32(port))
	}

	if err = s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("application HTTP server closed")
			return
		}
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops application HTTP server (gracefully or not).
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing application HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("application HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down application HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("application HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("application HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *HTTPServer) waitDone() {
	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done
	}
}

// MustRegisterMetrics registers metrics in Prometheus client and panics if any error occurs.
func (s *HTTPServer) MustRegisterMetrics() {
	s.metrics.MustRegister()
}

// UnregisterMetrics unregisters metrics in Prometheus client.
func (s *HTTPServer) UnregisterMetrics() {
	s.metrics.Unregister()
}

// GetPort returns the port the server listens on. It's 0 until the server is started.
func (s *HTTPServer) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
