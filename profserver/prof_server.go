/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides a debug HTTP server with pprof handlers and a snapshot of the guard state
// (number of tracked buckets and stored idempotency records).
package profserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-reqguard/httpserver/middleware"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/restapi"
	"github.com/acronis/go-reqguard/service"
)

const (
	statsPath       = "/debug/reqguard/stats"
	shutdownTimeout = 5 * time.Second
)

// StatsFunc returns named gauges of the in-process guard state, e.g. the number of rate limit buckets.
type StatsFunc func() map[string]int

// ProfServer serves pprof under /debug and, if a StatsFunc is given, the guard state snapshot.
type ProfServer struct {
	URL    string
	server *http.Server
	done   chan struct{}
	logger log.FieldLogger
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a new ProfServer. It doesn't listen until Start is called.
func New(cfg *Config, logger log.FieldLogger, stats StatsFunc) *ProfServer {
	logger = logger.With(log.String("address", cfg.Address))

	router := chi.NewRouter()
	router.Use(middleware.RequestID(), middleware.Logging(logger))
	router.Mount("/debug", chimiddleware.Profiler())
	if stats != nil {
		router.Get(statsPath, func(rw http.ResponseWriter, r *http.Request) {
			restapi.RespondJSON(rw, stats(), middleware.GetLoggerFromContext(r.Context()))
		})
	}

	return &ProfServer{
		URL:    "http://" + cfg.Address,
		server: &http.Server{Addr: cfg.Address, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start blocks serving requests. A listen or serve error is sent to fatalError.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.done)

	s.logger.Info("profiling server is starting")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		s.logger.Info("profiling server stopped")
		return
	}
	s.logger.Error("profiling server failed", log.Error(err))
	fatalError <- err
}

// Stop shuts the server down, waiting up to 5 seconds for in-flight profiles when gracefully is true.
func (s *ProfServer) Stop(gracefully bool) error {
	var err error
	if gracefully {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.server.Shutdown(ctx)
	} else {
		err = s.server.Close()
	}
	if err != nil {
		s.logger.Error("profiling server stop failed", log.Error(err))
		return err
	}
	<-s.done
	return nil
}
