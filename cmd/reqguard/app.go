/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/acronis/go-reqguard/httpserver"
	"github.com/acronis/go-reqguard/httpserver/middleware"
	"github.com/acronis/go-reqguard/idempotency"
	"github.com/acronis/go-reqguard/internal/redisconn"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/lrucache"
	"github.com/acronis/go-reqguard/profserver"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/restapi"
	"github.com/acronis/go-reqguard/service"
)

const (
	errDomain        = "ReqGuard"
	metricsNamespace = "reqguard"
)

// HeaderCustomerID identifies the storefront customer. Requests without it are limited by client IP.
const HeaderCustomerID = "X-Customer-ID"

type app struct {
	server       *httpserver.HTTPServer
	unit         *appUnit
	redisClient  *redis.Client
	limiter      ratelimit.Limiter
	store        idempotency.Store
	memBuckets   *ratelimit.TokenBucketLimiter
	guardMetrics *middleware.GuardMetricsCollector

	limiterInRedis bool
	storeInRedis   bool
}

// appUnit runs the HTTP server and the sweep workers and owns the metrics which are not tied to any of them.
type appUnit struct {
	*service.CompositeUnit
	guardMetrics *middleware.GuardMetricsCollector
	cacheMetrics *lrucache.PrometheusMetrics
}

func (u *appUnit) MustRegisterMetrics() {
	u.CompositeUnit.MustRegisterMetrics()
	u.guardMetrics.MustRegister()
	if u.cacheMetrics != nil {
		u.cacheMetrics.MustRegister()
	}
	restapi.MustInitAndRegisterMetrics(metricsNamespace)
}

func (u *appUnit) UnregisterMetrics() {
	u.CompositeUnit.UnregisterMetrics()
	u.guardMetrics.Unregister()
	if u.cacheMetrics != nil {
		u.cacheMetrics.Unregister()
	}
	restapi.UnregisterMetrics()
}

func newApp(ctx context.Context, cfg *AppConfig, logger log.FieldLogger) (*app, error) {
	a := &app{
		guardMetrics:   middleware.NewGuardMetricsCollector(metricsNamespace),
		limiterInRedis: cfg.RateLimit.Backend == ratelimit.BackendRedis,
		storeInRedis:   cfg.Idempotency.Backend == idempotency.BackendRedis,
	}

	if cfg.usesRedis() {
		client, err := redisconn.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		a.redisClient = client
	}

	var units []service.Unit

	limiter, limiterSweep, err := a.makeLimiter(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.limiter = limiter
	a.memBuckets = limiterSweep
	if limiterSweep != nil {
		units = append(units, service.NewWorkerUnit(ratelimit.NewCleanupWorker(limiterSweep, cfg.RateLimit.CleanupInterval, logger)))
	}

	store, cacheMetrics, err := a.makeStore(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	units = append(units, service.NewWorkerUnit(idempotency.NewCleanupWorker(store, cfg.Idempotency.CleanupInterval, logger)))

	rateLimitMw, err := middleware.RateLimitWithOpts(limiter, errDomain, middleware.RateLimitOpts{
		GetKey:     getCustomerKey,
		ExemptKeys: cfg.RateLimit.ExemptKeys,
		DryRun:     cfg.RateLimit.DryRun,
		Metrics:    a.guardMetrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create rate limit middleware: %w", err)
	}
	idempotencyMw := middleware.IdempotencyWithOpts(store, errDomain, middleware.IdempotencyOpts{
		Header:      cfg.Idempotency.Header,
		Required:    cfg.Idempotency.Required,
		MaxBodySize: uint64(cfg.Idempotency.MaxBodySize),
		GetKey:      scopeIdempotencyKeyByCustomer,
		Metrics:     a.guardMetrics,
	})

	returns := newReturnsHandler(uint64(cfg.Server.Limits.MaxBodySizeBytes))
	a.server = httpserver.New(cfg.Server, logger, httpserver.Opts{
		ErrorDomain:      errDomain,
		MetricsNamespace: metricsNamespace,
		HealthChecks:     a.healthChecks(),
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: func(router chi.Router) {
				router.Group(func(router chi.Router) {
					router.Use(rateLimitMw, idempotencyMw)
					returns.Register(router)
				})
			},
		},
	})
	units = append([]service.Unit{a.server}, units...)

	if cfg.ProfServer.Enabled {
		units = append(units, profserver.New(cfg.ProfServer, logger, a.stats))
	}

	a.unit = &appUnit{
		CompositeUnit: service.NewCompositeUnit(units...),
		guardMetrics:  a.guardMetrics,
		cacheMetrics:  cacheMetrics,
	}
	return a, nil
}

func (a *app) makeLimiter(cfg *AppConfig) (ratelimit.Limiter, *ratelimit.TokenBucketLimiter, error) {
	rlCfg := cfg.RateLimit
	if rlCfg.Algorithm == ratelimit.AlgorithmLeakyBucket {
		limiter, err := ratelimit.NewLeakyBucketLimiter(rlCfg.Bucket, rlCfg.MaxKeys)
		if err != nil {
			return nil, nil, fmt.Errorf("create leaky bucket limiter: %w", err)
		}
		return limiter, nil, nil
	}
	if rlCfg.Backend == ratelimit.BackendRedis {
		return ratelimit.NewRedisTokenBucketLimiterWithOpts(a.redisClient, rlCfg.Bucket, ratelimit.RedisTokenBucketOpts{
			KeyPrefix:   cfg.Redis.StorageKeyPrefix + "ratelimit:",
			IdleTimeout: rlCfg.IdleTimeout,
		}), nil, nil
	}
	limiter := ratelimit.NewTokenBucketLimiterWithOpts(rlCfg.Bucket, ratelimit.TokenBucketOpts{IdleTimeout: rlCfg.IdleTimeout})
	return limiter, limiter, nil
}

func (a *app) makeStore(cfg *AppConfig) (idempotency.Store, *lrucache.PrometheusMetrics, error) {
	idemCfg := cfg.Idempotency
	if idemCfg.Backend == idempotency.BackendRedis {
		return idempotency.NewRedisStoreWithOpts(a.redisClient, idempotency.RedisStoreOpts{
			TTL:       idemCfg.TTL,
			KeyPrefix: cfg.Redis.StorageKeyPrefix + "idempotency:",
		}), nil, nil
	}
	cacheMetrics := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace: metricsNamespace + "_idempotency",
	})
	store, err := idempotency.NewMemoryStoreWithOpts(idempotency.MemoryStoreOpts{
		TTL:              idemCfg.TTL,
		MaxKeys:          idemCfg.MaxKeys,
		MetricsCollector: cacheMetrics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create idempotency store: %w", err)
	}
	return store, cacheMetrics, nil
}

func (a *app) healthChecks() httpserver.HealthChecks {
	var pingRedis httpserver.HealthCheckFunc
	if a.redisClient != nil {
		pingRedis = func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		}
	}
	checks := httpserver.HealthChecks{
		httpserver.HealthCheckComponentRateLimiter:      nil,
		httpserver.HealthCheckComponentIdempotencyStore: nil,
	}
	if a.limiterInRedis {
		checks[httpserver.HealthCheckComponentRateLimiter] = pingRedis
	}
	if a.storeInRedis {
		checks[httpserver.HealthCheckComponentIdempotencyStore] = pingRedis
	}
	return checks
}

// stats reports the size of the in-process state. Redis-backed parts are not reported.
func (a *app) stats() map[string]int {
	res := make(map[string]int, 2)
	if a.memBuckets != nil {
		res["rate_limit_buckets"] = a.memBuckets.Len()
	}
	if memStore, ok := a.store.(*idempotency.MemoryStore); ok {
		res["idempotency_records"] = memStore.Len()
	}
	return res
}

// Unit returns the service unit of the application.
func (a *app) Unit() service.Unit {
	return a.unit
}

// Close releases the Redis connection if any and drops in-memory idempotency records.
func (a *app) Close() {
	if memStore, ok := a.store.(*idempotency.MemoryStore); ok {
		memStore.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
}

// getCustomerKey limits signed-in customers by their ID and anonymous visitors by IP.
func getCustomerKey(r *http.Request) (key string, bypass bool, err error) {
	if customerID := r.Header.Get(HeaderCustomerID); customerID != "" {
		return "customer:" + customerID, false, nil
	}
	return middleware.GetKeyByIP(r)
}

// scopeIdempotencyKeyByCustomer keeps keys of different customers apart.
// The customer ID is escaped so it never contains the separator, and anonymous keys get their own namespace.
func scopeIdempotencyKeyByCustomer(r *http.Request, headerValue string) string {
	if customerID := r.Header.Get(HeaderCustomerID); customerID != "" {
		return "c/" + url.PathEscape(customerID) + "/" + headerValue
	}
	return "anon/" + headerValue
}
