/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/restapi"
)

// RateLimitLogFieldKey is the name of the logged field that contains a key for the requests rate limiter.
const RateLimitLogFieldKey = "rate_limit_key"

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting or handling an occurred error.
type RateLimitParams struct {
	ErrDomain string
	Key       string
	Cost      int
	Result    ratelimit.Result
}

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOnErrorFunc is a function that is called when the limiter fails to make a decision.
type RateLimitOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitGetKeyFunc is a function that is called for getting key for rate limiting.
// If bypass is true, the request is served without any limiting.
type RateLimitGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// RateLimitGetCostFunc returns the number of tokens the request costs.
// A non-positive value means the default cost of the limiter.
type RateLimitGetCostFunc func(r *http.Request) int

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// GetKey returns the identifier of the client. GetKeyByIP is used by default.
	GetKey RateLimitGetKeyFunc
	// GetCost returns the per-request cost. The cost of the limiter's bucket config is used by default.
	GetCost RateLimitGetCostFunc
	// ExemptKeys are glob patterns ("*" wildcard) of keys which are never limited.
	ExemptKeys []string
	// DryRun makes the middleware only log rejections.
	DryRun bool
	// FailClosed makes limiter errors respond with 500. By default, the request is served (fail-open).
	FailClosed bool

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc

	Metrics *GuardMetricsCollector
}

type rateLimitHandler struct {
	next      http.Handler
	limiter   ratelimit.Limiter
	errDomain string
	getKey    RateLimitGetKeyFunc
	getCost   RateLimitGetCostFunc
	exempt    []func(s string) bool
	dryRun    bool
	metrics   *GuardMetricsCollector

	onReject RateLimitOnRejectFunc
	onError  RateLimitOnErrorFunc
}

// RateLimit is a middleware that limits the rate of HTTP requests per client IP address.
func RateLimit(limiter ratelimit.Limiter, errDomain string) func(next http.Handler) http.Handler {
	return MustRateLimitWithOpts(limiter, errDomain, RateLimitOpts{})
}

// RateLimitWithOpts is a configurable version of a middleware to limit the rate of HTTP requests.
func RateLimitWithOpts(limiter ratelimit.Limiter, errDomain string, opts RateLimitOpts) (func(next http.Handler) http.Handler, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter cannot be nil")
	}
	getKey := opts.GetKey
	if getKey == nil {
		getKey = GetKeyByIP
	}
	exempt := make([]func(s string) bool, 0, len(opts.ExemptKeys))
	for _, pattern := range opts.ExemptKeys {
		if pattern == "" {
			return nil, fmt.Errorf("exempt key pattern cannot be empty")
		}
		exempt = append(exempt, glob.Compile(pattern))
	}
	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:      next,
			limiter:   limiter,
			errDomain: errDomain,
			getKey:    getKey,
			getCost:   opts.GetCost,
			exempt:    exempt,
			dryRun:    opts.DryRun,
			metrics:   opts.Metrics,
			onReject:  makeRateLimitOnRejectFunc(opts),
			onError:   makeRateLimitOnErrorFunc(opts),
		}
	}, nil
}

// MustRateLimitWithOpts is a version of RateLimitWithOpts that panics if an error occurs.
func MustRateLimitWithOpts(limiter ratelimit.Limiter, errDomain string, opts RateLimitOpts) func(next http.Handler) http.Handler {
	mw, err := RateLimitWithOpts(limiter, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromContext(r.Context())

	key, bypass, err := h.getKey(r)
	if err != nil {
		h.metrics.incRateLimitDecision(RateLimitDecisionError)
		h.onError(rw, r, RateLimitParams{ErrDomain: h.errDomain}, fmt.Errorf("get rate limit key: %w", err), h.next, logger)
		return
	}
	if bypass || h.isExempt(key) {
		h.metrics.incRateLimitDecision(RateLimitDecisionExempt)
		h.next.ServeHTTP(rw, r)
		return
	}

	cost := 0
	if h.getCost != nil {
		cost = h.getCost(r)
	}
	params := RateLimitParams{ErrDomain: h.errDomain, Key: key, Cost: cost}

	result, err := h.limiter.Check(r.Context(), key, cost)
	if err != nil {
		h.metrics.incRateLimitDecision(RateLimitDecisionError)
		h.onError(rw, r, params, fmt.Errorf("check rate limit: %w", err), h.next, logger)
		return
	}
	params.Result = result
	setRateLimitHeaders(rw, result)
	GetLoggingParamsFromContext(r.Context()).ExtendFields(
		log.String(RateLimitLogFieldKey, key), log.Int("rate_limit_remaining", result.Remaining))

	if !result.Allowed {
		if h.dryRun {
			h.metrics.incRateLimitDecision(RateLimitDecisionDryRun)
		} else {
			h.metrics.incRateLimitDecision(RateLimitDecisionRejected)
		}
		h.onReject(rw, r, params, h.next, logger)
		return
	}

	h.metrics.incRateLimitDecision(RateLimitDecisionAllowed)
	h.next.ServeHTTP(rw, r.WithContext(NewContextWithRateLimitResult(r.Context(), result)))
}

func (h *rateLimitHandler) isExempt(key string) bool {
	for _, match := range h.exempt {
		if match(key) {
			return true
		}
	}
	return false
}

func setRateLimitHeaders(rw http.ResponseWriter, result ratelimit.Result) {
	rw.Header().Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
	rw.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	rw.Header().Set(HeaderRateLimitReset, strconv.Itoa(int(result.ResetIn.Seconds())))
}

// GetKeyByIP returns the IP address of the client (without port) as the rate limit key.
func GetKeyByIP(r *http.Request) (key string, bypass bool, err error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without port.
		return r.RemoteAddr, false, nil
	}
	return host, false, nil
}

// GetKeyByHeader makes a RateLimitGetKeyFunc which uses the value of the header as the key.
// Requests without the header are served without limiting.
func GetKeyByHeader(header string) RateLimitGetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		key := r.Header.Get(header)
		return key, key == "", nil
	}
}

// DefaultRateLimitOnReject responds with 429, Retry-After header and the tooManyRequests error.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	rw.Header().Set(HeaderRetryAfter, strconv.Itoa(int(params.Result.ResetIn.Seconds())))
	restapi.RespondError(rw, http.StatusTooManyRequests, restapi.NewTooManyRequestsError(params.ErrDomain), logger)
}

// DefaultRateLimitOnRejectInDryRun logs the rejection and serves the request.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

// DefaultRateLimitOnError logs the error and serves the request without limiting.
func DefaultRateLimitOnError(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error("rate limiting failed, request is served without limiting",
			log.Error(err), log.String(RateLimitLogFieldKey, params.Key))
	}
	next.ServeHTTP(rw, r)
}

// RateLimitOnErrorFailClosed logs the error and responds with 500.
func RateLimitOnErrorFailClosed(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error(err.Error(), log.String(RateLimitLogFieldKey, params.Key))
	}
	restapi.RespondInternalError(rw, params.ErrDomain, logger)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}

func makeRateLimitOnErrorFunc(opts RateLimitOpts) RateLimitOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	if opts.FailClosed {
		return RateLimitOnErrorFailClosed
	}
	return DefaultRateLimitOnError
}
