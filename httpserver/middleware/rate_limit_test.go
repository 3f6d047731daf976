/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/log/logtest"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/restapi"
	"github.com/acronis/go-reqguard/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 11, 29, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingLimiter struct {
	err error
}

func (l *failingLimiter) Check(_ context.Context, _ string, _ int) (ratelimit.Result, error) {
	return ratelimit.Result{}, l.err
}

func makeCountingNext() (http.HandlerFunc, *atomic.Int32) {
	servedCount := atomic.NewInt32(0)
	return func(rw http.ResponseWriter, r *http.Request) {
		servedCount.Inc()
		rw.WriteHeader(http.StatusOK)
	}, servedCount
}

func TestRateLimitHandler_ServeHTTP(t *testing.T) {
	const errDomain = "Returns"

	newLimiter := func(clock *testClock) *ratelimit.TokenBucketLimiter {
		return ratelimit.NewTokenBucketLimiterWithOpts(
			ratelimit.BucketConfig{MaxTokens: 3, RefillRate: 1, Cost: 1}, ratelimit.TokenBucketOpts{Now: clock.Now})
	}

	sendReq := func(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/returns", nil)
		req.RemoteAddr = remoteAddr
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp
	}

	t.Run("limit by client IP, reject with 429 and headers", func(t *testing.T) {
		clock := newTestClock()
		next, served := makeCountingNext()
		handler := RateLimit(newLimiter(clock), errDomain)(next)

		for _, wantRemaining := range []int{2, 1, 0} {
			resp := sendReq(handler, "10.0.0.1:40000")
			require.Equal(t, http.StatusOK, resp.Code)
			testutil.RequireRateLimitHeaders(t, resp.Header(), 3, wantRemaining, 3-wantRemaining)
		}

		resp := sendReq(handler, "10.0.0.1:40001") // Another port of the same client.
		testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, errDomain, restapi.ErrCodeTooManyRequests)
		testutil.RequireRateLimitHeaders(t, resp.Header(), 3, 0, 1)
		require.Equal(t, "1", resp.Header().Get(HeaderRetryAfter))
		require.Equal(t, 3, int(served.Load()))

		// Other clients have their own buckets.
		require.Equal(t, http.StatusOK, sendReq(handler, "10.0.0.2:40000").Code)

		clock.Advance(time.Second)
		require.Equal(t, http.StatusOK, sendReq(handler, "10.0.0.1:40000").Code)
		require.Equal(t, 5, int(served.Load()))
	})

	t.Run("custom key and cost", func(t *testing.T) {
		clock := newTestClock()
		next, served := makeCountingNext()
		handler := MustRateLimitWithOpts(newLimiter(clock), errDomain, RateLimitOpts{
			GetKey:  GetKeyByHeader("X-Customer-ID"),
			GetCost: func(r *http.Request) int { return 2 },
		})(next)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Customer-ID", "user-1")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code)
		testutil.RequireRateLimitHeaders(t, resp.Header(), 3, 1, 2)

		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, http.StatusTooManyRequests, resp.Code)
		require.Equal(t, "1", resp.Header().Get(HeaderRetryAfter))

		// No header means no limiting.
		for i := 0; i < 5; i++ {
			resp = httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
			require.Equal(t, http.StatusOK, resp.Code)
			require.Empty(t, resp.Header().Get(HeaderRateLimitLimit))
		}
		require.Equal(t, 6, int(served.Load()))
	})

	t.Run("exempt keys", func(t *testing.T) {
		metrics := NewGuardMetricsCollector("")
		next, served := makeCountingNext()
		handler := MustRateLimitWithOpts(newLimiter(newTestClock()), errDomain, RateLimitOpts{
			ExemptKeys: []string{"10.1.*", "127.0.0.1"},
			Metrics:    metrics,
		})(next)

		for i := 0; i < 10; i++ {
			require.Equal(t, http.StatusOK, sendReq(handler, "10.1.2.3:1234").Code)
			require.Equal(t, http.StatusOK, sendReq(handler, "127.0.0.1:1234").Code)
		}
		require.Equal(t, 20, int(served.Load()))
		testutil.RequireSamplesCountInCounter(t, metrics.RateLimitDecisions.WithLabelValues(RateLimitDecisionExempt), 20)
	})

	t.Run("empty exempt key pattern", func(t *testing.T) {
		_, err := RateLimitWithOpts(newLimiter(newTestClock()), errDomain, RateLimitOpts{ExemptKeys: []string{""}})
		require.EqualError(t, err, "exempt key pattern cannot be empty")
		_, err = RateLimitWithOpts(nil, errDomain, RateLimitOpts{})
		require.Error(t, err)
	})

	t.Run("dry run", func(t *testing.T) {
		logger := logtest.NewRecorder()
		metrics := NewGuardMetricsCollector("")
		next, served := makeCountingNext()
		handler := MustRateLimitWithOpts(newLimiter(newTestClock()), errDomain, RateLimitOpts{DryRun: true, Metrics: metrics})(next)

		for i := 0; i < 5; i++ {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(NewContextWithLogger(req.Context(), logger))
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			require.Equal(t, http.StatusOK, resp.Code)
		}
		require.Equal(t, 5, int(served.Load()))

		entry, found := logger.FindEntry("too many requests, serving will be continued because of dry run mode")
		require.True(t, found)
		require.Equal(t, log.LevelWarn, entry.Level)
		testutil.RequireSamplesCountInCounter(t, metrics.RateLimitDecisions.WithLabelValues(RateLimitDecisionAllowed), 3)
		testutil.RequireSamplesCountInCounter(t, metrics.RateLimitDecisions.WithLabelValues(RateLimitDecisionDryRun), 2)
	})

	t.Run("limiter error, fail open", func(t *testing.T) {
		logger := logtest.NewRecorder()
		next, served := makeCountingNext()
		handler := RateLimit(&failingLimiter{errors.New("redis: connection refused")}, errDomain)(next)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(NewContextWithLogger(req.Context(), logger))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, 1, int(served.Load()))
		entry, found := logger.FindEntry("rate limiting failed, request is served without limiting")
		require.True(t, found)
		errField, found := entry.FindField("error")
		require.True(t, found)
		require.Contains(t, errField.Any.(error).Error(), "connection refused")
	})

	t.Run("limiter error, fail closed", func(t *testing.T) {
		next, served := makeCountingNext()
		handler := MustRateLimitWithOpts(&failingLimiter{errors.New("redis: connection refused")}, errDomain,
			RateLimitOpts{FailClosed: true})(next)

		resp := sendReq(handler, "10.0.0.1:1234")
		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)
		require.Equal(t, 0, int(served.Load()))
	})

	t.Run("result and key are available to inner handlers", func(t *testing.T) {
		var gotResult ratelimit.Result
		var gotOK bool
		lp := &LoggingParams{}
		handler := RateLimit(newLimiter(newTestClock()), errDomain)(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			gotResult, gotOK = GetRateLimitResultFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.7:1234"
		req = req.WithContext(NewContextWithLoggingParams(req.Context(), lp))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.True(t, gotOK)
		require.Equal(t, ratelimit.Result{Allowed: true, Limit: 3, Remaining: 2, ResetIn: time.Second}, gotResult)
		var keyLogged bool
		for _, f := range lp.Fields() {
			if f.Key == RateLimitLogFieldKey && string(f.Bytes) == "10.0.0.7" {
				keyLogged = true
			}
		}
		require.True(t, keyLogged)
	})
}

func TestGetKeyByIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	key, bypass, err := GetKeyByIP(req)
	require.NoError(t, err)
	require.False(t, bypass)
	require.Equal(t, "::1", key)

	req.RemoteAddr = "192.168.0.10"
	key, _, err = GetKeyByIP(req)
	require.NoError(t, err)
	require.Equal(t, "192.168.0.10", key)
}
