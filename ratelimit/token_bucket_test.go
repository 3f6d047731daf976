/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type TokenBucketLimiterTestSuite struct {
	suite.Suite
	clock *testClock
}

func TestTokenBucketLimiter(t *testing.T) {
	suite.Run(t, new(TokenBucketLimiterTestSuite))
}

func (s *TokenBucketLimiterTestSuite) SetupTest() {
	s.clock = newTestClock()
}

func (s *TokenBucketLimiterTestSuite) newLimiter(cfg BucketConfig) *TokenBucketLimiter {
	return NewTokenBucketLimiterWithOpts(cfg, TokenBucketOpts{Now: s.clock.Now})
}

func (s *TokenBucketLimiterTestSuite) TestUserScenario() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: 3, RefillRate: 1, Cost: 1})

	for _, wantRemaining := range []int{2, 1, 0} {
		res := limiter.CheckRateLimit("user-1")
		s.True(res.Allowed)
		s.Equal(wantRemaining, res.Remaining)
		s.Equal(3, res.Limit)
	}

	res := limiter.CheckRateLimit("user-1")
	s.Equal(Result{Allowed: false, Limit: 3, Remaining: 0, ResetIn: time.Second}, res)
}

func (s *TokenBucketLimiterTestSuite) TestFreshBucket() {
	limiter := s.newLimiter(DefaultBucketConfig)

	res := limiter.CheckRateLimit("user-1", BucketConfig{MaxTokens: 10, RefillRate: 1, Cost: 3})
	s.True(res.Allowed)
	s.Equal(7, res.Remaining)
	s.Equal(3*time.Second, res.ResetIn)

	res = limiter.CheckRateLimit("ip:10.0.0.7")
	s.True(res.Allowed)
	s.Equal(DefaultBucketConfig.MaxTokens-DefaultBucketConfig.Cost, res.Remaining)
	s.Equal(time.Second, res.ResetIn) // ceil(1 / 10)
}

func (s *TokenBucketLimiterTestSuite) TestExactlyMaxTokensAllowed() {
	for _, maxTokens := range []int{1, 5, 100} {
		limiter := s.newLimiter(BucketConfig{MaxTokens: maxTokens, RefillRate: 1, Cost: 1})
		for i := 0; i < maxTokens; i++ {
			s.True(limiter.CheckRateLimit("user-1").Allowed, "call #%d of %d", i+1, maxTokens)
		}
		s.False(limiter.CheckRateLimit("user-1").Allowed)
	}
}

func (s *TokenBucketLimiterTestSuite) TestRefillGranularity() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: 3, RefillRate: 4, Cost: 1})
	for i := 0; i < 3; i++ {
		s.True(limiter.CheckRateLimit("user-1").Allowed)
	}
	s.False(limiter.CheckRateLimit("user-1").Allowed)

	s.clock.Advance(250 * time.Millisecond)
	res := limiter.CheckRateLimit("user-1")
	s.True(res.Allowed)
	s.Equal(0, res.Remaining)
	s.False(limiter.CheckRateLimit("user-1").Allowed)

	// The bucket never grows above its capacity.
	s.clock.Advance(time.Hour)
	res = limiter.CheckRateLimit("user-1")
	s.True(res.Allowed)
	s.Equal(2, res.Remaining)
}

func (s *TokenBucketLimiterTestSuite) TestRejectedResetIn() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: 5, RefillRate: 0.5, Cost: 1})

	res, err := limiter.Check(context.Background(), "user-1", 4)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(1, res.Remaining)
	s.Equal(8*time.Second, res.ResetIn) // ceil(4 / 0.5)

	res, err = limiter.Check(context.Background(), "user-1", 3)
	s.Require().NoError(err)
	s.Equal(Result{Allowed: false, Limit: 5, Remaining: 0, ResetIn: 4 * time.Second}, res) // ceil((3 - 1) / 0.5)

	// Partially refilled tokens are rounded down in Remaining and the rest is rounded up in ResetIn.
	s.clock.Advance(3 * time.Second)
	res, err = limiter.Check(context.Background(), "user-1", 0)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(1, res.Remaining) // 1 + 1.5 - 1 = 1.5
	s.Equal(7*time.Second, res.ResetIn)
}

func (s *TokenBucketLimiterTestSuite) TestCostGreaterThanCapacity() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: 2, RefillRate: 1, Cost: 1})
	res, err := limiter.Check(context.Background(), "user-1", 5)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(3*time.Second, res.ResetIn)

	// Nothing was debited.
	s.Equal(1, limiter.CheckRateLimit("user-1").Remaining)
}

func (s *TokenBucketLimiterTestSuite) TestEmptyIdentifier() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: 1, RefillRate: 1, Cost: 1})
	for i := 0; i < 3; i++ {
		res := limiter.CheckRateLimit("")
		s.Equal(Result{Allowed: true, Limit: 1, Remaining: 1}, res)
	}
	s.Equal(0, limiter.Len())
}

func (s *TokenBucketLimiterTestSuite) TestBucketsAreKeyedByShape() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: 2, RefillRate: 1, Cost: 1})
	s.True(limiter.CheckRateLimit("user-1").Allowed)
	s.True(limiter.CheckRateLimit("user-1").Allowed)
	s.False(limiter.CheckRateLimit("user-1").Allowed)

	checkout := BucketConfig{MaxTokens: 10, RefillRate: 1, Cost: 1}
	res := limiter.CheckRateLimit("user-1", checkout)
	s.True(res.Allowed)
	s.Equal(9, res.Remaining)
	s.Equal(10, res.Limit)

	// Cost does not change the bucket identity.
	res = limiter.CheckRateLimit("user-1", BucketConfig{MaxTokens: 10, RefillRate: 1, Cost: 4})
	s.True(res.Allowed)
	s.Equal(5, res.Remaining)
	s.Equal(2, limiter.Len())
}

func (s *TokenBucketLimiterTestSuite) TestDefaultsForInvalidConfig() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: -1, RefillRate: 0})
	s.Equal(DefaultBucketConfig, limiter.BucketConfig())
	res := limiter.CheckRateLimit("user-1", BucketConfig{MaxTokens: 3})
	s.Equal(3, res.Limit)
	s.Equal(2, res.Remaining)
}

func (s *TokenBucketLimiterTestSuite) TestRemainingBounds() {
	cfg := BucketConfig{MaxTokens: 7, RefillRate: 3, Cost: 2}
	limiter := s.newLimiter(cfg)
	steps := []time.Duration{0, 10 * time.Millisecond, 0, 700 * time.Millisecond, 0, 0, 5 * time.Second, 0, 333 * time.Millisecond}
	for i := 0; i < 50; i++ {
		s.clock.Advance(steps[i%len(steps)])
		res := limiter.CheckRateLimit("user-1")
		s.GreaterOrEqual(res.Remaining, 0)
		s.LessOrEqual(res.Remaining, cfg.MaxTokens)
		s.GreaterOrEqual(res.ResetIn, time.Duration(0))
		s.Zero(res.ResetIn % time.Second)
		if !res.Allowed {
			s.Zero(res.Remaining)
			s.Positive(res.ResetIn)
		}
	}
}

func (s *TokenBucketLimiterTestSuite) TestCleanup() {
	limiter := s.newLimiter(BucketConfig{MaxTokens: 3, RefillRate: 0.001, Cost: 1})

	limiter.CheckRateLimit("stale")
	limiter.CheckRateLimit("boundary")
	s.clock.Advance(time.Minute)
	limiter.CheckRateLimit("stale-2")
	s.clock.Advance(5 * time.Minute)
	limiter.CheckRateLimit("fresh")
	s.clock.Advance(4*time.Minute + time.Second)
	limiter.CheckRateLimit("boundary")
	s.Equal(4, limiter.Len())

	s.clock.Advance(time.Minute)
	// stale: 11m1s idle, stale-2: 10m1s idle, fresh: 5m1s idle, boundary: 1m idle.
	s.Equal(2, limiter.Cleanup())
	s.Equal(2, limiter.Len())
	s.Equal(0, limiter.Cleanup())

	// A removed identifier starts over with a full bucket.
	s.Equal(2, limiter.CheckRateLimit("stale").Remaining)
	s.Equal(1, limiter.CheckRateLimit("fresh").Remaining)
}

func (s *TokenBucketLimiterTestSuite) TestCleanupKeepsExactlyIdleTimeout() {
	limiter := NewTokenBucketLimiterWithOpts(DefaultBucketConfig, TokenBucketOpts{IdleTimeout: time.Minute, Now: s.clock.Now})
	limiter.CheckRateLimit("user-1")
	s.clock.Advance(time.Minute)
	s.Equal(0, limiter.Cleanup())
	s.clock.Advance(time.Nanosecond)
	s.Equal(1, limiter.Cleanup())
}

func (s *TokenBucketLimiterTestSuite) TestConcurrentChecks() {
	const maxTokens = 50
	limiter := s.newLimiter(BucketConfig{MaxTokens: maxTokens, RefillRate: 1, Cost: 1})

	allowed := atomic.NewInt32(0)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, _ := limiter.Check(context.Background(), "user-1", 1); res.Allowed {
				allowed.Inc()
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(maxTokens), allowed.Load())
}
