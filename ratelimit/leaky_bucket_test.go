/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type LeakyBucketLimiterTestSuite struct {
	suite.Suite
}

func TestLeakyBucketLimiter(t *testing.T) {
	suite.Run(t, new(LeakyBucketLimiterTestSuite))
}

func (s *LeakyBucketLimiterTestSuite) TestBurstThenReject() {
	limiter, err := NewLeakyBucketLimiter(BucketConfig{MaxTokens: 3, RefillRate: 1}, 100)
	s.Require().NoError(err)
	ctx := context.Background()

	for _, wantRemaining := range []int{2, 1, 0} {
		res, err := limiter.Check(ctx, "user-1", 1)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(3, res.Limit)
		s.Equal(wantRemaining, res.Remaining)
	}

	res, err := limiter.Check(ctx, "user-1", 1)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.Equal(time.Second, res.ResetIn)

	res, err = limiter.Check(ctx, "user-2", 1)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *LeakyBucketLimiterTestSuite) TestLeak() {
	limiter, err := NewLeakyBucketLimiter(BucketConfig{MaxTokens: 1, RefillRate: 20}, 0)
	s.Require().NoError(err)
	ctx := context.Background()

	res, err := limiter.Check(ctx, "user-1", 1)
	s.Require().NoError(err)
	s.True(res.Allowed)
	res, err = limiter.Check(ctx, "user-1", 1)
	s.Require().NoError(err)
	s.False(res.Allowed)

	time.Sleep(60 * time.Millisecond)
	res, err = limiter.Check(ctx, "user-1", 1)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *LeakyBucketLimiterTestSuite) TestCostAboveBurst() {
	cfg := BucketConfig{MaxTokens: 2, RefillRate: 1}
	leaky, err := NewLeakyBucketLimiter(cfg, 10)
	s.Require().NoError(err)
	ctx := context.Background()

	res, err := leaky.Check(ctx, "user-1", 5)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(2, res.Limit)
	s.Equal(3*time.Second, res.ResetIn)

	tokenRes, err := NewTokenBucketLimiter(cfg).Check(ctx, "user-1", 5)
	s.Require().NoError(err)
	s.Equal(tokenRes.ResetIn, res.ResetIn)

	// One token spent leaves one in the bucket, so four more are needed.
	res, err = leaky.Check(ctx, "user-2", 1)
	s.Require().NoError(err)
	s.Require().True(res.Allowed)
	res, err = leaky.Check(ctx, "user-2", 5)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(4*time.Second, res.ResetIn)
}

func (s *LeakyBucketLimiterTestSuite) TestEmptyIdentifier() {
	limiter, err := NewLeakyBucketLimiter(BucketConfig{MaxTokens: 1, RefillRate: 1}, 10)
	s.Require().NoError(err)
	for i := 0; i < 3; i++ {
		res, err := limiter.Check(context.Background(), "", 1)
		s.Require().NoError(err)
		s.True(res.Allowed)
	}
}
