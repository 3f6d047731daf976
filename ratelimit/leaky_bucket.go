/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
)

// DefaultLeakyBucketMaxKeys bounds the number of identifiers tracked by LeakyBucketLimiter.
const DefaultLeakyBucketMaxKeys = 65536

// LeakyBucketLimiter implements GCRA (Generic Cell Rate Algorithm), a leaky bucket variant
// (see https://brandur.org/rate-limiting#gcra). It's configured with the same BucketConfig:
// one token leaks every 1/RefillRate seconds and up to MaxTokens requests may be sent in a burst.
// Unlike TokenBucketLimiter, it keeps a bounded LRU of identifiers and needs no sweeping.
type LeakyBucketLimiter struct {
	cfg     BucketConfig
	limiter *throttled.GCRARateLimiterCtx
}

// NewLeakyBucketLimiter creates a new in-memory GCRA limiter tracking at most maxKeys identifiers
// (DefaultLeakyBucketMaxKeys if maxKeys <= 0).
func NewLeakyBucketLimiter(cfg BucketConfig, maxKeys int) (*LeakyBucketLimiter, error) {
	cfg = cfg.WithDefaults()
	if maxKeys <= 0 {
		maxKeys = DefaultLeakyBucketMaxKeys
	}
	store, err := memstore.NewCtx(maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new in-memory store: %w", err)
	}
	emissionInterval := time.Duration(float64(time.Second) / cfg.RefillRate)
	quota := throttled.RateQuota{
		MaxRate:  throttled.PerDuration(1, emissionInterval),
		MaxBurst: cfg.MaxTokens - 1,
	}
	gcraLimiter, err := throttled.NewGCRARateLimiterCtx(store, quota)
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}
	return &LeakyBucketLimiter{cfg: cfg, limiter: gcraLimiter}, nil
}

// Check implements Limiter.
func (l *LeakyBucketLimiter) Check(ctx context.Context, identifier string, cost int) (Result, error) {
	cfg := withCost(l.cfg, cost)
	if identifier == "" {
		return emptyIdentifierResult(cfg), nil
	}
	limited, res, err := l.limiter.RateLimitCtx(ctx, identifier, cfg.Cost)
	if err != nil {
		return Result{}, err
	}
	if limited {
		retryAfter := res.RetryAfter
		if retryAfter < 0 {
			// The cost exceeds the burst, so GCRA has no retry time. Report when the bucket could
			// hold the cost, as TokenBucketLimiter does.
			if retryAfter, err = l.costRetryAfter(ctx, identifier, cfg); err != nil {
				return Result{}, err
			}
		}
		return Result{Allowed: false, Limit: res.Limit, ResetIn: ceilSeconds(retryAfter)}, nil
	}
	return Result{Allowed: true, Limit: res.Limit, Remaining: res.Remaining, ResetIn: ceilSeconds(res.ResetAfter)}, nil
}

// costRetryAfter peeks at the bucket (quantity 0 takes nothing) and converts its fill level to tokens.
func (l *LeakyBucketLimiter) costRetryAfter(ctx context.Context, identifier string, cfg BucketConfig) (time.Duration, error) {
	_, peek, err := l.limiter.RateLimitCtx(ctx, identifier, 0)
	if err != nil {
		return 0, err
	}
	tokens := math.Max(0, float64(cfg.MaxTokens)-peek.ResetAfter.Seconds()*cfg.RefillRate)
	return secondsUntil(float64(cfg.Cost)-tokens, cfg.RefillRate), nil
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
