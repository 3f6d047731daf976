/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a bucket may stay untouched before Cleanup removes it.
const DefaultIdleTimeout = 10 * time.Minute

// DefaultCleanupInterval is the recommended interval between Cleanup calls.
const DefaultCleanupInterval = 5 * time.Minute

type bucketKey struct {
	identifier string
	maxTokens  int
	refillRate float64
}

// TokenBucketLimiter is an in-memory token-bucket rate limiter.
// Buckets are keyed by identifier and bucket shape (MaxTokens and RefillRate),
// so checks for the same identifier with a different shape use a separate bucket.
// It's safe for concurrent use.
type TokenBucketLimiter struct {
	cfg         BucketConfig
	idleTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*TokenBucket
}

// TokenBucketOpts represents options for TokenBucketLimiter.
type TokenBucketOpts struct {
	// IdleTimeout is how long a bucket may stay untouched before Cleanup removes it. DefaultIdleTimeout is used if 0.
	IdleTimeout time.Duration

	// Now is the clock. time.Now is used if nil.
	Now func() time.Time
}

// NewTokenBucketLimiter creates a new in-memory limiter with the given default bucket configuration.
func NewTokenBucketLimiter(cfg BucketConfig) *TokenBucketLimiter {
	return NewTokenBucketLimiterWithOpts(cfg, TokenBucketOpts{})
}

// NewTokenBucketLimiterWithOpts is a more configurable version of NewTokenBucketLimiter.
func NewTokenBucketLimiterWithOpts(cfg BucketConfig, opts TokenBucketOpts) *TokenBucketLimiter {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TokenBucketLimiter{
		cfg:         cfg.WithDefaults(),
		idleTimeout: opts.IdleTimeout,
		now:         opts.Now,
		buckets:     make(map[bucketKey]*TokenBucket),
	}
}

// CheckRateLimit checks the bucket of the identifier using the limiter's bucket configuration
// or the given one (non-positive fields fall back to DefaultBucketConfig).
// It never fails: an unknown identifier gets a full bucket.
func (l *TokenBucketLimiter) CheckRateLimit(identifier string, cfg ...BucketConfig) Result {
	bucketCfg := l.cfg
	if len(cfg) != 0 {
		bucketCfg = cfg[0].WithDefaults()
	}
	return l.check(identifier, bucketCfg)
}

// Check implements Limiter.
func (l *TokenBucketLimiter) Check(_ context.Context, identifier string, cost int) (Result, error) {
	return l.check(identifier, withCost(l.cfg, cost)), nil
}

func (l *TokenBucketLimiter) check(identifier string, cfg BucketConfig) Result {
	if identifier == "" {
		return emptyIdentifierResult(cfg)
	}

	key := bucketKey{identifier: identifier, maxTokens: cfg.MaxTokens, refillRate: cfg.RefillRate}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = newFullBucket(cfg, now)
		l.buckets[key] = bucket
	}
	return bucket.take(cfg, now)
}

// Cleanup removes buckets which were not touched for longer than the idle timeout
// and returns the number of removed buckets.
func (l *TokenBucketLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, bucket := range l.buckets {
		if now.Sub(bucket.LastRefill) > l.idleTimeout {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of buckets currently held.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// BucketConfig returns the default bucket configuration of the limiter.
func (l *TokenBucketLimiter) BucketConfig() BucketConfig {
	return l.cfg
}
