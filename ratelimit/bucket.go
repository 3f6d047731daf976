/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"math"
	"time"
)

// BucketConfig describes the shape of a token bucket and the price of a single check.
type BucketConfig struct {
	// MaxTokens is the bucket capacity, i.e. the burst size.
	MaxTokens int
	// RefillRate is the number of tokens added per second.
	RefillRate float64
	// Cost is the number of tokens debited by one allowed check.
	Cost int
}

// DefaultBucketConfig is used when no bucket configuration is provided.
var DefaultBucketConfig = BucketConfig{MaxTokens: 100, RefillRate: 10, Cost: 1}

// WithDefaults returns a copy of the config where every non-positive field is replaced by its default.
func (c BucketConfig) WithDefaults() BucketConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultBucketConfig.MaxTokens
	}
	if c.RefillRate <= 0 || math.IsNaN(c.RefillRate) || math.IsInf(c.RefillRate, 0) {
		c.RefillRate = DefaultBucketConfig.RefillRate
	}
	if c.Cost <= 0 {
		c.Cost = DefaultBucketConfig.Cost
	}
	return c
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Limit is the bucket capacity (MaxTokens).
	Limit int
	// Remaining is the number of whole tokens left after the check. It's 0 when the request is not allowed.
	Remaining int
	// ResetIn is a whole number of seconds: until the bucket is full again for an allowed request,
	// or until enough tokens accrue for the requested cost for a rejected one.
	ResetIn time.Duration
}

// TokenBucket is the state of a single bucket. 0 <= Tokens <= MaxTokens holds after every refill.
type TokenBucket struct {
	Tokens     float64
	LastRefill time.Time
}

func newFullBucket(cfg BucketConfig, now time.Time) *TokenBucket {
	return &TokenBucket{Tokens: float64(cfg.MaxTokens), LastRefill: now}
}

func (b *TokenBucket) refill(cfg BucketConfig, now time.Time) {
	if elapsed := now.Sub(b.LastRefill).Seconds(); elapsed > 0 {
		b.Tokens = math.Min(float64(cfg.MaxTokens), b.Tokens+elapsed*cfg.RefillRate)
	}
	b.LastRefill = now
}

// take refills the bucket and debits cfg.Cost tokens if possible.
func (b *TokenBucket) take(cfg BucketConfig, now time.Time) Result {
	b.refill(cfg, now)
	allowed := b.Tokens >= float64(cfg.Cost)
	if allowed {
		b.Tokens -= float64(cfg.Cost)
	}
	return makeResult(cfg, b.Tokens, allowed)
}

// makeResult builds a Result from the number of tokens left in the bucket after the check.
func makeResult(cfg BucketConfig, tokens float64, allowed bool) Result {
	if !allowed {
		return Result{
			Allowed: false,
			Limit:   cfg.MaxTokens,
			ResetIn: secondsUntil(float64(cfg.Cost)-tokens, cfg.RefillRate),
		}
	}
	return Result{
		Allowed:   true,
		Limit:     cfg.MaxTokens,
		Remaining: int(math.Floor(tokens)),
		ResetIn:   secondsUntil(float64(cfg.MaxTokens)-tokens, cfg.RefillRate),
	}
}

// secondsUntil returns the time needed to accrue the given number of tokens, rounded up to whole seconds.
func secondsUntil(tokens, refillRate float64) time.Duration {
	if tokens <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(tokens/refillRate)) * time.Second
}

// emptyIdentifierResult is returned for checks without a rate limit context.
func emptyIdentifierResult(cfg BucketConfig) Result {
	return Result{Allowed: true, Limit: cfg.MaxTokens, Remaining: cfg.MaxTokens}
}
