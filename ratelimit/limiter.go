/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "context"

// Limiter is implemented by every rate limiter in this package.
// Check debits cost tokens (the limiter's configured cost if cost <= 0) from the bucket of the identifier.
// An empty identifier means there is no rate limit context and the request is always allowed.
type Limiter interface {
	Check(ctx context.Context, identifier string, cost int) (Result, error)
}

var (
	_ Limiter = (*TokenBucketLimiter)(nil)
	_ Limiter = (*RedisTokenBucketLimiter)(nil)
	_ Limiter = (*LeakyBucketLimiter)(nil)
)

func withCost(cfg BucketConfig, cost int) BucketConfig {
	if cost > 0 {
		cfg.Cost = cost
	}
	return cfg
}
