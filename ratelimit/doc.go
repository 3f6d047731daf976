/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides per-identifier token-bucket rate limiting.
//
// A bucket holds up to MaxTokens tokens and is refilled continuously at RefillRate tokens per second.
// Every check refills the bucket lazily and then debits Cost tokens if enough are available.
// Debited tokens are never returned, even if the guarded work fails afterwards.
//
// TokenBucketLimiter keeps buckets in process memory, so every replica of a service has its own budget.
// Idle buckets must be swept periodically with Cleanup (see NewCleanupWorker).
// RedisTokenBucketLimiter keeps the same buckets in Redis and shares them between replicas.
// LeakyBucketLimiter is a GCRA alternative built on github.com/throttled/throttled.
package ratelimit
