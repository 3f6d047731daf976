/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"
)

// DefaultRedisKeyPrefix is prepended to every bucket key stored in Redis.
const DefaultRedisKeyPrefix = "reqguard:ratelimit:"

// takeTokensScript refills and debits a bucket stored as a hash {tokens, ts} atomically.
// The key expires after the idle timeout, which replaces the periodic sweep of the in-memory limiter.
// KEYS[1] - bucket key; ARGV - max tokens, refill rate (tokens/sec), cost, now (ms), idle timeout (ms).
var takeTokensScript = redis.NewScript(`
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local idle = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = max_tokens
  ts = now
end

local elapsed = math.max(0, now - ts) / 1000
tokens = math.min(max_tokens, tokens + elapsed * refill_rate)

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

local tokens_str = string.format('%.17g', tokens)
redis.call('HSET', KEYS[1], 'tokens', tokens_str, 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], idle)
return {allowed, tokens_str}
`)

// RedisTokenBucketLimiter is a token-bucket rate limiter which keeps buckets in Redis,
// so all replicas of a service share the same budget per identifier.
// Buckets are keyed by identifier and bucket shape in the same way as in TokenBucketLimiter.
type RedisTokenBucketLimiter struct {
	client      redis.UniversalClient
	cfg         BucketConfig
	keyPrefix   string
	idleTimeout time.Duration
	now         func() time.Time
}

// RedisTokenBucketOpts represents options for RedisTokenBucketLimiter.
type RedisTokenBucketOpts struct {
	// KeyPrefix is prepended to bucket keys. DefaultRedisKeyPrefix is used if empty.
	KeyPrefix string

	// IdleTimeout is the TTL of an untouched bucket. DefaultIdleTimeout is used if 0.
	IdleTimeout time.Duration

	// Now is the clock used for refill computations. time.Now is used if nil.
	Now func() time.Time
}

// NewRedisTokenBucketLimiter creates a new Redis-backed limiter.
func NewRedisTokenBucketLimiter(client redis.UniversalClient, cfg BucketConfig) *RedisTokenBucketLimiter {
	return NewRedisTokenBucketLimiterWithOpts(client, cfg, RedisTokenBucketOpts{})
}

// NewRedisTokenBucketLimiterWithOpts is a more configurable version of NewRedisTokenBucketLimiter.
func NewRedisTokenBucketLimiterWithOpts(
	client redis.UniversalClient, cfg BucketConfig, opts RedisTokenBucketOpts,
) *RedisTokenBucketLimiter {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultRedisKeyPrefix
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisTokenBucketLimiter{
		client:      client,
		cfg:         cfg.WithDefaults(),
		keyPrefix:   opts.KeyPrefix,
		idleTimeout: opts.IdleTimeout,
		now:         opts.Now,
	}
}

// Check implements Limiter.
func (l *RedisTokenBucketLimiter) Check(ctx context.Context, identifier string, cost int) (Result, error) {
	return l.CheckRateLimit(ctx, identifier, withCost(l.cfg, cost))
}

// CheckRateLimit checks the bucket of the identifier with the given bucket configuration.
// Non-positive fields of cfg fall back to DefaultBucketConfig.
func (l *RedisTokenBucketLimiter) CheckRateLimit(ctx context.Context, identifier string, cfg BucketConfig) (Result, error) {
	cfg = cfg.WithDefaults()
	if identifier == "" {
		return emptyIdentifierResult(cfg), nil
	}

	res, err := takeTokensScript.Run(ctx, l.client, []string{l.bucketKey(identifier, cfg)},
		cfg.MaxTokens, cfg.RefillRate, cfg.Cost, l.now().UnixMilli(), l.idleTimeout.Milliseconds()).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(res) != 2 {
		return Result{}, fmt.Errorf("unexpected token bucket script result %v", res)
	}
	allowed, err := cast.ToInt64E(res[0])
	if err != nil {
		return Result{}, fmt.Errorf("parse allowed flag: %w", err)
	}
	tokens, err := strconv.ParseFloat(cast.ToString(res[1]), 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse tokens: %w", err)
	}
	return makeResult(cfg, tokens, allowed == 1), nil
}

func (l *RedisTokenBucketLimiter) bucketKey(identifier string, cfg BucketConfig) string {
	return l.keyPrefix + identifier + ":" + strconv.Itoa(cfg.MaxTokens) + ":" +
		strconv.FormatFloat(cfg.RefillRate, 'g', -1, 64)
}
