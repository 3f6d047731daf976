/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
)

// DefaultRedisKeyPrefix is prepended to every record key stored in Redis.
const DefaultRedisKeyPrefix = "reqguard:idempotency:"

const (
	redisScanCount       = 500
	redisExpirationSlack = time.Minute
)

// RedisStore keeps records in Redis, so all replicas of a service share them.
// Records are JSON documents. Expiration is decided by the record timestamp;
// the Redis key TTL (record TTL plus a minute) only reclaims records nobody reads or sweeps.
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

var _ Store = (*RedisStore)(nil)

// deleteUnchangedScript deletes the key only if it still holds the value that was read,
// so a record saved by another replica after the read survives.
var deleteUnchangedScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStoreOpts represents options for RedisStore.
type RedisStoreOpts struct {
	// TTL is the lifetime of a record. DefaultTTL is used if 0.
	TTL time.Duration

	// KeyPrefix is prepended to record keys. DefaultRedisKeyPrefix is used if empty.
	KeyPrefix string

	// Now is the clock. time.Now is used if nil.
	Now func() time.Time
}

// NewRedisStore creates a new Redis-backed store with default options.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return NewRedisStoreWithOpts(client, RedisStoreOpts{})
}

// NewRedisStoreWithOpts creates a new Redis-backed store.
func NewRedisStoreWithOpts(client redis.UniversalClient, opts RedisStoreOpts) *RedisStore {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultRedisKeyPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisStore{client: client, ttl: opts.TTL, keyPrefix: opts.KeyPrefix, now: opts.Now}
}

// Check implements Store.
func (s *RedisStore) Check(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, nil
	}
	rec, data, err := s.get(ctx, s.keyPrefix+key)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Expired(s.now(), s.ttl) {
		if _, err = s.deleteUnchanged(ctx, s.keyPrefix+key, data); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key string, result []byte, status int) error {
	if key == "" {
		return nil
	}
	data, err := sonic.Marshal(&Record{Key: key, Result: result, Status: status, Timestamp: s.now()})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err = s.client.Set(ctx, s.keyPrefix+key, data, s.ttl+redisExpirationSlack).Err(); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Cleanup implements Store. It scans all keys with the store prefix and deletes expired records.
// Records which Redis has already expired by itself are not counted.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		rec, data, err := s.get(ctx, redisKey)
		if err != nil {
			return removed, err
		}
		if rec == nil || !rec.Expired(now, s.ttl) {
			continue
		}
		deleted, err := s.deleteUnchanged(ctx, redisKey, data)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan records: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) get(ctx context.Context, redisKey string) (*Record, []byte, error) {
	data, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("get record: %w", err)
	}
	var rec Record
	if err = sonic.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("unmarshal record %q: %w", redisKey, err)
	}
	return &rec, data, nil
}

func (s *RedisStore) deleteUnchanged(ctx context.Context, redisKey string, data []byte) (bool, error) {
	deleted, err := deleteUnchangedScript.Run(ctx, s.client, []string{redisKey}, data).Int()
	if err != nil {
		return false, fmt.Errorf("delete expired record: %w", err)
	}
	return deleted == 1, nil
}
