/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package redisconn opens the Redis connection shared by the Redis-backed rate limiter and idempotency store.
package redisconn

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/acronis/go-reqguard/log"
)

// NewClient creates a Redis client from the configuration without touching the network.
func NewClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
}

// Connect creates a Redis client and pings the server, retrying with exponential backoff
// up to cfg.ConnectAttempts times. The client is closed if the server stays unreachable.
func Connect(ctx context.Context, cfg *Config, logger log.FieldLogger) (*redis.Client, error) {
	client := NewClient(cfg)
	if err := Ping(ctx, client, cfg.ConnectInterval, cfg.ConnectAttempts, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Address, err)
	}
	logger.Info("connected to redis", log.String("address", cfg.Address), log.Int("db", cfg.DB))
	return client, nil
}

// Ping checks the connection, retrying failed pings with exponentially growing delays.
func Ping(ctx context.Context, client redis.UniversalClient, interval time.Duration, attempts int, logger log.FieldLogger) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	var b backoff.BackOff = eb
	if attempts > 1 {
		b = backoff.WithMaxRetries(eb, uint64(attempts-1))
	} else {
		b = &backoff.StopBackOff{}
	}
	b = backoff.WithContext(b, ctx)

	return backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, b, func(err error, next time.Duration) {
		logger.Warn("redis ping failed, retrying", log.Error(err), log.Duration("retry_in", next))
	})
}
