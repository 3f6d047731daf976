/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"time"

	"github.com/acronis/go-reqguard/config"
)

const cfgDefaultKeyPrefix = "rateLimit"

const (
	cfgKeyMaxTokens       = "maxTokens"
	cfgKeyRefillRate      = "refillRate"
	cfgKeyCost            = "cost"
	cfgKeyAlgorithm       = "algorithm"
	cfgKeyBackend         = "backend"
	cfgKeyIdleTimeout     = "idleTimeout"
	cfgKeyCleanupInterval = "cleanupInterval"
	cfgKeyMaxKeys         = "maxKeys"
	cfgKeyExemptKeys      = "exemptKeys"
	cfgKeyDryRun          = "dryRun"
)

// Algorithm is a rate limiting algorithm.
type Algorithm string

// Rate limiting algorithms.
const (
	AlgorithmTokenBucket Algorithm = "tokenBucket"
	AlgorithmLeakyBucket Algorithm = "leakyBucket"
)

// Backend is a storage for buckets.
type Backend string

// Bucket storages.
const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config represents a set of configuration parameters for rate limiting.
type Config struct {
	Bucket          BucketConfig
	Algorithm       Algorithm
	Backend         Backend
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	// MaxKeys bounds the number of identifiers for the leaky bucket algorithm.
	MaxKeys int
	// ExemptKeys are glob patterns of identifiers which are never limited.
	ExemptKeys []string
	// DryRun makes rejected requests only logged, not rejected.
	DryRun bool

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig(keyPrefix ...string) *Config {
	c := &Config{keyPrefix: cfgDefaultKeyPrefix}
	if len(keyPrefix) != 0 {
		c.keyPrefix = keyPrefix[0]
	}
	return c
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxTokens, DefaultBucketConfig.MaxTokens)
	dp.SetDefault(cfgKeyRefillRate, DefaultBucketConfig.RefillRate)
	dp.SetDefault(cfgKeyCost, DefaultBucketConfig.Cost)
	dp.SetDefault(cfgKeyAlgorithm, string(AlgorithmTokenBucket))
	dp.SetDefault(cfgKeyBackend, string(BackendMemory))
	dp.SetDefault(cfgKeyIdleTimeout, DefaultIdleTimeout.String())
	dp.SetDefault(cfgKeyCleanupInterval, DefaultCleanupInterval.String())
	dp.SetDefault(cfgKeyMaxKeys, DefaultLeakyBucketMaxKeys)
}

// Set sets rate limiting configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.setBucket(dp); err != nil {
		return err
	}

	algorithm, err := dp.GetStringFromSet(cfgKeyAlgorithm,
		[]string{string(AlgorithmTokenBucket), string(AlgorithmLeakyBucket)}, true)
	if err != nil {
		return err
	}
	c.Algorithm = Algorithm(algorithm)

	backend, err := dp.GetStringFromSet(cfgKeyBackend, []string{string(BackendMemory), string(BackendRedis)}, true)
	if err != nil {
		return err
	}
	c.Backend = Backend(backend)
	if c.Algorithm == AlgorithmLeakyBucket && c.Backend != BackendMemory {
		return dp.WrapKeyErr(cfgKeyBackend, fmt.Errorf("only %q backend is supported by %q algorithm",
			BackendMemory, AlgorithmLeakyBucket))
	}

	if c.IdleTimeout, err = dp.GetDuration(cfgKeyIdleTimeout); err != nil {
		return err
	}
	if c.IdleTimeout <= 0 {
		return dp.WrapKeyErr(cfgKeyIdleTimeout, fmt.Errorf("should be positive"))
	}
	if c.CleanupInterval, err = dp.GetDuration(cfgKeyCleanupInterval); err != nil {
		return err
	}
	if c.CleanupInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyCleanupInterval, fmt.Errorf("should be positive"))
	}
	if c.MaxKeys, err = dp.GetInt(cfgKeyMaxKeys); err != nil {
		return err
	}
	if c.MaxKeys <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxKeys, fmt.Errorf("should be positive"))
	}
	if c.ExemptKeys, err = dp.GetStringSlice(cfgKeyExemptKeys); err != nil {
		return err
	}
	c.DryRun, err = dp.GetBool(cfgKeyDryRun)
	return err
}

func (c *Config) setBucket(dp config.DataProvider) error {
	var err error
	if c.Bucket.MaxTokens, err = dp.GetInt(cfgKeyMaxTokens); err != nil {
		return err
	}
	if c.Bucket.MaxTokens <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxTokens, fmt.Errorf("should be positive"))
	}
	if c.Bucket.RefillRate, err = dp.GetFloat64(cfgKeyRefillRate); err != nil {
		return err
	}
	if c.Bucket.RefillRate <= 0 {
		return dp.WrapKeyErr(cfgKeyRefillRate, fmt.Errorf("should be positive"))
	}
	if c.Bucket.Cost, err = dp.GetInt(cfgKeyCost); err != nil {
		return err
	}
	if c.Bucket.Cost <= 0 {
		return dp.WrapKeyErr(cfgKeyCost, fmt.Errorf("should be positive"))
	}
	if c.Bucket.Cost > c.Bucket.MaxTokens {
		return dp.WrapKeyErr(cfgKeyCost, fmt.Errorf("should not exceed %s (%d)", cfgKeyMaxTokens, c.Bucket.MaxTokens))
	}
	return nil
}
