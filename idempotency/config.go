/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idempotency

import (
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-reqguard/config"
)

const cfgDefaultKeyPrefix = "idempotency"

const (
	cfgKeyTTL             = "ttl"
	cfgKeyCleanupInterval = "cleanupInterval"
	cfgKeyMaxKeys         = "maxKeys"
	cfgKeyBackend         = "backend"
	cfgKeyHeader          = "header"
	cfgKeyRequired        = "required"
	cfgKeyMaxBodySize     = "maxBodySize"
)

// DefaultHeader is the request header carrying the idempotency key.
const DefaultHeader = "Idempotency-Key"

// DefaultMaxBodySize bounds the size of a response body which is saved for replay.
const DefaultMaxBodySize = 1024 * 1024

// Backend is a storage for records.
type Backend string

// Record storages.
const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config represents a set of configuration parameters for the idempotency store and middleware.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	MaxKeys         int
	Backend         Backend
	// Header is the name of the request header with the idempotency key.
	Header string
	// Required makes requests to unsafe methods without the header rejected.
	Required bool
	// MaxBodySize is the maximum size of a response body which is saved for replay.
	MaxBodySize config.BytesCount

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
	dp.SetDefault(cfgKeyTTL, DefaultTTL.String())
	dp.SetDefault(cfgKeyCleanupInterval, DefaultCleanupInterval.String())
	dp.SetDefault(cfgKeyMaxKeys, DefaultMaxKeys)
	dp.SetDefault(cfgKeyBackend, string(BackendMemory))
	dp.SetDefault(cfgKeyHeader, DefaultHeader)
	dp.SetDefault(cfgKeyMaxBodySize, DefaultMaxBodySize)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.TTL, err = dp.GetDuration(cfgKeyTTL); err != nil {
		return err
	}
	if c.TTL <= 0 {
		return dp.WrapKeyErr(cfgKeyTTL, fmt.Errorf("should be positive"))
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
	backend, err := dp.GetStringFromSet(cfgKeyBackend, []string{string(BackendMemory), string(BackendRedis)}, true)
	if err != nil {
		return err
	}
	c.Backend = Backend(backend)
	if c.Header, err = dp.GetString(cfgKeyHeader); err != nil {
		return err
	}
	if c.Header == "" {
		return dp.WrapKeyErr(cfgKeyHeader, fmt.Errorf("cannot be empty"))
	}
	c.Header = http.CanonicalHeaderKey(c.Header)
	if c.Required, err = dp.GetBool(cfgKeyRequired); err != nil {
		return err
	}
	c.MaxBodySize, err = dp.GetBytesCount(cfgKeyMaxBodySize)
	return err
}
