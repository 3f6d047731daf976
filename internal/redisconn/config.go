/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisconn

import (
	"fmt"
	"time"

	"github.com/acronis/go-reqguard/config"
)

const cfgDefaultKeyPrefix = "redis"

const (
	cfgKeyAddress         = "address"
	cfgKeyPassword        = "password"
	cfgKeyDB              = "db"
	cfgKeyKeyPrefix       = "keyPrefix"
	cfgKeyDialTimeout     = "dialTimeout"
	cfgKeyConnectAttempts = "connect.attempts"
	cfgKeyConnectInterval = "connect.interval"
)

// Default values.
const (
	DefaultAddress         = "localhost:6379"
	DefaultKeyPrefix       = "reqguard:"
	DefaultDialTimeout     = 5 * time.Second
	DefaultConnectAttempts = 5
	DefaultConnectInterval = 500 * time.Millisecond
)

// Config represents a set of configuration parameters for the shared Redis backend.
type Config struct {
	Address          string
	Password         string
	DB               int
	StorageKeyPrefix string

	DialTimeout     time.Duration
	ConnectAttempts int
	ConnectInterval time.Duration

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
	dp.SetDefault(cfgKeyAddress, DefaultAddress)
	dp.SetDefault(cfgKeyKeyPrefix, DefaultKeyPrefix)
	dp.SetDefault(cfgKeyDialTimeout, DefaultDialTimeout.String())
	dp.SetDefault(cfgKeyConnectAttempts, DefaultConnectAttempts)
	dp.SetDefault(cfgKeyConnectInterval, DefaultConnectInterval.String())
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyAddress, fmt.Errorf("cannot be empty"))
	}
	if c.Password, err = dp.GetString(cfgKeyPassword); err != nil {
		return err
	}
	if c.DB, err = dp.GetInt(cfgKeyDB); err != nil {
		return err
	}
	if c.DB < 0 {
		return dp.WrapKeyErr(cfgKeyDB, fmt.Errorf("should be >= 0"))
	}
	if c.StorageKeyPrefix, err = dp.GetString(cfgKeyKeyPrefix); err != nil {
		return err
	}
	if c.DialTimeout, err = dp.GetDuration(cfgKeyDialTimeout); err != nil {
		return err
	}
	if c.ConnectAttempts, err = dp.GetInt(cfgKeyConnectAttempts); err != nil {
		return err
	}
	if c.ConnectAttempts < 1 {
		return dp.WrapKeyErr(cfgKeyConnectAttempts, fmt.Errorf("should be >= 1"))
	}
	c.ConnectInterval, err = dp.GetDuration(cfgKeyConnectInterval)
	return err
}
