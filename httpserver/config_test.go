/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/config"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfgDataType config.DataType
		cfgData     string
		expectedCfg func() *Config
	}{
		{
			name:        "yaml config",
			cfgDataType: config.DataTypeYAML,
			cfgData: `
server:
  address: "127.0.0.1:8080"
  timeouts:
    write: 1h
    read: 7m
    readHeader: 1m
    idle: 20m
    shutdown: 30s
  limits:
    maxBodySize: 2M
  log:
    requestStart: true
    requestHeaders: [X-Customer-ID]
    excludedEndpoints: [/healthz]
    slowRequestThreshold: 2s
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Address = "127.0.0.1:8080"
				cfg.Timeouts.Write = config.TimeDuration(time.Hour)
				cfg.Timeouts.Read = config.TimeDuration(time.Minute * 7)
				cfg.Timeouts.ReadHeader = config.TimeDuration(time.Minute)
				cfg.Timeouts.Idle = config.TimeDuration(time.Minute * 20)
				cfg.Timeouts.Shutdown = config.TimeDuration(time.Second * 30)
				cfg.Limits.MaxBodySizeBytes = 2 * 1024 * 1024
				cfg.Log.RequestStart = true
				cfg.Log.RequestHeaders = []string{"X-Customer-ID"}
				cfg.Log.ExcludedEndpoints = []string{"/healthz"}
				cfg.Log.SlowRequestThreshold = config.TimeDuration(2 * time.Second)
				return cfg
			},
		},
		{
			name:        "json config",
			cfgDataType: config.DataTypeJSON,
			cfgData: `
{
	"server": {
		"address": "127.0.0.1:8080",
		"timeouts": {"write": "1h", "shutdown": "30s"},
		"log": {"requestStart": true}
	}
}`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Address = "127.0.0.1:8080"
				cfg.Timeouts.Write = config.TimeDuration(time.Hour)
				cfg.Timeouts.Shutdown = config.TimeDuration(time.Second * 30)
				cfg.Log.RequestStart = true
				return cfg
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			actualCfg := NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(tt.cfgData), tt.cfgDataType, actualCfg)
			require.NoError(t, err)
			require.Equal(t, tt.expectedCfg(), actualCfg)
		})
	}
}

func TestConfigWithKeyPrefix(t *testing.T) {
	const cfgData = `
guard:
  address: ":9090"
`
	cfg := NewConfig("guard")
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Address)
	require.Equal(t, "guard", cfg.KeyPrefix())
	require.Equal(t, config.BytesCount(1024*1024), cfg.Limits.MaxBodySizeBytes)
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfgData string
		wantErr string
	}{
		{
			name:    "empty address",
			cfgData: "server:\n  address: \"\"\n",
			wantErr: "server.address: cannot be empty",
		},
		{
			name:    "negative timeout",
			cfgData: "server:\n  timeouts:\n    idle: -1s\n",
			wantErr: "server.timeouts.idle: cannot be negative",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, NewConfig())
			require.EqualError(t, err, tt.wantErr)
		})
	}
}
