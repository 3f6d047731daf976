/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisconn

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/config"
	"github.com/acronis/go-reqguard/log/logtest"
)

func TestConfig(t *testing.T) {
	cfg := NewConfig()
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(`
redis:
  address: redis.storefront:6380
  db: 2
  connect:
    attempts: 3
`), config.DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, "redis.storefront:6380", cfg.Address)
	require.Equal(t, 2, cfg.DB)
	require.Equal(t, DefaultKeyPrefix, cfg.StorageKeyPrefix)
	require.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	require.Equal(t, 3, cfg.ConnectAttempts)
	require.Equal(t, DefaultConnectInterval, cfg.ConnectInterval)

	err = config.NewLoader(config.NewViperAdapter()).LoadFromReader(
		bytes.NewBufferString("redis:\n  connect:\n    attempts: 0\n"), config.DataTypeYAML, NewConfig())
	require.EqualError(t, err, "redis.connect.attempts: should be >= 1")
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	logger := logtest.NewRecorder()

	cfg := &Config{Address: mr.Addr(), DialTimeout: time.Second, ConnectAttempts: 1, ConnectInterval: time.Millisecond}
	client, err := Connect(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()
	_, found := logger.FindEntry("connected to redis")
	require.True(t, found)
}

func TestConnect_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	logger := logtest.NewRecorder()

	cfg := &Config{Address: addr, DialTimeout: 100 * time.Millisecond, ConnectAttempts: 3, ConnectInterval: time.Millisecond}
	_, err = Connect(context.Background(), cfg, logger)
	require.Error(t, err)

	var retries int
	for _, entry := range logger.Entries() {
		if entry.Text == "redis ping failed, retrying" {
			retries++
		}
	}
	require.Equal(t, 2, retries)
}
