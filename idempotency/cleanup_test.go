/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/log/logtest"
)

type failingStore struct {
	Store
	calls *atomic.Int32
}

func (s failingStore) Cleanup(context.Context) (int, error) {
	s.calls.Inc()
	return 0, errors.New("redis: connection refused")
}

func TestCleanupWorker(t *testing.T) {
	t.Run("removes expired records", func(t *testing.T) {
		clock := newTestClock()
		store := MustMemoryStore(MemoryStoreOpts{TTL: time.Minute, Now: clock.Now})
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, "old", []byte("1"), 201))
		clock.Advance(2 * time.Minute)
		require.NoError(t, store.Save(ctx, "fresh", []byte("2"), 201))

		logger := logtest.NewRecorder()
		worker := NewCleanupWorker(store, 10*time.Millisecond, logger)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- worker.Run(runCtx) }()

		require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)
		_, found := logger.FindEntry("expired idempotency records removed")
		require.True(t, found)
	})

	t.Run("errors do not stop the worker", func(t *testing.T) {
		store := failingStore{calls: atomic.NewInt32(0)}
		logger := logtest.NewRecorder()
		worker := NewCleanupWorker(store, 5*time.Millisecond, logger)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- worker.Run(ctx) }()

		require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)
		entry, found := logger.FindEntry("periodic worker run failed")
		require.True(t, found)
		require.Equal(t, log.LevelError, entry.Level)
	})
}
