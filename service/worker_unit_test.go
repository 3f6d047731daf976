/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-reqguard/log"
)

func TestWorkerUnit_StartStop(t *testing.T) {
	t.Run("stop gracefully waits for the worker", func(t *testing.T) {
		finished := atomic.NewBool(false)
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		}))
		fatalErr := make(chan error, 1)
		go unit.Start(fatalErr)
		time.Sleep(20 * time.Millisecond)

		require.NoError(t, unit.Stop(true))
		require.True(t, finished.Load())
		require.Len(t, fatalErr, 0)
	})

	t.Run("stop gracefully with timeout", func(t *testing.T) {
		unit := NewWorkerUnitWithOpts(WorkerFunc(func(ctx context.Context) error {
			time.Sleep(time.Second)
			return nil
		}), WorkerUnitOpts{GracefulStopTimeout: 50 * time.Millisecond})
		go unit.Start(make(chan error, 1))
		time.Sleep(20 * time.Millisecond)

		require.ErrorIs(t, unit.Stop(true), ErrWorkerUnitStopTimeoutExceeded)
	})

	t.Run("periodic worker as unit", func(t *testing.T) {
		runs := atomic.NewInt32(0)
		unit := NewWorkerUnit(NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			runs.Inc()
			return nil
		}), 10*time.Millisecond, log.NewDisabledLogger()))
		go unit.Start(make(chan error, 1))
		time.Sleep(55 * time.Millisecond)

		require.NoError(t, unit.Stop(true))
		require.GreaterOrEqual(t, runs.Load(), int32(2))
	})

	t.Run("worker error is fatal", func(t *testing.T) {
		runErr := errors.New("cannot connect")
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error { return runErr }))
		fatalErr := make(chan error, 1)
		unit.Start(fatalErr)
		require.ErrorIs(t, <-fatalErr, runErr)
		require.NoError(t, unit.Stop(true))
	})

	t.Run("stop before start", func(t *testing.T) {
		require.NoError(t, NewWorkerUnit(WorkerFunc(func(ctx context.Context) error { return nil })).Stop(true))
	})
}
