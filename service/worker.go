/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/acronis/go-reqguard/log"
)

// ErrPeriodicWorkerStop may be returned by a worker to end the PeriodicWorker loop without error.
var ErrPeriodicWorkerStop = errors.New("stop periodic worker")

// Worker performs some (usually long-running) work.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc is an adapter to allow the use of ordinary functions as Worker.
type WorkerFunc func(ctx context.Context) error

// Run implements Worker.
func (f WorkerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// PeriodicWorker runs the underlying worker again and again with a delay between runs.
// Errors of a single run are logged and do not stop the loop.
type PeriodicWorker struct {
	worker        Worker
	interval      time.Duration
	initialDelay  time.Duration
	intervalDelay func(err error) time.Duration
	logger        log.FieldLogger
}

// PeriodicWorkerOpts contains optional parameters for constructing PeriodicWorker.
type PeriodicWorkerOpts struct {
	// InitialDelay is the delay before the first run. Zero means run immediately.
	InitialDelay time.Duration

	// IntervalDelayFunc computes the delay after a run from its error. The fixed interval is used if nil.
	IntervalDelayFunc func(err error) time.Duration
}

// NewPeriodicWorker creates a PeriodicWorker with a fixed interval between runs.
func NewPeriodicWorker(worker Worker, interval time.Duration, logger log.FieldLogger) *PeriodicWorker {
	return NewPeriodicWorkerWithOpts(worker, interval, logger, PeriodicWorkerOpts{})
}

// NewPeriodicWorkerWithOpts is a more configurable version of NewPeriodicWorker.
func NewPeriodicWorkerWithOpts(
	worker Worker, interval time.Duration, logger log.FieldLogger, opts PeriodicWorkerOpts,
) *PeriodicWorker {
	return &PeriodicWorker{
		worker:        worker,
		interval:      interval,
		initialDelay:  opts.InitialDelay,
		intervalDelay: opts.IntervalDelayFunc,
		logger:        logger,
	}
}

// Run runs the loop until ctx is done or the worker returns ErrPeriodicWorkerStop.
func (pw *PeriodicWorker) Run(ctx context.Context) (resErr error) {
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			pw.logger.Error(fmt.Sprintf("panic: %+v", p), log.Bytes("stack", stack))
			panic(p)
		}
		if resErr != nil {
			pw.logger.Error("periodic worker stopped with error", log.Error(resErr))
			return
		}
		pw.logger.Info("periodic worker stopped")
	}()

	pw.logger.Info("running periodic worker",
		log.Duration("initial_delay", pw.initialDelay), log.Duration("interval", pw.interval))

	timer := time.NewTimer(pw.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		err := pw.worker.Run(ctx)
		if err != nil {
			if errors.Is(err, ErrPeriodicWorkerStop) {
				return nil
			}
			pw.logger.Error("periodic worker run failed", log.Error(err))
		}

		next := pw.interval
		if pw.intervalDelay != nil {
			next = pw.intervalDelay(err)
		}
		timer.Reset(next)
	}
}
