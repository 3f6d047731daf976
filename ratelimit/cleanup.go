/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"time"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/service"
)

// NewCleanupWorker returns a worker which sweeps idle buckets of the limiter every interval
// (DefaultCleanupInterval if interval <= 0). It stops when its context is canceled,
// so it can be run as a service.WorkerUnit next to the HTTP server.
func NewCleanupWorker(limiter *TokenBucketLimiter, interval time.Duration, logger log.FieldLogger) *service.PeriodicWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	sweep := service.WorkerFunc(func(ctx context.Context) error {
		if removed := limiter.Cleanup(); removed > 0 {
			logger.Debug("idle rate limit buckets removed",
				log.Int("removed", removed), log.Int("remaining", limiter.Len()))
		}
		return nil
	})
	return service.NewPeriodicWorkerWithOpts(sweep, interval, logger.With(log.String("worker", "ratelimit_cleanup")),
		service.PeriodicWorkerOpts{InitialDelay: interval})
}
