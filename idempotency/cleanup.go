/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/service"
)

// NewCleanupWorker returns a worker which deletes expired records of the store every interval
// (DefaultCleanupInterval if interval <= 0). A failed sweep is logged and retried on the next tick.
func NewCleanupWorker(store Store, interval time.Duration, logger log.FieldLogger) *service.PeriodicWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	sweep := service.WorkerFunc(func(ctx context.Context) error {
		removed, err := store.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleanup idempotency records: %w", err)
		}
		if removed > 0 {
			logger.Debug("expired idempotency records removed", log.Int("removed", removed))
		}
		return nil
	})
	return service.NewPeriodicWorkerWithOpts(sweep, interval, logger.With(log.String("worker", "idempotency_cleanup")),
		service.PeriodicWorkerOpts{InitialDelay: interval})
}
