/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package idempotency stores results of mutating requests by a client-supplied idempotency key,
// so retried requests can observe the original result instead of executing the work again.
//
// The protocol is two calls: Check before doing the work and Save after it succeeded.
// A Store does not reserve keys between these calls, so two concurrent first requests with the same key
// may both see no record and both do the work (de-duplication is best-effort).
// Collisions of in-flight requests are detected by the HTTP middleware, not by the store.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long a saved record is replayed.
const DefaultTTL = 24 * time.Hour

// DefaultCleanupInterval is the recommended interval between Cleanup calls.
const DefaultCleanupInterval = time.Hour

// Record is a saved result of a request.
type Record struct {
	Key string `json:"key"`
	// Result is an opaque replay payload defined by the caller.
	Result    []byte    `json:"result"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Expired reports whether the record is older than ttl at the given moment.
// A record aged exactly ttl is still alive.
func (r *Record) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.Timestamp) > ttl
}

// Store keeps idempotency records.
type Store interface {
	// Check returns the record for the key or nil if the key is empty, unknown or expired.
	// An expired record is deleted. Reading never extends the record's lifetime.
	Check(ctx context.Context, key string) (*Record, error)

	// Save stores the result for the key stamped with the current time, overwriting any existing record
	// (last write wins). An empty key is ignored.
	Save(ctx context.Context, key string, result []byte, status int) error

	// Cleanup deletes all expired records and returns how many were deleted.
	Cleanup(ctx context.Context) (int, error)
}
