/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs the long-lived parts of a reqguard process (HTTP server, bucket and
// idempotency sweepers) as units with a common start/stop lifecycle driven by OS signals.
package service

// Unit is a component with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may return immediately or block for the unit's whole lifetime.
	// A start failure is reported by sending exactly one error to fatalErr; on success nothing is sent,
	// and the channel must not be used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units which own Prometheus collectors.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
