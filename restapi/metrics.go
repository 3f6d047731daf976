/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// errorResponses counts error responses by domain, code and HTTP status, so rejected (429)
// and conflicting (409) requests can be told apart from failures. It's nil until metrics are registered.
var errorResponses atomic.Pointer[prometheus.CounterVec]

// MustInitAndRegisterMetrics creates the error responses counter in the given namespace
// and registers it in the default Prometheus registry.
func MustInitAndRegisterMetrics(namespace string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "restapi",
		Name:      "error_responses_total",
		Help:      "Number of error responses in the restapi envelope.",
	}, []string{"domain", "code", "status"})
	prometheus.MustRegister(vec)
	errorResponses.Store(vec)
}

// UnregisterMetrics removes the counter from the default registry and stops counting.
func UnregisterMetrics() {
	if vec := errorResponses.Swap(nil); vec != nil {
		prometheus.Unregister(vec)
	}
}

func countErrorResponse(status int, err *Error) {
	if vec := errorResponses.Load(); vec != nil {
		vec.WithLabelValues(err.Domain, err.Code, strconv.Itoa(status)).Inc()
	}
}
