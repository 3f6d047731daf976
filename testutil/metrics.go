/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RequireSamplesCountInCounter requires the counter (usually a single child of a CounterVec) to have the given value.
func RequireSamplesCountInCounter(t require.TestingT, counter prometheus.Counter, wantCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantCount, int(promtestutil.ToFloat64(counter)))
}

// AssertSamplesCountInHistogram asserts how many observations the histogram has got.
func AssertSamplesCountInHistogram(t assert.TestingT, hist prometheus.Histogram, wantSamplesCount int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	if !assert.NoError(t, reg.Register(hist)) {
		return false
	}
	families, err := reg.Gather()
	if !assert.NoError(t, err) || !assert.Len(t, families, 1) || !assert.Len(t, families[0].GetMetric(), 1) {
		return false
	}
	return assert.EqualValues(t, wantSamplesCount, families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}
