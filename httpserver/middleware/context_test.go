/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/ratelimit"
)

func TestGetLoggerFromContext(t *testing.T) {
	t.Run("empty logger", func(t *testing.T) {
		require.Nil(t, GetLoggerFromContext(context.Background()))
	})
	t.Run("non empty logger", func(t *testing.T) {
		logger := log.NewDisabledLogger()
		ctx := NewContextWithLogger(context.Background(), logger)
		require.Equal(t, logger, GetLoggerFromContext(ctx))
	})
}

func TestGetRequestIDFromContext(t *testing.T) {
	require.Equal(t, "", GetRequestIDFromContext(context.Background()))
	ctx := NewContextWithRequestID(context.Background(), "external-request-id")
	require.Equal(t, "external-request-id", GetRequestIDFromContext(ctx))

	require.Equal(t, "", GetInternalRequestIDFromContext(context.Background()))
	ctx = NewContextWithInternalRequestID(ctx, "internal-request-id")
	require.Equal(t, "internal-request-id", GetInternalRequestIDFromContext(ctx))
}

func TestGetRequestStartTimeFromContext(t *testing.T) {
	require.True(t, GetRequestStartTimeFromContext(context.Background()).IsZero())
	startTime := time.Date(2024, 11, 29, 10, 0, 0, 0, time.UTC)
	ctx := NewContextWithRequestStartTime(context.Background(), startTime)
	require.Equal(t, startTime, GetRequestStartTimeFromContext(ctx))
}

func TestGetRateLimitResultFromContext(t *testing.T) {
	_, ok := GetRateLimitResultFromContext(context.Background())
	require.False(t, ok)

	want := ratelimit.Result{Allowed: true, Limit: 3, Remaining: 2, ResetIn: time.Second}
	got, ok := GetRateLimitResultFromContext(NewContextWithRateLimitResult(context.Background(), want))
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestGetIdempotencyKeyFromContext(t *testing.T) {
	require.Equal(t, "", GetIdempotencyKeyFromContext(context.Background()))
	ctx := NewContextWithIdempotencyKey(context.Background(), "return-gg-12001")
	require.Equal(t, "return-gg-12001", GetIdempotencyKeyFromContext(ctx))
}
