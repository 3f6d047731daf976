/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockT struct {
	failed bool
}

func (t *mockT) FailNow() {
	t.failed = true
}

func (t *mockT) Errorf(format string, args ...interface{}) {}

func TestRequireErrorInRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(http.StatusTooManyRequests)
	_, _ = rec.WriteString(`{"error":{"domain":"Returns","code":"tooManyRequests","message":"Too many requests."}}`)

	RequireErrorInRecorder(t, rec, http.StatusTooManyRequests, "Returns", "tooManyRequests")
}

func TestRequireRateLimitHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("X-RateLimit-Limit", "3")
	header.Set("X-RateLimit-Remaining", "0")
	header.Set("X-RateLimit-Reset", "1")
	RequireRateLimitHeaders(t, header, 3, 0, 1)

	m := &mockT{}
	RequireRateLimitHeaders(m, header, 3, 1, 1)
	require.True(t, m.failed)
}

func TestRequireNoErrorInChannel(t *testing.T) {
	m := &mockT{}
	ch := make(chan error, 1)

	RequireNoErrorInChannel(m, ch)
	require.False(t, m.failed)

	ch <- errors.New("some error")
	RequireNoErrorInChannel(m, ch)
	require.True(t, m.failed)
}

func TestRequireErrorInChannelWithin(t *testing.T) {
	ch := make(chan error, 1)
	wantErr := errors.New("stopped")
	ch <- wantErr
	require.Equal(t, wantErr, RequireErrorInChannelWithin(t, ch, time.Second))
}

func TestWaitListeningServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	require.NoError(t, WaitListeningServer(srv.Listener.Addr().String(), time.Second))
	require.Error(t, WaitListeningServer(GetLocalAddrWithFreeTCPPort(), time.Millisecond*50))
}
