/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/log/logtest"
	"github.com/acronis/go-reqguard/restapi"
	"github.com/acronis/go-reqguard/testutil"
)

func panickingHandler(value interface{}, calls *int) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		*calls++
		panic(value)
	})
}

func TestRecovery(t *testing.T) {
	const errDomain = "ReqGuard"

	tests := []struct {
		name          string
		opts          RecoveryOpts
		withLogger    bool
		wantLogMsg    string
		wantStackSize int
	}{
		{
			name: "without logger in context",
			opts: RecoveryOpts{StackSize: RecoveryDefaultStackSize},
		},
		{
			name:          "stack is logged",
			opts:          RecoveryOpts{StackSize: 16},
			withLogger:    true,
			wantLogMsg:    "Panic: return label printer is offline",
			wantStackSize: 16,
		},
		{
			name:       "stack logging is disabled",
			opts:       RecoveryOpts{},
			withLogger: true,
			wantLogMsg: "Panic: return label printer is offline",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			logger := logtest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/returns", nil)
			if tt.withLogger {
				req = req.WithContext(NewContextWithLogger(req.Context(), logger))
			}
			resp := httptest.NewRecorder()
			handler := RecoveryWithOpts(errDomain, tt.opts)(panickingHandler("return label printer is offline", &calls))

			require.NotPanics(t, func() { handler.ServeHTTP(resp, req) })

			require.Equal(t, 1, calls)
			testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)
			if tt.wantLogMsg == "" {
				require.Empty(t, logger.Entries())
				return
			}
			entry, found := logger.FindEntry(tt.wantLogMsg)
			require.True(t, found)
			require.Equal(t, log.LevelError, entry.Level)
			stackField, found := entry.FindField("stack")
			require.Equal(t, tt.wantStackSize > 0, found)
			if found {
				require.Len(t, stackField.Bytes, tt.wantStackSize)
			}
		})
	}
}

func TestRecovery_AbortHandler(t *testing.T) {
	var calls int
	logger := logtest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/returns/ret-1", nil)
	req = req.WithContext(NewContextWithLogger(req.Context(), logger))
	handler := Recovery("ReqGuard")(panickingHandler(http.ErrAbortHandler, &calls))

	require.PanicsWithValue(t, http.ErrAbortHandler, func() { handler.ServeHTTP(httptest.NewRecorder(), req) })

	require.Equal(t, 1, calls)
	entry, found := logger.FindEntry("request has been aborted")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)
	require.Len(t, logger.Entries(), 1)
}
