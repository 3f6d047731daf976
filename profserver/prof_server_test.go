/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package profserver

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/log/logtest"
	"github.com/acronis/go-reqguard/testutil"
)

func TestProfServer_Start(t *testing.T) {
	addr := testutil.GetLocalAddrWithFreeTCPPort()

	stats := func() map[string]int {
		return map[string]int{"rate_limit_buckets": 3, "idempotency_records": 1}
	}
	profServer := New(&Config{Enabled: true, Address: addr}, logtest.NewRecorder(), stats)
	fatalErr := make(chan error, 1)
	go profServer.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(addr, time.Second*3))
	defer func() {
		require.NoError(t, profServer.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	}()

	get := func(path string) (int, string) {
		resp, err := http.Get(profServer.URL + path)
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(respBody)
	}

	code, body := get("/debug/pprof/")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body)

	code, body = get("/debug/reqguard/stats")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"rate_limit_buckets":3,"idempotency_records":1}`, body)
}

func TestProfServer_StopNotGracefully(t *testing.T) {
	addr := testutil.GetLocalAddrWithFreeTCPPort()
	logger := logtest.NewRecorder()
	profServer := New(&Config{Enabled: true, Address: addr}, logger, nil)
	fatalErr := make(chan error, 1)
	go profServer.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(addr, time.Second*3))

	resp, err := http.Get(profServer.URL + statsPath)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, profServer.Stop(false))
	testutil.RequireNoErrorInChannel(t, fatalErr)
	_, found := logger.FindEntry("profiling server stopped")
	require.True(t, found)
}
