/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

type errorRespData struct {
	Domain string `json:"domain"`
	Code   string `json:"code"`
}

type wrappedErrorRespData struct {
	Error errorRespData `json:"error"`
}

// RequireErrorInRecorder asserts that passing httptest.ResponseRecorder contains error in the restapi envelope.
func RequireErrorInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireErrorInResponse(t, resp.Code, resp.Header(), resp.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

// RequireErrorInResponse asserts that passing http.Response contains error in the restapi envelope.
func RequireErrorInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireErrorInResponse(t, resp.StatusCode, resp.Header, resp.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

func requireErrorInResponse(
	t require.TestingT, code int, header http.Header, body io.Reader, wantHTTPCode int, wantErrDomain, wantErrCode string,
) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantHTTPCode, code)
	require.Equal(t, contentTypeAppJSON, header.Get("Content-Type"))
	bodyBytes, err := io.ReadAll(body)
	require.NoError(t, err)
	var errResp wrappedErrorRespData
	require.NoError(t, sonic.Unmarshal(bodyBytes, &errResp))
	require.Equal(t, wantErrDomain, errResp.Error.Domain)
	require.Equal(t, wantErrCode, errResp.Error.Code)
}

// RequireRateLimitHeaders asserts values of X-RateLimit-* headers.
func RequireRateLimitHeaders(t require.TestingT, header http.Header, wantLimit, wantRemaining, wantResetSecs int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, strconv.Itoa(wantLimit), header.Get("X-RateLimit-Limit"))
	require.Equal(t, strconv.Itoa(wantRemaining), header.Get("X-RateLimit-Remaining"))
	require.Equal(t, strconv.Itoa(wantResetSecs), header.Get("X-RateLimit-Reset"))
}

// RequireJSONInRecorder asserts that passing httptest.ResponseRecorder contains the data in json format.
func RequireJSONInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, contentTypeAppJSON, resp.Header().Get("Content-Type"))
	require.NoError(t, sonic.Unmarshal(resp.Body.Bytes(), dest))
	require.Equal(t, want, dest)
}
