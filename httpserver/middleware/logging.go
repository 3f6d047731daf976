/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-reqguard/log"
)

const (
	userAgentLogFieldKey = "user_agent"

	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// LoggingOpts represents an options for Logging middleware.
type LoggingOpts struct {
	// RequestStart enables logging of an additional entry when the request is received.
	RequestStart bool
	// RequestHeaders maps request header names to log field keys.
	RequestHeaders map[string]string
	// ExcludedEndpoints are URL paths which are not logged unless the response status is >= 400.
	ExcludedEndpoints []string
	// SlowRequestThreshold makes responses served longer than it logged at the warn level.
	SlowRequestThreshold time.Duration
}

type loggingHandler struct {
	next   http.Handler
	logger log.FieldLogger
	opts   LoggingOpts
}

// Logging is a middleware that logs info about HTTP request and response.
// Also, it puts logger (with external and internal request's ids in fields) into request's context.
func Logging(logger log.FieldLogger) func(next http.Handler) http.Handler {
	return LoggingWithOpts(logger, LoggingOpts{})
}

// LoggingWithOpts is a more configurable version of Logging middleware.
func LoggingWithOpts(logger log.FieldLogger, opts LoggingOpts) func(next http.Handler) http.Handler {
	if opts.SlowRequestThreshold == 0 {
		opts.SlowRequestThreshold = time.Second
	}
	return func(next http.Handler) http.Handler {
		return &loggingHandler{next: next, logger: logger, opts: opts}
	}
}

func (h *loggingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	startTime := GetRequestStartTimeFromContext(ctx)
	if startTime.IsZero() {
		startTime = time.Now()
		ctx = NewContextWithRequestStartTime(ctx, startTime)
	}

	loggerForNext := h.logger.With(
		log.String("request_id", GetRequestIDFromContext(ctx)),
		log.String("int_request_id", GetInternalRequestIDFromContext(ctx)),
	)

	logFields := make([]log.Field, 0, 8)
	logFields = append(logFields,
		log.String("method", r.Method),
		log.String("uri", r.RequestURI),
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("content_length", r.ContentLength),
		log.String(userAgentLogFieldKey, r.UserAgent()),
	)
	if originAddr := getOriginAddr(r); originAddr != "" {
		logFields = append(logFields, log.String("origin_addr", originAddr))
	}
	for reqHeaderName, logKey := range h.opts.RequestHeaders {
		logFields = append(logFields, log.String(logKey, r.Header.Get(reqHeaderName)))
	}
	logger := loggerForNext.With(logFields...)

	noLog := isLoggingDisabled(r.URL.Path, h.opts.ExcludedEndpoints)
	if h.opts.RequestStart && !noLog {
		logger.Info("request started")
	}

	lp := &LoggingParams{}
	wrw := chimw.NewWrapResponseWriter(rw, r.ProtoMajor)
	r = r.WithContext(NewContextWithLoggingParams(NewContextWithLogger(ctx, loggerForNext), lp))
	h.next.ServeHTTP(wrw, r)

	status := wrw.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if noLog && status < http.StatusBadRequest {
		return
	}

	duration := time.Since(startTime)
	respFields := []log.Field{
		log.Int64("duration_ms", duration.Milliseconds()),
		log.Int("status", status),
		log.Int("bytes_sent", wrw.BytesWritten()),
	}
	respFields = append(respFields, lp.Fields()...)
	msg := fmt.Sprintf("response completed in %.3fs", duration.Seconds())
	if duration >= h.opts.SlowRequestThreshold {
		logger.Warn(msg, respFields...)
		return
	}
	logger.Info(msg, respFields...)
}

// LoggingParams collects fields which inner middlewares and handlers add to the final "response completed" entry.
type LoggingParams struct {
	mu     sync.Mutex
	fields []log.Field
}

// ExtendFields adds fields to the final log entry. It's safe to call on nil LoggingParams.
func (lp *LoggingParams) ExtendFields(fields ...log.Field) {
	if lp == nil {
		return
	}
	lp.mu.Lock()
	lp.fields = append(lp.fields, fields...)
	lp.mu.Unlock()
}

// Fields returns a copy of the collected fields.
func (lp *LoggingParams) Fields() []log.Field {
	if lp == nil {
		return nil
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return append([]log.Field(nil), lp.fields...)
}

func isLoggingDisabled(urlPath string, noLogEndpoints []string) bool {
	for _, endpoint := range noLogEndpoints {
		if urlPath == endpoint {
			return true
		}
	}
	return false
}

func getOriginAddr(r *http.Request) string {
	if forwardFor := r.Header.Get(headerForwardedFor); forwardFor != "" {
		remoteAddr := forwardFor
		if first := strings.IndexByte(forwardFor, ','); first != -1 {
			remoteAddr = forwardFor[:first]
		}
		return strings.TrimSpace(remoteAddr)
	}
	if realIP := r.Header.Get(headerRealIP); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	return ""
}
