/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/restapi"
)

// RecoveryDefaultStackSize defines the default size of stack part which will be logged.
const RecoveryDefaultStackSize = 8192

// RecoveryOpts represents an options for Recovery middleware.
type RecoveryOpts struct {
	StackSize int
}

type recoveryHandler struct {
	next        http.Handler
	errorDomain string
	opts        RecoveryOpts
}

// Recovery is a middleware that recovers from panics, logs the panic value and a stacktrace,
// and responds with 500 and the internal error in the restapi envelope.
func Recovery(errDomain string) func(next http.Handler) http.Handler {
	return RecoveryWithOpts(errDomain, RecoveryOpts{StackSize: RecoveryDefaultStackSize})
}

// RecoveryWithOpts is a more configurable version of Recovery middleware.
func RecoveryWithOpts(errDomain string, opts RecoveryOpts) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &recoveryHandler{next: next, errorDomain: errDomain, opts: opts}
	}
}

func (h *recoveryHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			h.handlePanic(rw, r, p)
		}
	}()
	h.next.ServeHTTP(rw, r)
}

func (h *recoveryHandler) handlePanic(rw http.ResponseWriter, r *http.Request, p interface{}) {
	logger := GetLoggerFromContext(r.Context())

	// net/http suppresses the stack trace of http.ErrAbortHandler, so it is re-panicked as is.
	if p == http.ErrAbortHandler {
		if logger != nil {
			logger.Warn("request has been aborted", log.Error(http.ErrAbortHandler))
		}
		panic(p)
	}

	if logger != nil {
		logger.Error(fmt.Sprintf("Panic: %+v", p), h.stackFields()...)
	}
	restapi.RespondError(rw, http.StatusInternalServerError, restapi.NewInternalError(h.errorDomain), logger)
}

func (h *recoveryHandler) stackFields() []log.Field {
	if h.opts.StackSize <= 0 {
		return nil
	}
	stack := make([]byte, h.opts.StackSize)
	return []log.Field{log.Bytes("stack", stack[:runtime.Stack(stack, false)])}
}
