/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-reqguard/idempotency"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/restapi"
)

// IdempotencyLogFieldKey is the name of the logged field that contains the idempotency key.
const IdempotencyLogFieldKey = "idempotency_key"

// HeaderIdempotentReplayed is set to "true" in responses replayed from the idempotency store.
const HeaderIdempotentReplayed = "Idempotent-Replayed"

// IdempotencyDefaultMethods are HTTP methods the Idempotency middleware applies to by default.
var IdempotencyDefaultMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// IdempotencyGetKeyFunc builds the store key from the request and the value of the idempotency header.
type IdempotencyGetKeyFunc func(r *http.Request, headerValue string) string

// IdempotencyOpts represents an options for the Idempotency middleware.
type IdempotencyOpts struct {
	// Header is the name of the request header with the idempotency key. Default is "Idempotency-Key".
	Header string
	// Required makes requests without the header rejected with 400.
	Required bool
	// Methods the middleware applies to. IdempotencyDefaultMethods are used if empty.
	Methods []string
	// MaxBodySize is the maximum size of a response body which is saved for replay.
	// Larger responses are served but not saved.
	MaxBodySize uint64
	// GetKey scopes the header value, e.g. by client. The header value is used as is by default.
	GetKey IdempotencyGetKeyFunc

	Metrics *GuardMetricsCollector
}

// storedResponse is the replay payload kept in idempotency.Record.Result.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type idempotencyHandler struct {
	next      http.Handler
	store     idempotency.Store
	errDomain string
	opts      IdempotencyOpts
	methods   map[string]struct{}
	inFlight  *inFlightKeys
}

// Idempotency is a middleware that replays the stored response for a repeated request with the same idempotency key.
// Only 2xx responses are stored. A request whose key is being processed by this process gets 409.
// Store failures are logged and the request is served as if it had no key saved.
func Idempotency(store idempotency.Store, errDomain string) func(next http.Handler) http.Handler {
	return IdempotencyWithOpts(store, errDomain, IdempotencyOpts{})
}

// IdempotencyWithOpts is a more configurable version of Idempotency middleware.
func IdempotencyWithOpts(store idempotency.Store, errDomain string, opts IdempotencyOpts) func(next http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = idempotency.DefaultHeader
	}
	if len(opts.Methods) == 0 {
		opts.Methods = IdempotencyDefaultMethods
	}
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = idempotency.DefaultMaxBodySize
	}
	if opts.GetKey == nil {
		opts.GetKey = func(_ *http.Request, headerValue string) string { return headerValue }
	}
	methods := make(map[string]struct{}, len(opts.Methods))
	for _, m := range opts.Methods {
		methods[m] = struct{}{}
	}
	inFlight := newInFlightKeys()
	return func(next http.Handler) http.Handler {
		return &idempotencyHandler{
			next:      next,
			store:     store,
			errDomain: errDomain,
			opts:      opts,
			methods:   methods,
			inFlight:  inFlight,
		}
	}
}

func (h *idempotencyHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if _, ok := h.methods[r.Method]; !ok {
		h.next.ServeHTTP(rw, r)
		return
	}

	logger := GetLoggerFromContext(r.Context())

	headerValue := r.Header.Get(h.opts.Header)
	if headerValue == "" {
		if h.opts.Required {
			apiErr := restapi.NewError(h.errDomain, restapi.ErrCodeIdempotencyKeyRequired, restapi.ErrMessageIdempotencyKeyRequired)
			restapi.RespondError(rw, http.StatusBadRequest, apiErr.AddContext("header", h.opts.Header), logger)
			return
		}
		h.opts.Metrics.incIdempotencyOutcome(IdempotencyOutcomeSkipped)
		h.next.ServeHTTP(rw, r)
		return
	}

	key := h.opts.GetKey(r, headerValue)
	GetLoggingParamsFromContext(r.Context()).ExtendFields(log.String(IdempotencyLogFieldKey, key))
	if logger != nil {
		logger = logger.With(log.String(IdempotencyLogFieldKey, key))
	}

	if !h.inFlight.acquire(key) {
		h.opts.Metrics.incIdempotencyOutcome(IdempotencyOutcomeConflict)
		apiErr := restapi.NewError(h.errDomain, restapi.ErrCodeIdempotencyKeyInUse, restapi.ErrMessageIdempotencyKeyInUse)
		restapi.RespondError(rw, http.StatusConflict, apiErr, logger)
		return
	}
	defer h.inFlight.release(key)

	record, err := h.store.Check(r.Context(), key)
	if err != nil {
		h.opts.Metrics.incIdempotencyOutcome(IdempotencyOutcomeError)
		if logger != nil {
			logger.Error("idempotency store check failed, request will be served", log.Error(err))
		}
	}
	if record != nil {
		replayErr := h.replay(rw, record)
		if replayErr == nil {
			h.opts.Metrics.incIdempotencyOutcome(IdempotencyOutcomeReplayed)
			return
		}
		if logger != nil {
			logger.Error("stored idempotent response cannot be replayed, request will be served", log.Error(replayErr))
		}
	}

	r = r.WithContext(NewContextWithIdempotencyKey(r.Context(), key))
	buf := &limitedBuffer{max: h.opts.MaxBodySize}
	wrw := chimw.NewWrapResponseWriter(rw, r.ProtoMajor)
	wrw.Tee(buf)
	h.next.ServeHTTP(wrw, r)

	status := wrw.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return
	}
	if buf.overflow {
		if logger != nil {
			logger.Warn("response is too large to be saved for idempotent replay",
				log.Int("bytes_sent", wrw.BytesWritten()))
		}
		return
	}

	payload, err := sonic.Marshal(storedResponse{
		Status:      status,
		ContentType: wrw.Header().Get("Content-Type"),
		Body:        buf.Bytes(),
	})
	if err != nil {
		if logger != nil {
			logger.Error("marshal response for idempotent replay", log.Error(err))
		}
		return
	}
	// The response is already sent, the record is saved even if the client has gone.
	if err = h.store.Save(context.WithoutCancel(r.Context()), key, payload, status); err != nil {
		h.opts.Metrics.incIdempotencyOutcome(IdempotencyOutcomeError)
		if logger != nil {
			logger.Error("idempotency store save failed", log.Error(err))
		}
		return
	}
	h.opts.Metrics.incIdempotencyOutcome(IdempotencyOutcomeStored)
}

func (h *idempotencyHandler) replay(rw http.ResponseWriter, record *idempotency.Record) error {
	var resp storedResponse
	if err := sonic.Unmarshal(record.Result, &resp); err != nil {
		return fmt.Errorf("unmarshal stored response: %w", err)
	}
	status := resp.Status
	if status == 0 {
		status = record.Status
	}
	if resp.ContentType != "" {
		rw.Header().Set("Content-Type", resp.ContentType)
	}
	rw.Header().Set(HeaderIdempotentReplayed, "true")
	rw.WriteHeader(status)
	if len(resp.Body) != 0 {
		_, _ = rw.Write(resp.Body)
	}
	return nil
}

// limitedBuffer keeps at most max bytes and remembers if more were written.
// It never fails, so the client response is not affected by it.
type limitedBuffer struct {
	bytes.Buffer
	max      uint64
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	if uint64(b.Len()+len(p)) > b.max {
		b.overflow = true
		b.Reset()
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

// inFlightKeys is a set of idempotency keys which requests are being served by this process.
type inFlightKeys struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInFlightKeys() *inFlightKeys {
	return &inFlightKeys{keys: make(map[string]struct{})}
}

func (s *inFlightKeys) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *inFlightKeys) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}
