/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/acronis/go-reqguard/httpserver/middleware"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/restapi"
)

const (
	returnStatusRequested = "requested"

	errCodeInvalidReturn   = "invalidReturn"
	errCodeReturnNotFound  = "returnNotFound"
	errMessageReturnNoItem = "Order ID and at least one item are required."
)

type createReturnRequest struct {
	OrderID string   `json:"orderId"`
	Items   []string `json:"items"`
	Reason  string   `json:"reason,omitempty"`
}

// ReturnRequest is a customer's request to return items of a jewelry order.
type ReturnRequest struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Items     []string  `json:"items"`
	Reason    string    `json:"reason,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// returnsHandler keeps return requests in memory. It is the endpoint guarded by rate limiting and idempotency.
type returnsHandler struct {
	maxBodySize uint64
	now         func() time.Time

	mu      sync.RWMutex
	returns map[string]ReturnRequest
}

func newReturnsHandler(maxBodySize uint64) *returnsHandler {
	return &returnsHandler{maxBodySize: maxBodySize, now: time.Now, returns: make(map[string]ReturnRequest)}
}

func (h *returnsHandler) Register(router chi.Router) {
	router.Post("/returns", h.create)
	router.Get("/returns/{returnID}", h.get)
}

func (h *returnsHandler) create(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	var req createReturnRequest
	if err := restapi.DecodeRequestJSON(rw, r, &req, h.maxBodySize); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, errDomain, err, logger)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" || len(req.Items) == 0 {
		restapi.RespondError(rw, http.StatusBadRequest,
			restapi.NewError(errDomain, errCodeInvalidReturn, errMessageReturnNoItem), logger)
		return
	}

	ret := ReturnRequest{
		ID:        uuid.NewString(),
		OrderID:   req.OrderID,
		Items:     req.Items,
		Reason:    req.Reason,
		Status:    returnStatusRequested,
		CreatedAt: h.now().UTC(),
	}
	h.mu.Lock()
	h.returns[ret.ID] = ret
	h.mu.Unlock()

	if logger != nil {
		logger.Info("return requested", log.String("return_id", ret.ID), log.String("order_id", ret.OrderID))
	}
	restapi.RespondCodeAndJSON(rw, http.StatusCreated, ret, logger)
}

func (h *returnsHandler) get(rw http.ResponseWriter, r *http.Request) {
	returnID := chi.URLParam(r, "returnID")
	h.mu.RLock()
	ret, ok := h.returns[returnID]
	h.mu.RUnlock()
	if !ok {
		apiErr := restapi.NewError(errDomain, errCodeReturnNotFound, "Return request is not found.")
		restapi.RespondError(rw, http.StatusNotFound, apiErr.AddContext("returnId", returnID), middleware.GetLoggerFromContext(r.Context()))
		return
	}
	restapi.RespondJSON(rw, ret, middleware.GetLoggerFromContext(r.Context()))
}
