/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package restapi contains the JSON response helpers and the error envelope
// ({"error": {"domain": ..., "code": ..., "message": ...}}) used by reqguard HTTP handlers and middlewares.
package restapi

import (
	"net/http"
	"strings"
	"unicode"
)

// Error represents an error details.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeInternal               = "internalError"
	ErrCodeNotFound               = "notFound"
	ErrCodeMethodNotAllowed       = "methodNotAllowed"
	ErrCodeTooManyRequests        = "tooManyRequests"
	ErrCodeIdempotencyKeyInUse    = "idempotencyKeyInUse"
	ErrCodeIdempotencyKeyRequired = "idempotencyKeyRequired"
)

// Error messages.
var (
	ErrMessageInternal               = "Internal error."
	ErrMessageNotFound               = "Not found."
	ErrMessageMethodNotAllowed       = "Method not allowed."
	ErrMessageTooManyRequests        = "Too many requests."
	ErrMessageIdempotencyKeyInUse    = "A request with the same idempotency key is being processed."
	ErrMessageIdempotencyKeyRequired = "Idempotency key is required."
)

// NewError creates a new Error with specified params.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// NewInternalError creates a new internal error with specified domain.
func NewInternalError(domain string) *Error {
	return NewError(domain, ErrCodeInternal, ErrMessageInternal)
}

// NewTooManyRequestsError creates an error returned to rate-limited clients.
func NewTooManyRequestsError(domain string) *Error {
	return NewError(domain, ErrCodeTooManyRequests, ErrMessageTooManyRequests)
}

// AddContext adds value to error context.
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[field] = value
	return e
}

// ErrorCodeFromHTTPStatus converts HTTP status text to a lower camel case error code
// (e.g. 413 -> "requestEntityTooLarge").
func ErrorCodeFromHTTPStatus(httpCode int) string {
	if httpCode == http.StatusInternalServerError {
		return ErrCodeInternal
	}
	var builder strings.Builder
	upperNext := false
	for _, char := range http.StatusText(httpCode) {
		switch {
		case unicode.IsSpace(char) || char == '-':
			upperNext = true
		case upperNext:
			builder.WriteRune(unicode.ToUpper(char))
			upperNext = false
		default:
			builder.WriteRune(unicode.ToLower(char))
		}
	}
	return builder.String()
}
