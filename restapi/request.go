/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"code.cloudfoundry.org/bytefmt"
	"github.com/bytedance/sonic"
)

// MalformedRequestError is an error that occurs in case of incorrect request.
type MalformedRequestError struct {
	HTTPStatusCode int
	Message        string
}

// Error returns a string representation of MalformedRequestError.
func (e *MalformedRequestError) Error() string {
	return e.Message
}

// DecodeRequestJSON reads at most maxBodySize bytes of request body (0 means no limit) and decodes it as JSON.
// Returned errors caused by the client are *MalformedRequestError.
func DecodeRequestJSON(rw http.ResponseWriter, r *http.Request, dst interface{}, maxBodySize uint64) error {
	if reqContentType := r.Header.Get("Content-Type"); reqContentType != "" {
		contentType, _, err := mime.ParseMediaType(reqContentType)
		if err != nil || contentType != ContentTypeAppJSON {
			return &MalformedRequestError{
				http.StatusUnsupportedMediaType, fmt.Sprintf("Content-Type %q is not supported.", reqContentType)}
		}
	}

	body := r.Body
	if maxBodySize > 0 {
		body = http.MaxBytesReader(rw, r.Body, int64(maxBodySize)) //nolint:gosec // limit is configured
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLargeErr *http.MaxBytesError
		if errors.As(err, &tooLargeErr) {
			return &MalformedRequestError{http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body must not be larger than %s.", bytefmt.ByteSize(maxBodySize))}
		}
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return &MalformedRequestError{http.StatusBadRequest, "Request body must not be empty."}
	}
	if err = sonic.ConfigDefault.Unmarshal(data, dst); err != nil {
		return &MalformedRequestError{http.StatusBadRequest, "Request body contains badly-formed JSON."}
	}
	return nil
}
