// Package api is the HTTP collaborator of the drive runtime: a JSON client for
// the storage service with authentication, automatic retry and error
// classification onto the sdkerr taxonomy.
//
// Retrying lives here and nowhere else. Callers above this package see each
// failure exactly once, already classified.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Error wraps a taxonomy sentinel with the HTTP status, the request id and
// the service's own error code and message.
type Error struct {
	StatusCode int
	RequestID  string
	Code       int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s, code %d): %s", e.StatusCode, e.RequestID, e.Code, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorBody is the service's error envelope.
type errorBody struct {
	Code  int    `json:"Code"`
	Error string `json:"Error"`
}

// newError builds an Error from a non-2xx response body. Bodies that are not
// the service envelope are kept verbatim as the message.
func newError(status int, requestID string, body []byte) *Error {
	e := &Error{
		StatusCode: status,
		RequestID:  requestID,
		Message:    string(body),
		Err:        classifyStatus(status),
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		e.Code = eb.Code
		e.Message = eb.Error
	}

	return e
}

// classifyStatus maps an HTTP status code onto a taxonomy sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return sdkerr.ErrArgument
	case http.StatusUnauthorized:
		return sdkerr.ErrAuth
	case http.StatusForbidden:
		return sdkerr.ErrPermission
	case http.StatusNotFound, http.StatusGone:
		return sdkerr.ErrNotFound
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return sdkerr.ErrTransientIO
	default:
		if code >= http.StatusInternalServerError {
			return sdkerr.ErrTransientIO
		}

		return sdkerr.ErrArgument
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
