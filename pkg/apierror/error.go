// Package apierror defines the typed errors surfaced by backend calls.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is the structured error body returned by the backend for a
// non-success response. Callers receive it as the parsed error body.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d", e.StatusCode)
}

// excerptLimit bounds the raw-body excerpt carried for diagnostics.
const excerptLimit = 256

// MalformedResponseError is returned when a response that should contain
// JSON cannot be decoded. Excerpt holds a truncated copy of the raw body.
type MalformedResponseError struct {
	Excerpt string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v (body: %q)", e.Err, e.Excerpt)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// NewMalformedResponse builds a MalformedResponseError, truncating the raw
// body to a diagnostic excerpt.
func NewMalformedResponse(body []byte, err error) *MalformedResponseError {
	excerpt := string(body)
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit]
	}
	return &MalformedResponseError{Excerpt: excerpt, Err: err}
}

// FromResponse parses a non-2xx response body into an *Error. A body that
// is not valid JSON yields a MalformedResponseError instead.
func FromResponse(statusCode int, body []byte) error {
	apiErr := &Error{StatusCode: statusCode}
	if len(body) > 0 {
		if err := json.Unmarshal(body, apiErr); err != nil {
			return NewMalformedResponse(body, err)
		}
	}
	return apiErr
}

// IsAuthFailure reports whether err represents a 401-class failure, the
// condition under which an authenticated call is retried after a token
// refresh.
func IsAuthFailure(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}
