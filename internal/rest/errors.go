package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrMissingToken      = errors.New("rest: missing token")
	ErrAttemptsExhausted = errors.New("rest: request failed after maximum attempts")
	ErrQueryBody         = errors.New("rest: query parameters need an object body")
)

// HTTPError is a response the API answered with a status of 400 or above.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Header     http.Header
	Body       []byte

	// Code and Message are taken from the JSON error body when present.
	Code    int
	Message string
}

func newHTTPError(method, path string, status int, header http.Header, body []byte) *HTTPError {
	e := &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Header:     header,
		Body:       body,
	}
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code = payload.Code
		e.Message = payload.Message
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rest: %s %s: HTTP %d: %s (code %d)", e.Method, e.Path, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("rest: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

// QuotaExceededError is a 429 response. It is retried without counting
// toward the attempt ceiling.
type QuotaExceededError struct {
	*HTTPError
	Global     bool
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Unwrap() error { return e.HTTPError }

// TransientUpstreamError is a 502 response. It is retried and counts toward
// the attempt ceiling.
type TransientUpstreamError struct {
	*HTTPError
}

func (e *TransientUpstreamError) Unwrap() error { return e.HTTPError }

// RequestError is a failure that produced no response.
type RequestError struct {
	Method string
	Path   string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("rest: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// AttemptsExhaustedError is returned once a request used up its attempts.
// Err is the failure of the last attempt.
type AttemptsExhaustedError struct {
	Attempts    int
	RateLimited int
	Err         error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("rest: request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptsExhaustedError) Unwrap() error { return e.Err }

func (e *AttemptsExhaustedError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}
