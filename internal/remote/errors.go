package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"calldesk/internal/calls"
)

// APIError is a non-2xx answer from the record store. The typed errors below
// embed it, so errors.As(err, &apiErr) works for all of them.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	RequestID  string
	RetryAfter time.Duration
	RawBody    []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("calls api: %d", e.StatusCode)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.RequestID != "" {
		msg += " (requestId: " + e.RequestID + ")"
	}
	return msg
}

// NotFoundError is a 404. It matches calls.ErrNotFound.
type NotFoundError struct{ *APIError }

func (e *NotFoundError) Unwrap() error        { return e.APIError }
func (e *NotFoundError) Is(target error) bool { return target == calls.ErrNotFound }

// AuthError is a 401 or 403.
type AuthError struct{ *APIError }

func (e *AuthError) Unwrap() error { return e.APIError }

// ServerError is a 5xx or 429.
type ServerError struct{ *APIError }

func (e *ServerError) Unwrap() error { return e.APIError }

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewAPIError builds the typed error for resp. body is the already-read response body.
func NewAPIError(resp *http.Response, body []byte) error {
	base := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RequestID:  resp.Header.Get("X-Request-Id"),
		RawBody:    body,
	}
	var parsed errorBody
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		base.Message = parsed.Error
		if base.Message == "" {
			base.Message = parsed.Message
		}
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			base.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &AuthError{APIError: base}
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return &ServerError{APIError: base}
	default:
		return base
	}
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}
