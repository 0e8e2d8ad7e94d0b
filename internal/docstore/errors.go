package docstore

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Use errors.Is(err, docstore.ErrThrottled) to check.
var (
	ErrBatchTooLarge = errors.New("docstore: batch exceeds write limit")
	ErrInvalidPath   = errors.New("docstore: invalid collection path")
	ErrBadRequest    = errors.New("docstore: bad request")
	ErrUnauthorized  = errors.New("docstore: unauthorized")
	ErrForbidden     = errors.New("docstore: forbidden")
	ErrNotFound      = errors.New("docstore: not found")
	ErrConflict      = errors.New("docstore: conflict")
	ErrThrottled     = errors.New("docstore: throttled")
	ErrServerError   = errors.New("docstore: server error")
)

// StoreError wraps a sentinel with the HTTP status and response body of a
// failed request.
type StoreError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error
}

func (e *StoreError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("docstore: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("docstore: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrBatchTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

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
