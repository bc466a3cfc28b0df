// Package sentinelone pkg/sentinelone/errors.go provides errors for the upstream client.
package sentinelone

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTransientNetwork = errors.New("transient network failure")
	ErrInvalidConfig    = errors.New("invalid sentinelone client configuration")
	ErrInvalidRecord    = errors.New("invalid upstream record")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrDecodeResponse   = errors.New("failed to decode upstream response")
)

// APIError is a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("sentinelone: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("sentinelone: HTTP %d", e.StatusCode)
}

// Retryable reports whether the run that hit this error may be retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsRateLimited reports whether err is an upstream 429.
func IsRateLimited(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// ParseError describes one upstream row that failed validation.
type ParseError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ParseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Reason)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (*ParseError) Unwrap() error {
	return ErrInvalidRecord
}
