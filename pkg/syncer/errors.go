// Package syncer pkg/syncer/errors.go provides errors for the sync engine.

package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
)

var (
	// ErrTransientNetwork is a connection-level failure or a page fetch that timed out.
	ErrTransientNetwork = sentinelone.ErrTransientNetwork

	// ErrParse marks an upstream record that failed validation.
	ErrParse = sentinelone.ErrInvalidRecord

	// ErrConfiguration aborts a run before any page is fetched.
	ErrConfiguration   = errors.New("configuration error")
	ErrNoSiteMappings  = fmt.Errorf("%w: no tenant is mapped to an upstream site", ErrConfiguration)
	ErrTenantNotMapped = fmt.Errorf("%w: tenant is not mapped to an upstream site", ErrConfiguration)

	ErrIdentityUnresolved = errors.New("site is not mapped to a tenant")
	ErrPageLimitExceeded  = errors.New("page limit exceeded")
)

// IsRetryable reports whether a failed run may be attempted again. Upstream
// 4xx responses other than 429, configuration problems and cancellation are
// final; everything else that aborted a run is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientNetwork) {
		return true
	}

	var apiErr *sentinelone.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	switch {
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	return true
}
