// Package poller drives scheduled sync runs for the serve command.
package poller

import (
	"errors"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/syncer"
)

var (
	ErrInvalidInterval = errors.New("poll interval must be positive")
	errNoRunner        = errors.New("sync runner is required")
)

// Config represents the poller configuration.
type Config struct {
	Interval time.Duration
	// JobRetention prunes terminal ledger jobs after each cycle. Zero disables pruning.
	JobRetention time.Duration
	// RunOnStart polls once immediately instead of waiting a full interval.
	RunOnStart bool
	Scope      syncer.Scope
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidInterval
	}

	return nil
}
