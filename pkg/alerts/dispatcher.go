package alerts

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Dispatcher fans an alert out to every enabled alerter.
type Dispatcher struct {
	alerters []AlertService
	logger   zerolog.Logger
}

// NewDispatcher builds alerters from configs. Invalid configs are returned as errors.
func NewDispatcher(configs []WebhookConfig, logger zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{logger: logger.With().Str("component", "alerts").Logger()}

	for _, cfg := range configs {
		alerter, err := NewWebhookAlerter(cfg, logger)
		if err != nil {
			return nil, err
		}

		d.alerters = append(d.alerters, alerter)
	}

	return d, nil
}

// IsEnabled reports whether any alerter is enabled.
func (d *Dispatcher) IsEnabled() bool {
	for _, a := range d.alerters {
		if a.IsEnabled() {
			return true
		}
	}

	return false
}

// Alert sends to all enabled alerters. Cooldown suppression is not an error.
func (d *Dispatcher) Alert(ctx context.Context, alert *WebhookAlert) error {
	var errs []error

	for _, a := range d.alerters {
		if !a.IsEnabled() {
			continue
		}

		copied := *alert

		err := a.Alert(ctx, &copied)
		if err == nil || errors.Is(err, ErrWebhookCooldown) {
			continue
		}

		d.logger.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")

		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
