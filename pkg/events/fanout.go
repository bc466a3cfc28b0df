package events

import (
	"context"
	"errors"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// RunPublisher is implemented by every run event sink.
type RunPublisher interface {
	PublishRun(ctx context.Context, ev *models.RunEvent) error
}

var (
	_ RunPublisher = (*Publisher)(nil)
	_ RunPublisher = (*Hub)(nil)
	_ RunPublisher = Fanout(nil)
)

// Fanout publishes each event to every sink and joins their errors.
type Fanout []RunPublisher

func (f Fanout) PublishRun(ctx context.Context, ev *models.RunEvent) error {
	var errs []error

	for _, p := range f {
		if err := p.PublishRun(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
