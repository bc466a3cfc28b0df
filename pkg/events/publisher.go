// Package events publishes sync run outcomes to NATS and to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	clientName    = "telemetrysync"
	reconnectWait = 2 * time.Second
	drainTimeout  = 5 * time.Second
)

var (
	ErrNoURL     = errors.New("nats url is required")
	errNoPrefix  = errors.New("subject prefix is required")
	errMarshal   = errors.New("failed to marshal run event")
	errPublish   = errors.New("failed to publish run event")
	errConnClose = errors.New("publisher is closed")
)

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	IsClosed() bool
}

// Publisher sends one message per finished sync run on
// <prefix>.sync.<type>.<status>, e.g. telemetrysync.sync.agents.completed.
type Publisher struct {
	nc     conn
	prefix string
	logger zerolog.Logger
}

// Connect dials url and returns a Publisher. The connection reconnects
// indefinitely; publishes made while disconnected are buffered by the client.
func Connect(url, prefix string, logger zerolog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, ErrNoURL
	}

	log := logger.With().Str("component", "events").Logger()

	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrlRedacted()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return newPublisher(nc, prefix, log)
}

func newPublisher(nc conn, prefix string, logger zerolog.Logger) (*Publisher, error) {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return nil, errNoPrefix
	}

	return &Publisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev *models.RunEvent) string {
	return fmt.Sprintf("%s.sync.%s.%s", p.prefix,
		strings.ToLower(string(ev.Type)), strings.ToLower(string(ev.Status)))
}

// PublishRun publishes ev as JSON.
func (p *Publisher) PublishRun(ctx context.Context, ev *models.RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.nc.IsClosed() {
		return errConnClose
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", errMarshal, err)
	}

	subject := p.Subject(ev)

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%w on %s: %w", errPublish, subject, err)
	}

	p.logger.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("Published run event")

	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.nc.IsClosed() {
		return nil
	}

	return p.nc.Drain()
}
