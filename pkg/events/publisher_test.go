package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	published []message
	err       error
	closed    bool
	drained   int
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}

	c.published = append(c.published, message{subject: subject, data: data})

	return nil
}

func (c *fakeConn) Drain() error {
	c.drained++
	c.closed = true

	return nil
}

func (c *fakeConn) IsClosed() bool { return c.closed }

func TestPublishRun(t *testing.T) {
	nc := &fakeConn{}

	p, err := newPublisher(nc, "telemetrysync.", zerolog.Nop())
	require.NoError(t, err)

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := &models.RunEvent{
		Type:        models.SyncTypeVulnerabilities,
		Status:      models.JobCompleted,
		StartedAt:   started,
		CompletedAt: started.Add(time.Minute),
		Processed:   12,
		Resolved:    3,
		Jobs:        map[string]string{"acme": "job-1"},
	}

	require.NoError(t, p.PublishRun(context.Background(), ev))
	require.Len(t, nc.published, 1)
	assert.Equal(t, "telemetrysync.sync.vulnerabilities.completed", nc.published[0].subject)

	var got models.RunEvent
	require.NoError(t, json.Unmarshal(nc.published[0].data, &got))
	assert.Equal(t, 12, got.Processed)
	assert.Equal(t, int64(3), got.Resolved)
	assert.Equal(t, "job-1", got.Jobs["acme"])
	assert.True(t, got.StartedAt.Equal(started))
}

func TestPublishRunErrors(t *testing.T) {
	nc := &fakeConn{err: errors.New("nats: connection closed")}

	p, err := newPublisher(nc, "ts", zerolog.Nop())
	require.NoError(t, err)

	ev := &models.RunEvent{Type: models.SyncTypeAgents, Status: models.JobFailed}

	err = p.PublishRun(context.Background(), ev)
	require.ErrorIs(t, err, errPublish)
	assert.Contains(t, err.Error(), "ts.sync.agents.failed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.PublishRun(ctx, ev), context.Canceled)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, nc.drained)
	require.ErrorIs(t, p.PublishRun(context.Background(), ev), errConnClose)
}

func TestConstructorValidation(t *testing.T) {
	_, err := Connect("", "ts", zerolog.Nop())
	require.ErrorIs(t, err, ErrNoURL)

	_, err = newPublisher(&fakeConn{}, "..", zerolog.Nop())
	require.ErrorIs(t, err, errNoPrefix)
}
