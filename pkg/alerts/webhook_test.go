package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiver struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	status   int
	endpoint *httptest.Server
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()

	r := &receiver{status: status}
	r.endpoint = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)

		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()

		w.WriteHeader(r.status)
	}))
	t.Cleanup(r.endpoint.Close)

	return r
}

func (r *receiver) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]byte(nil), r.bodies...)
}

func failedAgentsAlert() *WebhookAlert {
	return &WebhookAlert{
		Level:    Error,
		Title:    "Agent sync failed",
		Message:  "page limit exceeded",
		SyncType: "AGENTS",
		Details:  map[string]any{"tenant": "acme-inc"},
	}
}

func TestWebhookAlerterPostsJSON(t *testing.T) {
	recv := newReceiver(t, http.StatusNoContent)

	alerter, err := NewWebhookAlerter(WebhookConfig{
		Enabled: true,
		URL:     recv.endpoint.URL,
		Headers: []Header{{Key: "X-Token", Value: "secret"}},
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, alerter.Alert(context.Background(), failedAgentsAlert()))

	bodies := recv.received()
	require.Len(t, bodies, 1)

	var got WebhookAlert
	require.NoError(t, json.Unmarshal(bodies[0], &got))
	assert.Equal(t, Error, got.Level)
	assert.Equal(t, "AGENTS", got.SyncType)
	assert.NotEmpty(t, got.Timestamp)
	assert.Equal(t, "secret", recv.headers[0].Get("X-Token"))
	assert.Equal(t, "application/json", recv.headers[0].Get("Content-Type"))
}

func TestWebhookAlerterDiscordTemplate(t *testing.T) {
	recv := newReceiver(t, http.StatusOK)

	alerter, err := NewWebhookAlerter(WebhookConfig{Enabled: true, URL: recv.endpoint.URL, Template: "discord"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, alerter.Alert(context.Background(), failedAgentsAlert()))

	var payload struct {
		Embeds []struct {
			Title string `json:"title"`
			Color int    `json:"color"`
			Fields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"embeds"`
	}

	require.NoError(t, json.Unmarshal(recv.received()[0], &payload))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Agent sync failed", payload.Embeds[0].Title)
	assert.Equal(t, 15158332, payload.Embeds[0].Color)
	require.Len(t, payload.Embeds[0].Fields, 2)
	assert.Equal(t, "acme-inc", payload.Embeds[0].Fields[1].Value)
}

func TestWebhookAlerterCooldown(t *testing.T) {
	recv := newReceiver(t, http.StatusOK)

	alerter, err := NewWebhookAlerter(WebhookConfig{Enabled: true, URL: recv.endpoint.URL, Cooldown: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alerter.now = func() time.Time { return now }

	require.NoError(t, alerter.Alert(context.Background(), failedAgentsAlert()))
	require.ErrorIs(t, alerter.Alert(context.Background(), failedAgentsAlert()), ErrWebhookCooldown)

	now = now.Add(2 * time.Minute)
	require.NoError(t, alerter.Alert(context.Background(), failedAgentsAlert()))

	assert.Len(t, recv.received(), 2)
}

func TestWebhookAlerterErrors(t *testing.T) {
	_, err := NewWebhookAlerter(WebhookConfig{Enabled: true, URL: "http://x", Template: "{{"}, zerolog.Nop())
	require.ErrorIs(t, err, errTemplateParse)

	disabled, err := NewWebhookAlerter(WebhookConfig{URL: "http://x"}, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled())
	require.ErrorIs(t, disabled.Alert(context.Background(), failedAgentsAlert()), ErrWebhookDisabled)

	recv := newReceiver(t, http.StatusBadGateway)

	failing, err := NewWebhookAlerter(WebhookConfig{Enabled: true, URL: recv.endpoint.URL}, zerolog.Nop())
	require.NoError(t, err)
	require.ErrorIs(t, failing.Alert(context.Background(), failedAgentsAlert()), errWebhookStatus)

	invalid, err := NewWebhookAlerter(WebhookConfig{Enabled: true, URL: recv.endpoint.URL, Template: "not json"}, zerolog.Nop())
	require.NoError(t, err)
	require.ErrorIs(t, invalid.Alert(context.Background(), failedAgentsAlert()), errInvalidJSON)
}

func TestWebhookConfigCooldownJSON(t *testing.T) {
	var cfg WebhookConfig

	require.NoError(t, json.Unmarshal([]byte(`{"enabled":true,"url":"http://x","cooldown":"15m"}`), &cfg))
	assert.Equal(t, 15*time.Minute, cfg.Cooldown)

	require.Error(t, json.Unmarshal([]byte(`{"cooldown":"soon"}`), &cfg))
}

func TestDispatcherFansOut(t *testing.T) {
	first := newReceiver(t, http.StatusOK)
	second := newReceiver(t, http.StatusInternalServerError)

	d, err := NewDispatcher([]WebhookConfig{
		{Enabled: true, URL: first.endpoint.URL},
		{Enabled: true, URL: second.endpoint.URL},
		{Enabled: false, URL: "http://unused"},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, d.IsEnabled())

	err = d.Alert(context.Background(), failedAgentsAlert())
	require.ErrorIs(t, err, errWebhookStatus)

	assert.Len(t, first.received(), 1)
	assert.Len(t, second.received(), 1)

	empty, err := NewDispatcher(nil, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, empty.IsEnabled())
}
