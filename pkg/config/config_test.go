package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/alerts"
	"github.com/mfreeman451/telemetrysync/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadJSONWithComments(t *testing.T) {
	path := writeFile(t, "telemetrysync.json", `{
		// console connection
		"sentinelone": {
			"base_url": "https://usea1.sentinelone.net",
			"requests_per_second": 2.5,
			"timeout": "45s"
		},
		"sync": {
			"page_size": 500,
			"retry_base_delay": "1s",
			"interval": "15m", /* scheduler */
		},
		"webhooks": [
			{"enabled": true, "url": "https://hooks.example/x", "template": "discord", "cooldown": "10m"}
		]
	}`)

	t.Setenv(EnvAPIToken, "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://usea1.sentinelone.net", cfg.SentinelOne.BaseURL)
	assert.Equal(t, "secret", cfg.SentinelOne.APIToken)
	assert.InDelta(t, 2.5, cfg.SentinelOne.RequestsPerSecond, 0.001)
	assert.Equal(t, Duration(45*time.Second), cfg.SentinelOne.Timeout)
	assert.Equal(t, 500, cfg.Sync.PageSize)
	assert.Equal(t, Duration(time.Second), cfg.Sync.RetryBaseDelay)
	assert.Equal(t, Duration(15*time.Minute), cfg.Sync.Interval)

	// untouched fields keep their defaults
	assert.Equal(t, defaultMaxPages, cfg.Sync.MaxPages)
	assert.Equal(t, Duration(defaultRetryMaxDelay), cfg.Sync.RetryMaxDelay)
	assert.Equal(t, defaultDBPath, cfg.Database.Path)

	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, 10*time.Minute, cfg.Webhooks[0].Cooldown)
	require.NoError(t, cfg.RequireSentinelOne())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "telemetrysync.yaml", `
database:
  path: /var/lib/telemetrysync/state.db
sync:
  max_pages: 50
  page_timeout: 90s
  job_retention: 168h
logging:
  level: debug
  format: console
metrics:
  metrics_enabled: false
webhooks:
  - enabled: true
    url: https://hooks.example/y
    cooldown: 5m
events:
  nats_url: nats://127.0.0.1:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/telemetrysync/state.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Sync.MaxPages)
	assert.Equal(t, Duration(90*time.Second), cfg.Sync.PageTimeout)
	assert.Equal(t, Duration(168*time.Hour), cfg.Sync.JobRetention)
	assert.Equal(t, logger.Config{Level: "debug", Format: logger.FormatConsole}, cfg.Logging)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, defaultRunRetention, cfg.Metrics.Retention)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.NATSURL)
	assert.Equal(t, defaultSubjectPrefix, cfg.Events.SubjectPrefix)

	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, 5*time.Minute, cfg.Webhooks[0].Cooldown)

	require.ErrorIs(t, cfg.RequireSentinelOne(), ErrInvalidConfig)
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv(EnvBaseURL, "https://console.example")
	t.Setenv(EnvAPIToken, "tok")
	t.Setenv(EnvDBPath, "/tmp/ts.db")
	t.Setenv(EnvListenAddr, "127.0.0.1:9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://console.example", cfg.SentinelOne.BaseURL)
	assert.Equal(t, "/tmp/ts.db", cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.ListenAddr)
	assert.NoError(t, cfg.RequireSentinelOne())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", `{"sync": {"page_timeout": "soon"}}`))
	require.ErrorIs(t, err, errInvalidDuration)

	_, err = Load(writeFile(t, "bad.yaml", "sync: [unclosed"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty database path", mutate: func(c *Config) { c.Database.Path = "" }},
		{name: "negative page size", mutate: func(c *Config) { c.Sync.PageSize = -1 }},
		{name: "negative max connections", mutate: func(c *Config) { c.API.MaxConnections = -1 }},
		{name: "negative retries", mutate: func(c *Config) { c.Sync.RetryAttempts = -2 }},
		{name: "negative stale job age", mutate: func(c *Config) { c.Sync.StaleJobAfter = Duration(-time.Hour) }},
		{name: "negative timeout", mutate: func(c *Config) { c.Sync.PageTimeout = Duration(-time.Second) }},
		{name: "relative base URL", mutate: func(c *Config) { c.SentinelOne.BaseURL = "console.example" }},
		{name: "enabled webhook without URL", mutate: func(c *Config) {
			c.Webhooks = append(c.Webhooks, alertsWebhook(true, ""))
		}},
		{name: "nats without prefix", mutate: func(c *Config) {
			c.Events.NATSURL = "nats://localhost:4222"
			c.Events.SubjectPrefix = ""
		}},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			require.ErrorIs(t, ValidateConfig(cfg), ErrInvalidConfig)
		})
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration

	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, Duration(90*time.Second), d)

	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, Duration(time.Microsecond), d)

	require.ErrorIs(t, d.UnmarshalJSON([]byte(`true`)), errInvalidDuration)

	b, err := Duration(2 * time.Minute).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"2m0s"`, string(b))
}

func alertsWebhook(enabled bool, url string) alerts.WebhookConfig {
	return alerts.WebhookConfig{Enabled: enabled, URL: url}
}
