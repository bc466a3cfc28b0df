package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/alerts"
	"github.com/mfreeman451/telemetrysync/pkg/logger"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"gopkg.in/yaml.v3"
)

type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidDuration, err)
	}

	*d = Duration(dur)

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the telemetrysync process configuration.
type Config struct {
	Database    DatabaseConfig         `json:"database" yaml:"database"`
	SentinelOne SentinelOneConfig      `json:"sentinelone" yaml:"sentinelone"`
	Sync        SyncConfig             `json:"sync" yaml:"sync"`
	Windows     WindowsConfig          `json:"windows" yaml:"windows"`
	API         APIConfig              `json:"api" yaml:"api"`
	Logging     logger.Config          `json:"logging" yaml:"logging"`
	Metrics     models.MetricsConfig   `json:"metrics" yaml:"metrics"`
	Events      EventsConfig           `json:"events" yaml:"events"`
	Webhooks    []alerts.WebhookConfig `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// SentinelOneConfig configures the upstream console client. The token is
// usually supplied through SENTINELONE_API_TOKEN rather than the file.
type SentinelOneConfig struct {
	BaseURL           string   `json:"base_url" yaml:"base_url"`
	APIToken          string   `json:"api_token,omitempty" yaml:"api_token,omitempty"`
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int      `json:"burst" yaml:"burst"`
	Timeout           Duration `json:"timeout" yaml:"timeout"`
}

// SyncConfig tunes sync runs and the background scheduler of the serve command.
type SyncConfig struct {
	PageSize       int      `json:"page_size" yaml:"page_size"`
	MaxPages       int      `json:"max_pages" yaml:"max_pages"`
	PageTimeout    Duration `json:"page_timeout" yaml:"page_timeout"`
	RetryAttempts  int      `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseDelay Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	Interval       Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	JobRetention   Duration `json:"job_retention" yaml:"job_retention"`
	// StaleJobAfter is how long a RUNNING job may go unfinished before serve
	// treats it as orphaned at startup.
	StaleJobAfter Duration `json:"stale_job_after" yaml:"stale_job_after"`
}

// WindowsConfig tunes the Windows compliance evaluator.
type WindowsConfig struct {
	ParseCacheSize int `json:"parse_cache_size" yaml:"parse_cache_size"`
}

// APIConfig configures the admin HTTP surface.
type APIConfig struct {
	ListenAddr     string `json:"listen_addr" yaml:"listen_addr"`
	MaxConnections int    `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	EventStream    bool   `json:"event_stream,omitempty" yaml:"event_stream,omitempty"`
}

// EventsConfig enables publishing run events to NATS.
type EventsConfig struct {
	NATSURL       string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
}
