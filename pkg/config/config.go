/*-
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config pkg/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/logger"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig   = errors.New("invalid configuration")
	errInvalidDuration = fmt.Errorf("invalid duration")
)

const (
	EnvAPIToken   = "SENTINELONE_API_TOKEN"
	EnvBaseURL    = "SENTINELONE_BASE_URL"
	EnvDBPath     = "TELEMETRYSYNC_DB_PATH"
	EnvListenAddr = "TELEMETRYSYNC_LISTEN_ADDR"
	EnvNATSURL    = "TELEMETRYSYNC_NATS_URL"
)

const (
	defaultDBPath         = "telemetrysync.db"
	defaultListenAddr     = ":8090"
	defaultMaxPages       = 10000
	defaultPageTimeout    = 60 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultJobRetention   = 30 * 24 * time.Hour
	defaultStaleJobAfter  = 24 * time.Hour
	defaultParseCacheSize = 1024
	defaultRunRetention   = 100
	defaultSubjectPrefix  = "telemetrysync"
)

// LoadFile is a generic helper that loads a configuration file from path into
// the struct pointed to by dst. Files ending in .yaml or .yml are decoded as
// YAML; anything else is treated as JSON and may carry comments.
func LoadFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), dst); err != nil {
			return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
		}
	}

	return nil
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	if v, ok := cfg.(Validator); ok {
		return v.Validate()
	}

	return nil
}

// LoadAndValidate loads a configuration file and validates it if possible.
func LoadAndValidate(path string, cfg interface{}) error {
	if err := LoadFile(path, cfg); err != nil {
		return err
	}

	return ValidateConfig(cfg)
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: defaultDBPath},
		Sync: SyncConfig{
			MaxPages:       defaultMaxPages,
			PageTimeout:    Duration(defaultPageTimeout),
			RetryAttempts:  defaultRetryAttempts,
			RetryBaseDelay: Duration(defaultRetryBaseDelay),
			RetryMaxDelay:  Duration(defaultRetryMaxDelay),
			JobRetention:   Duration(defaultJobRetention),
			StaleJobAfter:  Duration(defaultStaleJobAfter),
		},
		Windows: WindowsConfig{ParseCacheSize: defaultParseCacheSize},
		API:     APIConfig{ListenAddr: defaultListenAddr},
		Logging: logger.Config{Level: "info", Format: logger.FormatJSON},
		Metrics: models.MetricsConfig{Enabled: true, Retention: defaultRunRetention},
		Events:  EventsConfig{SubjectPrefix: defaultSubjectPrefix},
	}
}

// Load builds the effective configuration: defaults, then the file at path
// (when non-empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvAPIToken, &c.SentinelOne.APIToken},
		{EnvBaseURL, &c.SentinelOne.BaseURL},
		{EnvDBPath, &c.Database.Path},
		{EnvListenAddr, &c.API.ListenAddr},
		{EnvNATSURL, &c.Events.NATSURL},
	}

	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks settings every command depends on. Console credentials are
// checked separately by RequireSentinelOne because local-only commands do not
// need them.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}

	if c.Sync.PageSize < 0 {
		return fmt.Errorf("%w: sync.page_size must not be negative", ErrInvalidConfig)
	}

	if c.API.MaxConnections < 0 {
		return fmt.Errorf("%w: api.max_connections must not be negative", ErrInvalidConfig)
	}

	if c.Sync.MaxPages < 0 || c.Sync.RetryAttempts < 0 {
		return fmt.Errorf("%w: sync.max_pages and sync.retry_attempts must not be negative", ErrInvalidConfig)
	}

	durations := map[string]Duration{
		"sync.page_timeout":     c.Sync.PageTimeout,
		"sync.retry_base_delay": c.Sync.RetryBaseDelay,
		"sync.retry_max_delay":  c.Sync.RetryMaxDelay,
		"sync.interval":         c.Sync.Interval,
		"sync.job_retention":    c.Sync.JobRetention,
		"sync.stale_job_after":  c.Sync.StaleJobAfter,
		"sentinelone.timeout":   c.SentinelOne.Timeout,
	}

	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}

	if c.SentinelOne.BaseURL != "" {
		if err := validateBaseURL(c.SentinelOne.BaseURL); err != nil {
			return err
		}
	}

	for i, hook := range c.Webhooks {
		if hook.Enabled && hook.URL == "" {
			return fmt.Errorf("%w: webhooks[%d].url is required when enabled", ErrInvalidConfig, i)
		}
	}

	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		return fmt.Errorf("%w: events.subject_prefix is required with events.nats_url", ErrInvalidConfig)
	}

	return nil
}

// RequireSentinelOne reports whether the console URL and token are present.
func (c *Config) RequireSentinelOne() error {
	if c.SentinelOne.BaseURL == "" {
		return fmt.Errorf("%w: sentinelone.base_url is required (or set %s)", ErrInvalidConfig, EnvBaseURL)
	}

	if c.SentinelOne.APIToken == "" {
		return fmt.Errorf("%w: sentinelone API token is required (set %s)", ErrInvalidConfig, EnvAPIToken)
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: sentinelone.base_url: %w", ErrInvalidConfig, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: sentinelone.base_url must be an absolute http(s) URL", ErrInvalidConfig)
	}

	return nil
}
