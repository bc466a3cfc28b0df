// Package models pkg/models/metrics.go
package models

import "time"

// RunPoint is the in-memory record of one finished sync run.
type RunPoint struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      SyncType      `json:"type"`
	Status    JobStatus     `json:"status"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

// MetricsConfig controls run metrics collection.
type MetricsConfig struct {
	Enabled   bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	Retention int  `json:"metrics_retention" yaml:"metrics_retention"`
}
