/*
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

// Package ledger records the audit trail of sync runs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/db"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/rs/zerolog"
)

const defaultRecentLimit = 20

var (
	// ErrJobTerminal is returned when a job already reached COMPLETED or FAILED.
	ErrJobTerminal = errors.New("sync job already terminal")
	ErrJobNotFound = errors.New("sync job not found")
)

// Store is the slice of the database the ledger needs.
type Store interface {
	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	CompleteSyncJob(ctx context.Context, id string, counters models.JobCounters, completedAt time.Time) error
	FailSyncJob(ctx context.Context, id, message string, completedAt time.Time) error
	GetSyncJob(ctx context.Context, id string) (*models.SyncJob, error)
	ListSyncJobs(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error)
	FailRunningSyncJobs(ctx context.Context, message string, startedBefore, completedAt time.Time) (int64, error)
	PruneSyncJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

// Ledger creates jobs and moves them to exactly one terminal state. It
// remembers the jobs it opened until they reach a terminal state, so a
// process can close out its own work without touching jobs of other
// processes sharing the database.
type Ledger struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	open map[string]struct{}
}

// New returns a Ledger backed by store.
func New(store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With().Str("component", "ledger").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		open:   make(map[string]struct{}),
	}
}

// Create opens a RUNNING job and returns its id.
func (l *Ledger) Create(ctx context.Context, tenantID string, source models.SyncSource, syncType models.SyncType) (string, error) {
	job := &models.SyncJob{
		TenantID:  tenantID,
		Source:    source,
		Type:      syncType,
		StartedAt: l.now(),
	}

	if err := l.store.CreateSyncJob(ctx, job); err != nil {
		return "", fmt.Errorf("create sync job: %w", err)
	}

	l.mu.Lock()
	l.open[job.ID] = struct{}{}
	l.mu.Unlock()

	l.logger.Debug().Str("job_id", job.ID).Str("tenant_id", tenantID).Str("type", string(syncType)).Msg("Sync job started")

	return job.ID, nil
}

// MarkCompleted closes a RUNNING job with its counters.
func (l *Ledger) MarkCompleted(ctx context.Context, jobID string, counters models.JobCounters) error {
	err := l.store.CompleteSyncJob(ctx, jobID, counters, l.now())

	return l.terminal(ctx, jobID, err)
}

// MarkFailed closes a RUNNING job with an error message.
func (l *Ledger) MarkFailed(ctx context.Context, jobID, message string) error {
	err := l.store.FailSyncJob(ctx, jobID, message, l.now())

	return l.terminal(ctx, jobID, err)
}

func (l *Ledger) terminal(ctx context.Context, jobID string, err error) error {
	l.mu.Lock()
	delete(l.open, jobID)
	l.mu.Unlock()

	if err == nil {
		return nil
	}

	if !errors.Is(err, db.ErrJobNotRunning) {
		return fmt.Errorf("update sync job %s: %w", jobID, err)
	}

	if _, getErr := l.store.GetSyncJob(ctx, jobID); errors.Is(getErr, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return fmt.Errorf("%w: %s", ErrJobTerminal, jobID)
}

// Get returns one job.
func (l *Ledger) Get(ctx context.Context, jobID string) (*models.SyncJob, error) {
	job, err := l.store.GetSyncJob(ctx, jobID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return job, err
}

// Recent lists jobs newest first. A zero limit selects a default of 20.
func (l *Ledger) Recent(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultRecentLimit
	}

	return l.store.ListSyncJobs(ctx, filter)
}

// HasRunning reports whether a RUNNING job exists for the tenant, source and type.
func (l *Ledger) HasRunning(ctx context.Context, tenantID string, source models.SyncSource, syncType models.SyncType) (bool, error) {
	jobs, err := l.store.ListSyncJobs(ctx, models.JobFilter{
		TenantID: tenantID,
		Source:   source,
		Type:     syncType,
		Status:   models.JobRunning,
		Limit:    1,
	})
	if err != nil {
		return false, err
	}

	return len(jobs) > 0, nil
}

// FailOpen marks the jobs this Ledger created and has not closed yet as
// FAILED. The shutdown path uses it; jobs of other processes are untouched.
func (l *Ledger) FailOpen(ctx context.Context, message string) (int64, error) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.open))
	for id := range l.open {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	var (
		n    int64
		errs []error
	)

	for _, id := range ids {
		err := l.MarkFailed(ctx, id, message)

		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrJobTerminal), errors.Is(err, ErrJobNotFound):
		default:
			errs = append(errs, err)
		}
	}

	if n > 0 {
		l.logger.Warn().Int64("jobs", n).Str("reason", message).Msg("Marked unfinished sync jobs as failed")
	}

	return n, errors.Join(errs...)
}

// FailStale marks RUNNING jobs that started more than olderThan ago as
// FAILED, closing out jobs whose process died. A non-positive olderThan
// selects every RUNNING job.
func (l *Ledger) FailStale(ctx context.Context, message string, olderThan time.Duration) (int64, error) {
	now := l.now()

	var cutoff time.Time
	if olderThan > 0 {
		cutoff = now.Add(-olderThan)
	}

	n, err := l.store.FailRunningSyncJobs(ctx, message, cutoff, now)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		l.logger.Warn().Int64("jobs", n).Str("reason", message).Msg("Marked orphaned sync jobs as failed")
	}

	return n, nil
}

// Prune removes terminal jobs older than retention.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return l.store.PruneSyncJobs(ctx, l.now().Add(-retention))
}
