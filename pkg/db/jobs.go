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

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mfreeman451/telemetrysync/pkg/models"
)

const selectSyncJobSQL = `
	SELECT id, tenant_id, source, sync_type, status, started_at, completed_at,
		records_processed, records_created, records_updated, records_failed, error_message
	FROM sync_jobs
`

// CreateSyncJob inserts a RUNNING job. StartedAt defaults to now.
func (db *DB) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	if job.StartedAt.IsZero() {
		job.StartedAt = db.now()
	}

	job.Status = models.JobRunning

	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, tenant_id, source, sync_type, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.Source, job.Type, job.Status, job.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w sync job: %w", ErrFailedToInsert, err)
	}

	return nil
}

// CompleteSyncJob moves a RUNNING job to COMPLETED with its final counters.
func (db *DB) CompleteSyncJob(ctx context.Context, id string, counters models.JobCounters, completedAt time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = ?, completed_at = ?, records_processed = ?, records_created = ?,
			records_updated = ?, records_failed = ?
		WHERE id = ? AND status = ?`,
		models.JobCompleted, completedAt.UTC(), counters.Processed, counters.Created,
		counters.Updated, counters.Failed, id, models.JobRunning)
	if err != nil {
		return fmt.Errorf("%w sync job: %w", ErrFailedToUpdate, err)
	}

	return requireOneRow(result, id)
}

// FailSyncJob moves a RUNNING job to FAILED with an error message.
func (db *DB) FailSyncJob(ctx context.Context, id, message string, completedAt time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status = ?`,
		models.JobFailed, completedAt.UTC(), message, id, models.JobRunning)
	if err != nil {
		return fmt.Errorf("%w sync job: %w", ErrFailedToUpdate, err)
	}

	return requireOneRow(result, id)
}

func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w sync job: %w", ErrFailedToUpdate, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotRunning, id)
	}

	return nil
}

// GetSyncJob returns one job or ErrNotFound.
func (db *DB) GetSyncJob(ctx context.Context, id string) (*models.SyncJob, error) {
	job, err := scanSyncJob(db.QueryRowContext(ctx, selectSyncJobSQL+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sync job %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w sync job: %w", ErrFailedToQuery, err)
	}

	return job, nil
}

// ListSyncJobs returns jobs matching filter, newest first.
func (db *DB) ListSyncJobs(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}

	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}

	if filter.Type != "" {
		conditions = append(conditions, "sync_type = ?")
		args = append(args, filter.Type)
	}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := selectSyncJobSQL
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY started_at DESC, id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w sync jobs: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var jobs []models.SyncJob

	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w sync job row: %w", ErrFailedToScan, err)
		}

		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w sync jobs: %w", ErrFailedToQuery, err)
	}

	return jobs, nil
}

// FailRunningSyncJobs marks RUNNING jobs that started before startedBefore
// as FAILED. A zero startedBefore selects every RUNNING job.
func (db *DB) FailRunningSyncJobs(
	ctx context.Context, message string, startedBefore, completedAt time.Time) (int64, error) {
	query := "UPDATE sync_jobs SET status = ?, completed_at = ?, error_message = ? WHERE status = ?"
	args := []interface{}{models.JobFailed, completedAt.UTC(), message, models.JobRunning}

	if !startedBefore.IsZero() {
		query += " AND started_at < ?"
		args = append(args, startedBefore.UTC())
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w sync jobs: %w", ErrFailedToUpdate, err)
	}

	return result.RowsAffected()
}

// PruneSyncJobs deletes terminal jobs that started before olderThan.
func (db *DB) PruneSyncJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		"DELETE FROM sync_jobs WHERE status != ? AND started_at < ?",
		models.JobRunning, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w sync jobs: %w", ErrFailedToClean, err)
	}

	return result.RowsAffected()
}

func scanSyncJob(row scanner) (*models.SyncJob, error) {
	var (
		job       models.SyncJob
		completed sql.NullTime
		message   sql.NullString
	)

	err := row.Scan(&job.ID, &job.TenantID, &job.Source, &job.Type, &job.Status, &job.StartedAt, &completed,
		&job.RecordsProcessed, &job.RecordsCreated, &job.RecordsUpdated, &job.RecordsFailed, &message)
	if err != nil {
		return nil, err
	}

	job.StartedAt = job.StartedAt.UTC()
	job.CompletedAt = timePtr(completed)
	job.ErrorMessage = stringPtr(message)

	return &job, nil
}
