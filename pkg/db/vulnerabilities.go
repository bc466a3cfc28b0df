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
	"time"

	"github.com/google/uuid"
	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// UpsertVulnerability inserts or refreshes a catalog entry keyed by CVE id.
func (db *DB) UpsertVulnerability(ctx context.Context, vuln *models.Vulnerability) (string, models.UpsertOutcome, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", models.OutcomeUnchanged, fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { rollbackOnError(tx, err, db.logger) }()

	var (
		id          string
		severity    string
		score       sql.NullFloat64
		description string
		published   sql.NullTime
	)

	err = tx.QueryRowContext(ctx, `
		SELECT id, severity, cvss_score, description, published_at
		FROM vulnerabilities WHERE cve_id = ?`, vuln.CVEID).
		Scan(&id, &severity, &score, &description, &published)

	now := db.now()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO vulnerabilities (id, cve_id, severity, cvss_score, description, published_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, vuln.CVEID, vuln.Severity, floatArg(vuln.CVSSScore), vuln.Description,
			nullTime(vuln.PublishedAt), now, now)
		if err != nil {
			return "", models.OutcomeUnchanged, fmt.Errorf("%w vulnerability: %w", ErrFailedToInsert, err)
		}

		if err = tx.Commit(); err != nil {
			return "", models.OutcomeUnchanged, err
		}

		vuln.ID = id

		return id, models.OutcomeCreated, nil
	case err != nil:
		return "", models.OutcomeUnchanged, fmt.Errorf("%w vulnerability: %w", ErrFailedToQuery, err)
	}

	vuln.ID = id

	if severity == string(vuln.Severity) &&
		sameScore(score, vuln.CVSSScore) &&
		description == vuln.Description &&
		sameInstant(timePtr(published), vuln.PublishedAt) {
		err = tx.Commit()

		return id, models.OutcomeUnchanged, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE vulnerabilities
		SET severity = ?, cvss_score = ?, description = ?, published_at = ?, updated_at = ?
		WHERE id = ?`,
		vuln.Severity, floatArg(vuln.CVSSScore), vuln.Description, nullTime(vuln.PublishedAt), now, id)
	if err != nil {
		return "", models.OutcomeUnchanged, fmt.Errorf("%w vulnerability: %w", ErrFailedToUpdate, err)
	}

	if err = tx.Commit(); err != nil {
		return "", models.OutcomeUnchanged, err
	}

	return id, models.OutcomeUpdated, nil
}

// UpsertEndpointVulnerability records an endpoint's exposure to a CVE. A link
// that was RESOLVED and shows up again is reopened; an IGNORED link keeps its
// status. Only a status change counts as an update.
//
// Upstream reports one row per affected application, so one run may upsert
// the same link several times. The application columns are taken from the
// first sighting of a run and kept for the rest of it. last_seen_at never
// moves backwards, so an older overlapping run cannot make a link look stale.
func (db *DB) UpsertEndpointVulnerability(
	ctx context.Context, link *models.EndpointVulnerability) (models.UpsertOutcome, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return models.OutcomeUnchanged, fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { rollbackOnError(tx, err, db.logger) }()

	var (
		status, appName, appVersion string
		lastSeen                    time.Time
	)

	err = tx.QueryRowContext(ctx, `
		SELECT status, application_name, application_version, last_seen_at
		FROM endpoint_vulnerabilities
		WHERE endpoint_id = ? AND vulnerability_id = ?`,
		link.EndpointID, link.VulnerabilityID).Scan(&status, &appName, &appVersion, &lastSeen)

	seen := link.LastSeenAt.UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO endpoint_vulnerabilities (
				endpoint_id, vulnerability_id, status, detected_by, application_name,
				application_version, first_seen_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			link.EndpointID, link.VulnerabilityID, link.Status, link.DetectedBy,
			link.ApplicationName, link.ApplicationVersion, seen, seen)
		if err != nil {
			return models.OutcomeUnchanged, fmt.Errorf("%w endpoint vulnerability: %w", ErrFailedToInsert, err)
		}

		err = tx.Commit()

		return models.OutcomeCreated, err
	case err != nil:
		return models.OutcomeUnchanged, fmt.Errorf("%w endpoint vulnerability: %w", ErrFailedToQuery, err)
	}

	if status == string(models.VulnIgnored) {
		link.Status = models.VulnIgnored
	}

	outcome := models.OutcomeUnchanged
	if status != string(link.Status) {
		outcome = models.OutcomeUpdated
	}

	// Later rows of the same run, or rows of an older run, keep the stored
	// application.
	if !lastSeen.Before(seen) {
		link.ApplicationName, link.ApplicationVersion = appName, appVersion
	}

	if lastSeen.After(seen) {
		seen = lastSeen.UTC()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE endpoint_vulnerabilities
		SET status = ?, detected_by = ?, application_name = ?, application_version = ?,
			last_seen_at = ?, resolved_at = NULL
		WHERE endpoint_id = ? AND vulnerability_id = ?`,
		link.Status, link.DetectedBy, link.ApplicationName, link.ApplicationVersion, seen,
		link.EndpointID, link.VulnerabilityID)
	if err != nil {
		return models.OutcomeUnchanged, fmt.Errorf("%w endpoint vulnerability: %w", ErrFailedToUpdate, err)
	}

	err = tx.Commit()

	return outcome, err
}

// ResolveStaleEndpointVulnerabilities marks OPEN links from source whose
// last sighting predates seenBefore as RESOLVED, limited to the given tenants.
func (db *DB) ResolveStaleEndpointVulnerabilities(
	ctx context.Context, tenantIDs []string, source models.SyncSource, seenBefore time.Time) (int64, error) {
	if len(tenantIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE endpoint_vulnerabilities
		SET status = ?, resolved_at = ?
		WHERE status = ? AND detected_by = ? AND last_seen_at < ?
		AND endpoint_id IN (
			SELECT id FROM endpoints WHERE tenant_id IN (` + placeholders(len(tenantIDs)) + `)
		)`

	args := []interface{}{models.VulnResolved, db.now(), models.VulnOpen, source, seenBefore.UTC()}
	args = append(args, stringArgs(tenantIDs)...)

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w stale endpoint vulnerabilities: %w", ErrFailedToUpdate, err)
	}

	return result.RowsAffected()
}

// ListEndpointVulnerabilities returns every link for an endpoint.
func (db *DB) ListEndpointVulnerabilities(ctx context.Context, endpointID string) ([]models.EndpointVulnerability, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT endpoint_id, vulnerability_id, status, detected_by, application_name,
			application_version, first_seen_at, last_seen_at, resolved_at
		FROM endpoint_vulnerabilities
		WHERE endpoint_id = ?
		ORDER BY first_seen_at`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("%w endpoint vulnerabilities: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var links []models.EndpointVulnerability

	for rows.Next() {
		var (
			link     models.EndpointVulnerability
			resolved sql.NullTime
		)

		if err := rows.Scan(&link.EndpointID, &link.VulnerabilityID, &link.Status, &link.DetectedBy,
			&link.ApplicationName, &link.ApplicationVersion, &link.FirstSeenAt, &link.LastSeenAt, &resolved); err != nil {
			return nil, fmt.Errorf("%w endpoint vulnerability row: %w", ErrFailedToScan, err)
		}

		link.ResolvedAt = timePtr(resolved)
		links = append(links, link)
	}

	return links, rows.Err()
}

func floatArg(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *f, Valid: true}
}

func sameScore(stored sql.NullFloat64, incoming *float64) bool {
	if !stored.Valid || incoming == nil {
		return !stored.Valid && incoming == nil
	}

	return stored.Float64 == *incoming
}
