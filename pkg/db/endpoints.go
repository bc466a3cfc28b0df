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

const selectEndpointSQL = `
	SELECT id, tenant_id, hostname, sentinelone_agent_id, os_name, os_revision, ip_address,
		is_compliant, compliance_score, critical_vulns, high_vulns, medium_vulns, low_vulns,
		last_seen, windows_compliant, windows_compliance_score, windows_version, windows_build,
		windows_evaluated_at, created_at, updated_at
	FROM endpoints
`

// UpsertEndpoint writes the derived endpoint state keyed by (tenant_id, hostname).
// The existing row is read inside the same transaction so the caller learns
// whether the write created, changed, or left the row as it was.
func (db *DB) UpsertEndpoint(ctx context.Context, state *models.EndpointState) (string, models.UpsertOutcome, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", models.OutcomeUnchanged, fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { rollbackOnError(tx, err, db.logger) }()

	var existing *models.Endpoint

	existing, err = scanEndpoint(tx.QueryRowContext(ctx,
		selectEndpointSQL+" WHERE tenant_id = ? AND hostname = ?", state.TenantID, state.Hostname))

	switch {
	case errors.Is(err, sql.ErrNoRows):
		var id string

		id, err = db.insertEndpoint(ctx, tx, state)
		if err != nil {
			return "", models.OutcomeUnchanged, err
		}

		if err = tx.Commit(); err != nil {
			return "", models.OutcomeUnchanged, fmt.Errorf("commit endpoint insert: %w", err)
		}

		return id, models.OutcomeCreated, nil
	case err != nil:
		return "", models.OutcomeUnchanged, fmt.Errorf("%w endpoint: %w", ErrFailedToQuery, err)
	}

	if endpointMatches(existing, state) {
		err = tx.Commit()

		return existing.ID, models.OutcomeUnchanged, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE endpoints
		SET sentinelone_agent_id = ?,
			os_name = ?,
			os_revision = ?,
			ip_address = ?,
			is_compliant = ?,
			compliance_score = ?,
			last_seen = ?,
			updated_at = ?
		WHERE id = ?`,
		nullString(state.SentinelOneAgentID),
		nullString(state.OSName),
		nullString(state.OSRevision),
		nullString(state.IPAddress),
		state.IsCompliant,
		state.ComplianceScore,
		nullTime(state.LastSeen),
		db.now(),
		existing.ID,
	)
	if err != nil {
		return "", models.OutcomeUnchanged, fmt.Errorf("%w endpoint: %w", ErrFailedToUpdate, err)
	}

	if err = tx.Commit(); err != nil {
		return "", models.OutcomeUnchanged, fmt.Errorf("commit endpoint update: %w", err)
	}

	return existing.ID, models.OutcomeUpdated, nil
}

func (db *DB) insertEndpoint(ctx context.Context, tx *sql.Tx, state *models.EndpointState) (string, error) {
	id := uuid.NewString()
	now := db.now()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO endpoints (
			id, tenant_id, hostname, sentinelone_agent_id, os_name, os_revision, ip_address,
			is_compliant, compliance_score, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		state.TenantID,
		state.Hostname,
		nullString(state.SentinelOneAgentID),
		nullString(state.OSName),
		nullString(state.OSRevision),
		nullString(state.IPAddress),
		state.IsCompliant,
		state.ComplianceScore,
		nullTime(state.LastSeen),
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("%w endpoint: %w", ErrFailedToInsert, err)
	}

	return id, nil
}

func endpointMatches(existing *models.Endpoint, state *models.EndpointState) bool {
	return deref(existing.SentinelOneAgentID) == state.SentinelOneAgentID &&
		deref(existing.OSName) == state.OSName &&
		deref(existing.OSRevision) == state.OSRevision &&
		deref(existing.IPAddress) == state.IPAddress &&
		existing.IsCompliant == state.IsCompliant &&
		existing.ComplianceScore == state.ComplianceScore &&
		sameInstant(existing.LastSeen, state.LastSeen)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// GetEndpointByHostname looks an endpoint up by its natural key.
func (db *DB) GetEndpointByHostname(ctx context.Context, tenantID, hostname string) (*models.Endpoint, error) {
	endpoint, err := scanEndpoint(db.QueryRowContext(ctx,
		selectEndpointSQL+" WHERE tenant_id = ? AND hostname = ?", tenantID, hostname))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: endpoint %q", ErrNotFound, hostname)
	}

	if err != nil {
		return nil, fmt.Errorf("%w endpoint: %w", ErrFailedToQuery, err)
	}

	return endpoint, nil
}

// ListEndpoints returns a tenant's endpoints, optionally restricted to ids.
func (db *DB) ListEndpoints(ctx context.Context, tenantID string, ids []string) ([]models.Endpoint, error) {
	query := selectEndpointSQL + " WHERE tenant_id = ?"
	args := []interface{}{tenantID}

	if len(ids) > 0 {
		query += " AND id IN (" + placeholders(len(ids)) + ")"
		args = append(args, stringArgs(ids)...)
	}

	query += " ORDER BY hostname"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w endpoints: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var endpoints []models.Endpoint

	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("%w endpoint row: %w", ErrFailedToScan, err)
		}

		endpoints = append(endpoints, *endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w endpoints: %w", ErrFailedToQuery, err)
	}

	return endpoints, nil
}

// RecountEndpointVulnerabilities recomputes the per-severity counters of every
// endpoint in the given tenants from their OPEN vulnerability links.
func (db *DB) RecountEndpointVulnerabilities(ctx context.Context, tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		return nil
	}

	const countSQL = `(
		SELECT COUNT(*) FROM endpoint_vulnerabilities ev
		JOIN vulnerabilities v ON v.id = ev.vulnerability_id
		WHERE ev.endpoint_id = endpoints.id AND ev.status = 'OPEN' AND v.severity = ?
	)`

	query := `
		UPDATE endpoints
		SET critical_vulns = ` + countSQL + `,
			high_vulns = ` + countSQL + `,
			medium_vulns = ` + countSQL + `,
			low_vulns = ` + countSQL + `
		WHERE tenant_id IN (` + placeholders(len(tenantIDs)) + `)`

	args := []interface{}{
		models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow,
	}
	args = append(args, stringArgs(tenantIDs)...)

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w endpoint vulnerability counts: %w", ErrFailedToUpdate, err)
	}

	return nil
}

func scanEndpoint(row scanner) (*models.Endpoint, error) {
	var (
		e                           models.Endpoint
		agentID, osName, osRevision sql.NullString
		ip, winVersion, winBuild    sql.NullString
		lastSeen, winEvaluatedAt    sql.NullTime
		winCompliant                sql.NullBool
		winScore                    sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &e.TenantID, &e.Hostname, &agentID, &osName, &osRevision, &ip,
		&e.IsCompliant, &e.ComplianceScore, &e.CriticalVulns, &e.HighVulns, &e.MediumVulns, &e.LowVulns,
		&lastSeen, &winCompliant, &winScore, &winVersion, &winBuild,
		&winEvaluatedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.SentinelOneAgentID = stringPtr(agentID)
	e.OSName = stringPtr(osName)
	e.OSRevision = stringPtr(osRevision)
	e.IPAddress = stringPtr(ip)
	e.LastSeen = timePtr(lastSeen)
	e.WindowsVersion = stringPtr(winVersion)
	e.WindowsBuild = stringPtr(winBuild)
	e.WindowsEvaluatedAt = timePtr(winEvaluatedAt)

	if winCompliant.Valid {
		v := winCompliant.Bool
		e.WindowsCompliant = &v
	}

	if winScore.Valid {
		v := int(winScore.Int64)
		e.WindowsScore = &v
	}

	return &e, nil
}
