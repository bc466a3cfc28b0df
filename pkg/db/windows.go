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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// UpsertWindowsVersion inserts or replaces a registry row keyed by build number.
func (db *DB) UpsertWindowsVersion(ctx context.Context, version *models.WindowsVersion) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO windows_versions (major_version, feature_update, build_number, is_supported, release_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(build_number) DO UPDATE SET
			major_version = excluded.major_version,
			feature_update = excluded.feature_update,
			is_supported = excluded.is_supported,
			release_date = excluded.release_date`,
		version.MajorVersion, version.FeatureUpdate, version.BuildNumber, version.IsSupported,
		version.ReleaseDate.UTC())
	if err != nil {
		return fmt.Errorf("%w windows version: %w", ErrFailedToInsert, err)
	}

	return nil
}

// ListWindowsVersions returns the registry ordered by release date.
func (db *DB) ListWindowsVersions(ctx context.Context) ([]models.WindowsVersion, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT major_version, feature_update, build_number, is_supported, release_date
		FROM windows_versions
		ORDER BY release_date, build_number`)
	if err != nil {
		return nil, fmt.Errorf("%w windows versions: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var versions []models.WindowsVersion

	for rows.Next() {
		var v models.WindowsVersion

		if err := rows.Scan(&v.MajorVersion, &v.FeatureUpdate, &v.BuildNumber, &v.IsSupported, &v.ReleaseDate); err != nil {
			return nil, fmt.Errorf("%w windows version row: %w", ErrFailedToScan, err)
		}

		v.ReleaseDate = v.ReleaseDate.UTC()
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// CreateWindowsPolicy inserts a tenant policy.
func (db *DB) CreateWindowsPolicy(ctx context.Context, policy *models.WindowsCompliancePolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}

	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = db.now()
	}

	versions, err := encodeList(policy.AllowedVersions)
	if err != nil {
		return err
	}

	editions, err := encodeList(policy.AllowedEditions)
	if err != nil {
		return err
	}

	var maxAge sql.NullInt64
	if policy.MaxBuildAgeDays != nil {
		maxAge = sql.NullInt64{Int64: int64(*policy.MaxBuildAgeDays), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO windows_compliance_policies (
			id, tenant_id, name, priority, is_active, require_supported, require_latest_build,
			allowed_versions, allowed_editions, max_build_age_days, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		policy.ID, policy.TenantID, policy.Name, policy.Priority, policy.IsActive,
		policy.RequireSupported, policy.RequireLatestBuild, versions, editions, maxAge,
		policy.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w windows policy: %w", ErrFailedToInsert, err)
	}

	return nil
}

// ListActiveWindowsPolicies returns a tenant's active policies, lowest
// priority first and id as the tie-break.
func (db *DB) ListActiveWindowsPolicies(ctx context.Context, tenantID string) ([]models.WindowsCompliancePolicy, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, name, priority, is_active, require_supported, require_latest_build,
			allowed_versions, allowed_editions, max_build_age_days, created_at
		FROM windows_compliance_policies
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY priority, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w windows policies: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var policies []models.WindowsCompliancePolicy

	for rows.Next() {
		var (
			p                  models.WindowsCompliancePolicy
			versions, editions string
			maxAge             sql.NullInt64
		)

		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Priority, &p.IsActive, &p.RequireSupported,
			&p.RequireLatestBuild, &versions, &editions, &maxAge, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w windows policy row: %w", ErrFailedToScan, err)
		}

		if err := json.Unmarshal([]byte(versions), &p.AllowedVersions); err != nil {
			return nil, fmt.Errorf("%w allowed_versions: %w", ErrFailedToScan, err)
		}

		if err := json.Unmarshal([]byte(editions), &p.AllowedEditions); err != nil {
			return nil, fmt.Errorf("%w allowed_editions: %w", ErrFailedToScan, err)
		}

		if maxAge.Valid {
			days := int(maxAge.Int64)
			p.MaxBuildAgeDays = &days
		}

		policies = append(policies, p)
	}

	return policies, rows.Err()
}

// RecordWindowsEvaluation appends an evaluation and refreshes the endpoint's
// windows_* summary columns in the same transaction.
func (db *DB) RecordWindowsEvaluation(ctx context.Context, eval *models.WindowsComplianceEvaluation) error {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}

	if eval.EvaluatedAt.IsZero() {
		eval.EvaluatedAt = db.now()
	}

	reasons, err := encodeList(eval.FailureReasons)
	if err != nil {
		return err
	}

	var age sql.NullInt64
	if eval.BuildAgeDays != nil {
		age = sql.NullInt64{Int64: int64(*eval.BuildAgeDays), Valid: true}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { rollbackOnError(tx, err, db.logger) }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO windows_compliance_evaluations (
			id, endpoint_id, policy_id, evaluated_at, is_compliant, compliance_score,
			detected_version, detected_feature_update, detected_build, detected_edition,
			failure_reasons, build_age_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eval.ID, eval.EndpointID, eval.PolicyID, eval.EvaluatedAt.UTC(), eval.IsCompliant,
		eval.ComplianceScore, eval.DetectedVersion, eval.DetectedFeatureUpdate, eval.DetectedBuild,
		eval.DetectedEdition, reasons, age)
	if err != nil {
		return fmt.Errorf("%w windows evaluation: %w", ErrFailedToInsert, err)
	}

	var result sql.Result

	result, err = tx.ExecContext(ctx, `
		UPDATE endpoints
		SET windows_compliant = ?, windows_compliance_score = ?, windows_version = ?,
			windows_build = ?, windows_evaluated_at = ?
		WHERE id = ?`,
		eval.IsCompliant, eval.ComplianceScore, eval.DetectedVersion, eval.DetectedBuild,
		eval.EvaluatedAt.UTC(), eval.EndpointID)
	if err != nil {
		return fmt.Errorf("%w endpoint windows state: %w", ErrFailedToUpdate, err)
	}

	var n int64

	if n, err = result.RowsAffected(); err != nil {
		return fmt.Errorf("%w endpoint windows state: %w", ErrFailedToUpdate, err)
	}

	if n == 0 {
		err = fmt.Errorf("%w: endpoint %s", ErrNotFound, eval.EndpointID)

		return err
	}

	err = tx.Commit()

	return err
}

// ListWindowsEvaluations returns an endpoint's evaluation history, newest first.
func (db *DB) ListWindowsEvaluations(
	ctx context.Context, endpointID string, limit int) ([]models.WindowsComplianceEvaluation, error) {
	query := `
		SELECT id, endpoint_id, policy_id, evaluated_at, is_compliant, compliance_score,
			detected_version, detected_feature_update, detected_build, detected_edition,
			failure_reasons, build_age_days
		FROM windows_compliance_evaluations
		WHERE endpoint_id = ?
		ORDER BY evaluated_at DESC, id`
	args := []interface{}{endpointID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w windows evaluations: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var evals []models.WindowsComplianceEvaluation

	for rows.Next() {
		var (
			e       models.WindowsComplianceEvaluation
			reasons string
			age     sql.NullInt64
		)

		if err := rows.Scan(&e.ID, &e.EndpointID, &e.PolicyID, &e.EvaluatedAt, &e.IsCompliant,
			&e.ComplianceScore, &e.DetectedVersion, &e.DetectedFeatureUpdate, &e.DetectedBuild,
			&e.DetectedEdition, &reasons, &age); err != nil {
			return nil, fmt.Errorf("%w windows evaluation row: %w", ErrFailedToScan, err)
		}

		if err := json.Unmarshal([]byte(reasons), &e.FailureReasons); err != nil {
			return nil, fmt.Errorf("%w failure_reasons: %w", ErrFailedToScan, err)
		}

		if age.Valid {
			days := int(age.Int64)
			e.BuildAgeDays = &days
		}

		e.EvaluatedAt = e.EvaluatedAt.UTC()
		evals = append(evals, e)
	}

	return evals, rows.Err()
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}

	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}

	return string(b), nil
}
