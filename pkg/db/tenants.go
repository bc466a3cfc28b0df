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

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mfreeman451/telemetrysync/pkg/models"
)

const selectTenantSQL = `
	SELECT id, slug, name, sentinelone_site_id, created_at, updated_at
	FROM tenants
`

// CreateTenant inserts a tenant. A duplicate slug or site id yields ErrConflict.
func (db *DB) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}

	now := db.now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	var siteID sql.NullString
	if tenant.SentinelOneSiteID != nil {
		siteID = nullString(*tenant.SentinelOneSiteID)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, name, sentinelone_site_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tenant.ID, tenant.Slug, tenant.Name, siteID, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %q: %w", ErrConflict, tenant.Slug, err)
		}

		return fmt.Errorf("%w tenant: %w", ErrFailedToInsert, err)
	}

	return nil
}

// GetTenantBySlug returns the tenant with the given slug or ErrNotFound.
func (db *DB) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	row := db.QueryRowContext(ctx, selectTenantSQL+" WHERE slug = ?", slug)

	tenant, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tenant %q", ErrNotFound, slug)
	}

	if err != nil {
		return nil, fmt.Errorf("%w tenant: %w", ErrFailedToQuery, err)
	}

	return tenant, nil
}

// ListTenants returns every tenant ordered by slug.
func (db *DB) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	return db.queryTenants(ctx, selectTenantSQL+" ORDER BY slug")
}

// ListMappedTenants returns tenants that carry an upstream site id.
func (db *DB) ListMappedTenants(ctx context.Context) ([]models.Tenant, error) {
	return db.queryTenants(ctx, selectTenantSQL+
		" WHERE sentinelone_site_id IS NOT NULL AND sentinelone_site_id != '' ORDER BY slug")
}

// TenantSlugExists reports whether a slug is taken.
func (db *DB) TenantSlugExists(ctx context.Context, slug string) (bool, error) {
	var count int

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tenants WHERE slug = ?", slug).Scan(&count); err != nil {
		return false, fmt.Errorf("%w tenant slug: %w", ErrFailedToQuery, err)
	}

	return count > 0, nil
}

func (db *DB) queryTenants(ctx context.Context, query string, args ...interface{}) ([]models.Tenant, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w tenants: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var tenants []models.Tenant

	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("%w tenant row: %w", ErrFailedToScan, err)
		}

		tenants = append(tenants, *tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w tenants: %w", ErrFailedToQuery, err)
	}

	return tenants, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row scanner) (*models.Tenant, error) {
	var (
		tenant models.Tenant
		siteID sql.NullString
	)

	if err := row.Scan(&tenant.ID, &tenant.Slug, &tenant.Name, &siteID, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
		return nil, err
	}

	tenant.SentinelOneSiteID = stringPtr(siteID)

	return &tenant, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}
