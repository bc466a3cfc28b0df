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

// Package db pkg/db/db.go provides the SQLite store owned by the sync engine.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// SQL statements for database initialization.
	createTablesSQL = `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		sentinelone_site_id TEXT UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		hostname TEXT NOT NULL COLLATE NOCASE,
		sentinelone_agent_id TEXT,
		os_name TEXT,
		os_revision TEXT,
		ip_address TEXT,
		is_compliant BOOLEAN NOT NULL DEFAULT 0,
		compliance_score INTEGER NOT NULL DEFAULT 0 CHECK (compliance_score BETWEEN 0 AND 100),
		critical_vulns INTEGER NOT NULL DEFAULT 0 CHECK (critical_vulns >= 0),
		high_vulns INTEGER NOT NULL DEFAULT 0 CHECK (high_vulns >= 0),
		medium_vulns INTEGER NOT NULL DEFAULT 0 CHECK (medium_vulns >= 0),
		low_vulns INTEGER NOT NULL DEFAULT 0 CHECK (low_vulns >= 0),
		last_seen TIMESTAMP,
		windows_compliant BOOLEAN,
		windows_compliance_score INTEGER,
		windows_version TEXT,
		windows_build TEXT,
		windows_evaluated_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, hostname),
		FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS vulnerabilities (
		id TEXT PRIMARY KEY,
		cve_id TEXT NOT NULL UNIQUE,
		severity TEXT NOT NULL,
		cvss_score REAL,
		description TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS endpoint_vulnerabilities (
		endpoint_id TEXT NOT NULL,
		vulnerability_id TEXT NOT NULL,
		status TEXT NOT NULL,
		detected_by TEXT NOT NULL,
		application_name TEXT NOT NULL DEFAULT '',
		application_version TEXT NOT NULL DEFAULT '',
		first_seen_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		PRIMARY KEY (endpoint_id, vulnerability_id),
		FOREIGN KEY (endpoint_id) REFERENCES endpoints(id) ON DELETE CASCADE,
		FOREIGN KEY (vulnerability_id) REFERENCES vulnerabilities(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		sync_type TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		records_processed INTEGER NOT NULL DEFAULT 0,
		records_created INTEGER NOT NULL DEFAULT 0,
		records_updated INTEGER NOT NULL DEFAULT 0,
		records_failed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS windows_versions (
		major_version TEXT NOT NULL,
		feature_update TEXT NOT NULL,
		build_number TEXT NOT NULL PRIMARY KEY,
		is_supported BOOLEAN NOT NULL DEFAULT 0,
		release_date TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS windows_compliance_policies (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 100,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		require_supported BOOLEAN NOT NULL DEFAULT 0,
		require_latest_build BOOLEAN NOT NULL DEFAULT 0,
		allowed_versions TEXT NOT NULL DEFAULT '[]',
		allowed_editions TEXT NOT NULL DEFAULT '[]',
		max_build_age_days INTEGER,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS windows_compliance_evaluations (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		evaluated_at TIMESTAMP NOT NULL,
		is_compliant BOOLEAN NOT NULL,
		compliance_score INTEGER NOT NULL,
		detected_version TEXT NOT NULL,
		detected_feature_update TEXT NOT NULL,
		detected_build TEXT NOT NULL,
		detected_edition TEXT NOT NULL,
		failure_reasons TEXT NOT NULL DEFAULT '[]',
		build_age_days INTEGER,
		FOREIGN KEY (endpoint_id) REFERENCES endpoints(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sync_jobs_tenant_started
		ON sync_jobs(tenant_id, source, started_at);
	CREATE INDEX IF NOT EXISTS idx_sync_jobs_status
		ON sync_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_endpoint_vulns_status
		ON endpoint_vulnerabilities(status, detected_by);
	CREATE INDEX IF NOT EXISTS idx_win_policies_tenant
		ON windows_compliance_policies(tenant_id, is_active, priority);
	CREATE INDEX IF NOT EXISTS idx_win_evals_endpoint_time
		ON windows_compliance_evaluations(endpoint_id, evaluated_at);
	`
)

// DB represents the database connection and operations.
type DB struct {
	*sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// New opens (or creates) the SQLite database at dbPath and initializes the schema.
func New(ctx context.Context, dbPath string, logger zerolog.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	db := &DB{
		DB:     sqlDB,
		logger: logger.With().Str("component", "db").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := db.initSchema(ctx); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return db, nil
}

// dsn builds the go-sqlite3 connection string. Writes take the lock up front
// (_txlock=immediate) so read-then-write upserts from concurrent runs wait on
// the busy timeout instead of failing on lock upgrade.
func dsn(dbPath string) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(defaultBusyTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")

	if dbPath != ":memory:" {
		params.Set("_journal_mode", "WAL")
	}

	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}

	return "file:" + dbPath + sep + params.Encode()
}

// initSchema creates the database tables if they don't exist.
func (db *DB) initSchema(ctx context.Context) error {
	_, err := db.ExecContext(ctx, createTablesSQL)

	return err
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

func rollbackOnError(tx *sql.Tx, err error, logger zerolog.Logger) {
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logger.Error().Err(rbErr).Msg("Error rolling back transaction")
		}
	}
}

func closeRows(rows *sql.Rows, logger zerolog.Logger) {
	if err := rows.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close rows")
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}

	s := ns.String

	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}

	t := nt.Time.UTC()

	return &t
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}

	return args
}
