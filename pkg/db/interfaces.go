// Package db pkg/db/interfaces.go
package db

import (
	"context"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// Service represents all database operations used by the sync engine.
type Service interface {
	Close() error

	// Tenant operations.

	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	ListMappedTenants(ctx context.Context) ([]models.Tenant, error)
	TenantSlugExists(ctx context.Context, slug string) (bool, error)

	// Endpoint operations.

	UpsertEndpoint(ctx context.Context, state *models.EndpointState) (string, models.UpsertOutcome, error)
	GetEndpointByHostname(ctx context.Context, tenantID, hostname string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context, tenantID string, ids []string) ([]models.Endpoint, error)
	RecountEndpointVulnerabilities(ctx context.Context, tenantIDs []string) error

	// Vulnerability operations.

	UpsertVulnerability(ctx context.Context, vuln *models.Vulnerability) (string, models.UpsertOutcome, error)
	UpsertEndpointVulnerability(ctx context.Context, link *models.EndpointVulnerability) (models.UpsertOutcome, error)
	ResolveStaleEndpointVulnerabilities(
		ctx context.Context, tenantIDs []string, source models.SyncSource, seenBefore time.Time) (int64, error)
	ListEndpointVulnerabilities(ctx context.Context, endpointID string) ([]models.EndpointVulnerability, error)

	// Sync job operations.

	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	CompleteSyncJob(ctx context.Context, id string, counters models.JobCounters, completedAt time.Time) error
	FailSyncJob(ctx context.Context, id, message string, completedAt time.Time) error
	GetSyncJob(ctx context.Context, id string) (*models.SyncJob, error)
	ListSyncJobs(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error)
	FailRunningSyncJobs(ctx context.Context, message string, startedBefore, completedAt time.Time) (int64, error)
	PruneSyncJobs(ctx context.Context, olderThan time.Time) (int64, error)

	// Windows compliance operations.

	UpsertWindowsVersion(ctx context.Context, version *models.WindowsVersion) error
	ListWindowsVersions(ctx context.Context) ([]models.WindowsVersion, error)
	CreateWindowsPolicy(ctx context.Context, policy *models.WindowsCompliancePolicy) error
	ListActiveWindowsPolicies(ctx context.Context, tenantID string) ([]models.WindowsCompliancePolicy, error)
	RecordWindowsEvaluation(ctx context.Context, eval *models.WindowsComplianceEvaluation) error
	ListWindowsEvaluations(ctx context.Context, endpointID string, limit int) ([]models.WindowsComplianceEvaluation, error)
}

var _ Service = (*DB)(nil)
