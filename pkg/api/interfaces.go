package api

import (
	"context"
	"net/http"

	"github.com/mfreeman451/telemetrysync/pkg/identity"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/syncer"
	"github.com/mfreeman451/telemetrysync/pkg/winver"
)

// Syncer starts sync runs.
type Syncer interface {
	RunAgents(ctx context.Context, scope syncer.Scope) (*syncer.Summary, error)
	RunVulnerabilitiesWithRetry(ctx context.Context, scope syncer.Scope) (*syncer.Summary, error)
	RunAll(ctx context.Context, scope syncer.Scope) (*syncer.AllSummary, error)
}

// JobLedger is the read side of the sync job ledger.
type JobLedger interface {
	Get(ctx context.Context, jobID string) (*models.SyncJob, error)
	Recent(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error)
	HasRunning(ctx context.Context, tenantID string, source models.SyncSource, syncType models.SyncType) (bool, error)
}

// TenantLookup resolves tenant slugs.
type TenantLookup interface {
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}

// SiteDiagnostics lists upstream sites without a tenant.
type SiteDiagnostics interface {
	DiagnoseUnmapped(ctx context.Context) ([]identity.UnmappedSite, error)
}

// WindowsEvaluator runs Windows compliance evaluation for a tenant.
type WindowsEvaluator interface {
	EvaluateTenant(ctx context.Context, tenantSlug string, endpointIDs []string) (*winver.Report, error)
}

// RunHistory exposes recent run points and the Prometheus handler.
type RunHistory interface {
	Recent(syncType models.SyncType) []models.RunPoint
	Handler() http.Handler
}
