package syncer

import (
	"context"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/identity"
	"github.com/mfreeman451/telemetrysync/pkg/models"
)

//go:generate mockgen -destination=mock_syncer.go -package=syncer github.com/mfreeman451/telemetrysync/pkg/syncer Store,SiteResolver,JobLedger,EventPublisher

// Store is the slice of the database a sync run writes through.
type Store interface {
	UpsertEndpoint(ctx context.Context, state *models.EndpointState) (string, models.UpsertOutcome, error)
	GetEndpointByHostname(ctx context.Context, tenantID, hostname string) (*models.Endpoint, error)
	UpsertVulnerability(ctx context.Context, vuln *models.Vulnerability) (string, models.UpsertOutcome, error)
	UpsertEndpointVulnerability(ctx context.Context, link *models.EndpointVulnerability) (models.UpsertOutcome, error)
	ResolveStaleEndpointVulnerabilities(
		ctx context.Context, tenantIDs []string, source models.SyncSource, seenBefore time.Time) (int64, error)
	RecountEndpointVulnerabilities(ctx context.Context, tenantIDs []string) error
}

// SiteResolver builds the site to tenant map at the start of each run.
type SiteResolver interface {
	BuildSiteToTenantMap(ctx context.Context) (identity.SiteMap, error)
}

// JobLedger records one job per tenant per run.
type JobLedger interface {
	Create(ctx context.Context, tenantID string, source models.SyncSource, syncType models.SyncType) (string, error)
	MarkCompleted(ctx context.Context, jobID string, counters models.JobCounters) error
	MarkFailed(ctx context.Context, jobID, message string) error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishRun(ctx context.Context, ev *models.RunEvent) error
}
