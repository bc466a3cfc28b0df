package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfreeman451/telemetrysync/pkg/db"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
)

// RunVulnerabilities pulls application risk rows and links each CVE to the
// endpoint that reported it. Links not seen in a completed run are resolved
// and the endpoints' severity counters recomputed.
func (o *Orchestrator) RunVulnerabilities(ctx context.Context, scope Scope) (*Summary, error) {
	return o.execute(ctx, scope, models.SyncTypeVulnerabilities, o.syncVulnerabilities)
}

func (o *Orchestrator) syncVulnerabilities(ctx context.Context, r *run) error {
	filter := sentinelone.RiskFilter{PageSize: o.opts.PageSize}
	if len(r.siteMap) == 1 {
		filter.SiteIDs = r.siteMap.SiteIDs()
	}

	err := drain(ctx, o, r, o.client.ListRisks(ctx, filter), func(ctx context.Context, risk sentinelone.Risk) {
		o.handleRisk(ctx, r, &risk)
	})
	if err != nil {
		return err
	}

	tenantIDs := r.tenantIDs()

	resolved, err := o.store.ResolveStaleEndpointVulnerabilities(ctx, tenantIDs, models.SourceSentinelOne, r.summary.StartedAt)
	if err != nil {
		return fmt.Errorf("resolve stale vulnerabilities: %w", err)
	}

	r.summary.Resolved = resolved

	if err := o.store.RecountEndpointVulnerabilities(ctx, tenantIDs); err != nil {
		return fmt.Errorf("recount vulnerabilities: %w", err)
	}

	return nil
}

func (o *Orchestrator) handleRisk(ctx context.Context, r *run, risk *sentinelone.Risk) {
	tenant, counts, err := r.resolve(risk.SiteID)
	if err != nil {
		r.summary.skip(nil, SkipSiteUnmapped)

		return
	}

	logger := r.logger.With().
		Str("tenant", tenant.Slug).
		Str("cve", risk.CVEID).
		Str("hostname", risk.EndpointName).
		Logger()

	endpoint, err := o.store.GetEndpointByHostname(ctx, tenant.ID, risk.EndpointName)
	if errors.Is(err, db.ErrNotFound) {
		logger.Debug().Msg("Skipping CVE for unknown endpoint")
		r.summary.skip(counts, SkipEndpointNotFound)

		return
	}

	if err != nil {
		logger.Error().Err(err).Msg("Failed to look up endpoint")
		r.summary.fail(counts)

		return
	}

	severity := riskSeverity(risk)

	vulnID, _, err := o.store.UpsertVulnerability(ctx, &models.Vulnerability{
		CVEID:       risk.CVEID,
		Severity:    severity,
		CVSSScore:   risk.BaseScore,
		Description: risk.Description,
		PublishedAt: risk.PublishedDate,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upsert vulnerability")
		r.summary.fail(counts)

		return
	}

	outcome, err := o.store.UpsertEndpointVulnerability(ctx, &models.EndpointVulnerability{
		EndpointID:         endpoint.ID,
		VulnerabilityID:    vulnID,
		Status:             models.VulnOpen,
		DetectedBy:         models.SourceSentinelOne,
		ApplicationName:    risk.ApplicationName,
		ApplicationVersion: risk.ApplicationVersion,
		FirstSeenAt:        r.summary.StartedAt,
		LastSeenAt:         r.summary.StartedAt,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to link vulnerability to endpoint")
		r.summary.fail(counts)

		return
	}

	r.summary.record(counts, outcome)
	r.summary.ByStatus[string(severity)]++
}

// riskSeverity trusts the upstream label and falls back to the CVSS band.
func riskSeverity(risk *sentinelone.Risk) models.Severity {
	severity := models.ParseSeverity(risk.Severity)
	if severity == models.SeverityUnknown && risk.BaseScore != nil {
		severity = models.SeverityFromScore(*risk.BaseScore)
	}

	return severity
}
