package syncer

import (
	"context"

	"github.com/mfreeman451/telemetrysync/pkg/compliance"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
)

// RunAgents pulls every agent, active or not, and upserts it as an endpoint
// of the tenant that owns its site.
func (o *Orchestrator) RunAgents(ctx context.Context, scope Scope) (*Summary, error) {
	return o.execute(ctx, scope, models.SyncTypeAgents, o.syncAgents)
}

func (o *Orchestrator) syncAgents(ctx context.Context, r *run) error {
	filter := sentinelone.AgentFilter{PageSize: o.opts.PageSize}

	// A single-tenant run asks upstream for that site only. Activity is
	// never filtered: inactive agents are still inventory.
	if len(r.siteMap) == 1 {
		filter.SiteIDs = r.siteMap.SiteIDs()
	}

	return drain(ctx, o, r, o.client.ListAgents(ctx, filter), func(ctx context.Context, agent sentinelone.Agent) {
		o.handleAgent(ctx, r, &agent)
	})
}

func (o *Orchestrator) handleAgent(ctx context.Context, r *run, agent *sentinelone.Agent) {
	tenant, counts, err := r.resolve(agent.SiteID)
	if err != nil {
		r.logger.Debug().Str("agent_id", agent.ID).Str("site_id", agent.SiteID).Msg("Skipping agent of unmapped site")
		r.summary.skip(nil, SkipSiteUnmapped)

		return
	}

	attrs := compliance.Attributes{
		IsActive:      agent.IsActive,
		IsUpToDate:    agent.IsUpToDate,
		Infected:      agent.Infected,
		ActiveThreats: agent.ActiveThreats,
	}
	result := compliance.Score(attrs)

	state := &models.EndpointState{
		TenantID:           tenant.ID,
		Hostname:           agent.ComputerName,
		SentinelOneAgentID: agent.ID,
		OSName:             agent.OSName,
		OSRevision:         agent.OSRevision,
		IPAddress:          agentIP(agent),
		IsCompliant:        result.IsCompliant,
		ComplianceScore:    result.Score,
		LastSeen:           agent.LastActiveDate,
	}

	_, outcome, err := o.store.UpsertEndpoint(ctx, state)
	if err != nil {
		r.logger.Error().Err(err).
			Str("tenant", tenant.Slug).
			Str("agent_id", agent.ID).
			Str("hostname", agent.ComputerName).
			Msg("Failed to upsert endpoint")
		r.summary.fail(counts)

		return
	}

	r.summary.record(counts, outcome)
	r.summary.ByStatus[string(compliance.Classify(attrs))]++
}

// agentIP prefers the address the agent uses to reach the console.
func agentIP(agent *sentinelone.Agent) string {
	if agent.LastIPToMgmt != "" {
		return agent.LastIPToMgmt
	}

	return agent.ExternalIP
}
