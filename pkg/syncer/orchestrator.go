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

// Package syncer pulls agents and CVE rows from the upstream console into
// local storage, one ledger job per tenant per run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/alerts"
	"github.com/mfreeman451/telemetrysync/pkg/identity"
	"github.com/mfreeman451/telemetrysync/pkg/metrics"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/rs/zerolog"
)

const (
	defaultMaxPages    = 10000
	defaultPageTimeout = 60 * time.Second

	// minPageCeiling keeps small collections from tripping the ceiling.
	minPageCeiling    = 10
	pageCeilingFactor = 10
)

// Options are the immutable knobs of an Orchestrator.
type Options struct {
	PageSize    int
	MaxPages    int
	PageTimeout time.Duration
	Retry       RetryPolicy
}

func (o Options) withDefaults() Options {
	o.PageSize = sentinelone.ClampPageSize(o.PageSize)

	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}

	if o.PageTimeout <= 0 {
		o.PageTimeout = defaultPageTimeout
	}

	o.Retry = o.Retry.withDefaults()

	return o
}

// Dependencies are the collaborators an Orchestrator is built from.
// Recorder, Alerter and Events are optional.
type Dependencies struct {
	Client   sentinelone.Client
	Store    Store
	Resolver SiteResolver
	Ledger   JobLedger
	Recorder metrics.Recorder
	Alerter  alerts.AlertService
	Events   EventPublisher
	Logger   zerolog.Logger
}

// Scope narrows a run. An empty TenantSlug means every mapped tenant.
type Scope struct {
	TenantSlug string `json:"tenant,omitempty"`
}

// Orchestrator runs syncs. It holds no run state, so concurrent runs are safe.
type Orchestrator struct {
	client   sentinelone.Client
	store    Store
	resolver SiteResolver
	ledger   JobLedger
	recorder metrics.Recorder
	alerter  alerts.AlertService
	events   EventPublisher
	logger   zerolog.Logger
	opts     Options
	now      func() time.Time
}

// New validates deps and returns an Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Client == nil:
		return nil, fmt.Errorf("%w: upstream client is required", ErrConfiguration)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store is required", ErrConfiguration)
	case deps.Resolver == nil:
		return nil, fmt.Errorf("%w: site resolver is required", ErrConfiguration)
	case deps.Ledger == nil:
		return nil, fmt.Errorf("%w: job ledger is required", ErrConfiguration)
	}

	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &Orchestrator{
		client:   deps.Client,
		store:    deps.Store,
		resolver: deps.Resolver,
		ledger:   deps.Ledger,
		recorder: recorder,
		alerter:  deps.Alerter,
		events:   deps.Events,
		logger:   deps.Logger.With().Str("component", "syncer").Logger(),
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunAll syncs agents and then vulnerabilities. Vulnerabilities go through
// the retry policy; a failed agent sync stops the run.
func (o *Orchestrator) RunAll(ctx context.Context, scope Scope) (*AllSummary, error) {
	agents, err := o.RunAgents(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("agent sync: %w", err)
	}

	vulns, err := o.RunVulnerabilitiesWithRetry(ctx, scope)
	if err != nil {
		return &AllSummary{Agents: agents}, fmt.Errorf("vulnerability sync: %w", err)
	}

	return &AllSummary{Agents: agents, Vulnerabilities: vulns}, nil
}

// RunVulnerabilitiesWithRetry retries whole vulnerability runs per the
// configured policy. Each attempt opens fresh ledger jobs.
func (o *Orchestrator) RunVulnerabilitiesWithRetry(ctx context.Context, scope Scope) (*Summary, error) {
	policy := o.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Vulnerability sync failed, retrying")
	}

	return Retry(ctx, policy, func(ctx context.Context) (*Summary, error) {
		return o.RunVulnerabilities(ctx, scope)
	})
}

// run is the state of one sync. It never outlives the call that created it.
type run struct {
	syncType models.SyncType
	siteMap  identity.SiteMap
	summary  *Summary
	tenants  map[string]*TenantCounts // by tenant id
	logger   zerolog.Logger
}

func (r *run) tenantIDs() []string {
	ids := make([]string, 0, len(r.tenants))
	for _, t := range r.siteMap.Tenants() {
		ids = append(ids, t.ID)
	}

	return ids
}

// resolve maps a site id to the tenant's counters.
func (r *run) resolve(siteID string) (models.Tenant, *TenantCounts, error) {
	tenant, ok := r.siteMap.Resolve(siteID)
	if !ok {
		return models.Tenant{}, nil, fmt.Errorf("%w: %s", ErrIdentityUnresolved, siteID)
	}

	return tenant, r.tenants[tenant.ID], nil
}

// execute wraps body with the job lifecycle shared by every sync type.
func (o *Orchestrator) execute(
	ctx context.Context, scope Scope, syncType models.SyncType, body func(ctx context.Context, r *run) error) (*Summary, error) {
	startedAt := o.now()

	r, err := o.start(ctx, scope, syncType, startedAt)
	if err != nil {
		o.logger.Error().Err(err).Str("sync_type", string(syncType)).Msg("Sync aborted before fetching")
		o.finish(ctx, syncType, startedAt, nil, err)

		return nil, err
	}

	r.logger.Info().Int("tenants", len(r.tenants)).Msg("Sync started")

	err = body(ctx, r)

	r.summary.Duration = o.now().Sub(startedAt)

	if err != nil {
		o.failJobs(ctx, r, err)
		o.finish(ctx, syncType, startedAt, r.summary, err)

		return nil, err
	}

	if err = o.completeJobs(ctx, r); err != nil {
		o.finish(ctx, syncType, startedAt, r.summary, err)

		return nil, err
	}

	o.finish(ctx, syncType, startedAt, r.summary, nil)

	r.logger.Info().
		Int("pages", r.summary.Pages).
		Int("processed", r.summary.Processed).
		Int("created", r.summary.Created).
		Int("updated", r.summary.Updated).
		Int("unchanged", r.summary.Unchanged).
		Int("skipped", r.summary.Skipped).
		Int("failed", r.summary.Failed).
		Dur("duration", r.summary.Duration).
		Msg("Sync completed")

	return r.summary, nil
}

// start resolves identity and opens one RUNNING job per in-scope tenant.
func (o *Orchestrator) start(ctx context.Context, scope Scope, syncType models.SyncType, startedAt time.Time) (*run, error) {
	siteMap, err := o.resolver.BuildSiteToTenantMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("build site map: %w", err)
	}

	if len(siteMap) == 0 {
		return nil, ErrNoSiteMappings
	}

	if scope.TenantSlug != "" {
		siteMap = siteMap.Only(scope.TenantSlug)
		if len(siteMap) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotMapped, scope.TenantSlug)
		}
	}

	r := &run{
		syncType: syncType,
		siteMap:  siteMap,
		summary:  newSummary(syncType, startedAt),
		tenants:  make(map[string]*TenantCounts, len(siteMap)),
		logger:   o.logger.With().Str("sync_type", string(syncType)).Logger(),
	}

	for _, tenant := range siteMap.Tenants() {
		jobID, err := o.ledger.Create(ctx, tenant.ID, models.SourceSentinelOne, syncType)
		if err != nil {
			o.failJobs(ctx, r, err)

			return nil, fmt.Errorf("create sync job for %s: %w", tenant.Slug, err)
		}

		counts := &TenantCounts{TenantID: tenant.ID, JobID: jobID}
		r.tenants[tenant.ID] = counts
		r.summary.ByTenant[tenant.Slug] = counts

		r.logger.Debug().Str("tenant", tenant.Slug).Str("job_id", jobID).Msg("Sync job created")
	}

	return r, nil
}

func (o *Orchestrator) completeJobs(ctx context.Context, r *run) error {
	var errs []error

	for slug, counts := range r.summary.ByTenant {
		if err := o.ledger.MarkCompleted(ctx, counts.JobID, counts.jobCounters()); err != nil {
			r.logger.Error().Err(err).Str("tenant", slug).Str("job_id", counts.JobID).Msg("Failed to complete sync job")

			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		err := fmt.Errorf("complete sync jobs: %w", errors.Join(errs...))
		o.failJobs(ctx, r, err)

		return err
	}

	return nil
}

// failJobs marks every job of the run FAILED. Jobs that already reached a
// terminal state are left alone. The writes survive cancellation of ctx so an
// interrupted run is still recorded.
func (o *Orchestrator) failJobs(ctx context.Context, r *run, cause error) {
	ctx = context.WithoutCancel(ctx)

	for slug, counts := range r.summary.ByTenant {
		if err := o.ledger.MarkFailed(ctx, counts.JobID, cause.Error()); err != nil {
			r.logger.Debug().Err(err).Str("tenant", slug).Str("job_id", counts.JobID).Msg("Sync job not marked failed")

			continue
		}

		r.logger.Error().Err(cause).Str("tenant", slug).Str("job_id", counts.JobID).Msg("Sync job failed")
	}
}

// finish reports the run to metrics and subscribers and, on failure, to the alerter.
func (o *Orchestrator) finish(ctx context.Context, syncType models.SyncType, startedAt time.Time, summary *Summary, err error) {
	point := models.RunPoint{
		Timestamp: startedAt,
		Type:      syncType,
		Status:    models.JobCompleted,
		Duration:  o.now().Sub(startedAt),
	}

	if summary != nil {
		point.Processed = summary.Processed
		point.Skipped = summary.Skipped
		point.Failed = summary.Failed

		o.recorder.RecordsProcessed(syncType, models.OutcomeCreated.String(), summary.Created)
		o.recorder.RecordsProcessed(syncType, models.OutcomeUpdated.String(), summary.Updated)
		o.recorder.RecordsProcessed(syncType, models.OutcomeUnchanged.String(), summary.Unchanged)
		o.recorder.RecordsProcessed(syncType, "skipped", summary.Skipped)
		o.recorder.RecordsProcessed(syncType, "failed", summary.Failed)
	}

	if err != nil {
		point.Status = models.JobFailed
	}

	o.recorder.RunFinished(point)
	o.publish(ctx, point, summary, err)

	if err != nil {
		o.alert(ctx, syncType, summary, err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, point models.RunPoint, summary *Summary, cause error) {
	if o.events == nil {
		return
	}

	ev := &models.RunEvent{
		Type:        point.Type,
		Status:      point.Status,
		StartedAt:   point.Timestamp,
		CompletedAt: point.Timestamp.Add(point.Duration),
	}

	if summary != nil {
		ev.Pages = summary.Pages
		ev.Processed = summary.Processed
		ev.Created = summary.Created
		ev.Updated = summary.Updated
		ev.Skipped = summary.Skipped
		ev.Failed = summary.Failed
		ev.Resolved = summary.Resolved
		ev.Jobs = summary.JobIDs()
	}

	if cause != nil {
		ev.Error = cause.Error()
	}

	if err := o.events.PublishRun(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn().Err(err).Str("sync_type", string(point.Type)).Msg("Failed to publish run event")
	}
}

func (o *Orchestrator) alert(ctx context.Context, syncType models.SyncType, summary *Summary, cause error) {
	if o.alerter == nil || !o.alerter.IsEnabled() || errors.Is(cause, context.Canceled) {
		return
	}

	details := map[string]any{}

	if summary != nil {
		details["pages"] = summary.Pages
		details["processed"] = summary.Processed
		details["tenants"] = len(summary.ByTenant)
	}

	err := o.alerter.Alert(context.WithoutCancel(ctx), &alerts.WebhookAlert{
		Level:    alerts.Error,
		Title:    fmt.Sprintf("%s sync failed", syncType),
		Message:  cause.Error(),
		SyncType: string(syncType),
		Details:  details,
	})
	if err != nil && !errors.Is(err, alerts.ErrWebhookCooldown) {
		o.logger.Warn().Err(err).Msg("Failed to send sync failure alert")
	}
}

// pageCeiling tightens limit once the upstream total is known.
func pageCeiling(limit, totalItems, pageSize int) int {
	expected := (totalItems + pageSize - 1) / pageSize

	return min(limit, max(pageCeilingFactor*expected, minPageCeiling))
}

// drain walks every page of it, calling handle for each valid item. Rows
// that failed validation are skipped. Exceeding the page ceiling aborts.
func drain[T any](
	ctx context.Context, o *Orchestrator, r *run, it *sentinelone.PageIterator[T], handle func(ctx context.Context, item T)) error {
	limit := o.opts.MaxPages

	for {
		page, err := fetchPage(ctx, o.opts.PageTimeout, it)
		if err != nil {
			return err
		}

		if page == nil {
			return nil
		}

		r.summary.Pages++
		o.recorder.PageFetched(r.syncType)

		if r.summary.Pages == 1 {
			limit = pageCeiling(limit, page.TotalItems, o.opts.PageSize)
		}

		if r.summary.Pages > limit {
			return fmt.Errorf("%w: fetched %d pages, ceiling is %d", ErrPageLimitExceeded, r.summary.Pages, limit)
		}

		r.logger.Debug().
			Int("page", r.summary.Pages).
			Int("items", len(page.Items)).
			Int("invalid", len(page.Invalid)).
			Int("total", page.TotalItems).
			Msg("Page fetched")

		for _, parseErr := range page.Invalid {
			r.logger.Warn().Err(parseErr).Msg("Skipping invalid upstream record")
			r.summary.skip(nil, SkipInvalidRecord)
		}

		for _, item := range page.Items {
			handle(ctx, item)
		}
	}
}

// fetchPage bounds one page request by the page timeout. A timeout while the
// run itself is still live is reported as transient.
func fetchPage[T any](ctx context.Context, timeout time.Duration, it *sentinelone.PageIterator[T]) (*sentinelone.Page[T], error) {
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := it.Next(pageCtx)
	if err == nil {
		return page, nil
	}

	if ctx.Err() == nil && errors.Is(pageCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTransientNetwork) {
		return nil, fmt.Errorf("%w: page fetch timed out after %s: %w", ErrTransientNetwork, timeout, err)
	}

	return nil, fmt.Errorf("fetch page %d: %w", it.Fetched()+1, err)
}
