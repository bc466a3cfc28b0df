package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone/sentinelonetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRunVulnerabilities(t *testing.T) {
	f := newFixture(t)
	f.mapTenants(t)

	f.srv.AddAgents(
		sentinelonetest.Agent("a-1", "ws-01", "site-1"),
		sentinelonetest.Agent("a-2", "ws-02", "site-2"),
	)

	unscored := sentinelonetest.Risk("CVE-2024-0003", "ws-02", "site-2", "")
	unscored["baseScore"] = 9.8

	f.srv.AddRisks(
		sentinelonetest.Risk("CVE-2024-0001", "ws-01", "site-1", "Critical"),
		sentinelonetest.Risk("CVE-2024-0002", "WS-01", "site-1", "Medium"),
		unscored,
		sentinelonetest.Risk("CVE-2024-0004", "ghost", "site-1", "High"),
		sentinelonetest.Risk("CVE-2024-0005", "ws-09", "site-unknown", "High"),
	)

	o := f.orchestrator(t, nil, Options{})
	ctx := context.Background()

	_, err := o.RunAgents(ctx, Scope{})
	require.NoError(t, err)

	summary, err := o.RunVulnerabilities(ctx, Scope{})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 3, summary.Created)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.SkipReasons[SkipEndpointNotFound])
	assert.Equal(t, 1, summary.SkipReasons[SkipSiteUnmapped])
	assert.Equal(t, 2, summary.ByStatus[string(models.SeverityCritical)])
	assert.Equal(t, 1, summary.ByStatus[string(models.SeverityMedium)])
	assert.Equal(t, 1, summary.ByTenant["acme"].Skipped)

	ws01, err := f.store.GetEndpointByHostname(ctx, f.acme.ID, "ws-01")
	require.NoError(t, err)
	assert.Equal(t, 1, ws01.CriticalVulns)
	assert.Equal(t, 1, ws01.MediumVulns)

	ws02, err := f.store.GetEndpointByHostname(ctx, f.globex.ID, "ws-02")
	require.NoError(t, err)
	assert.Equal(t, 1, ws02.CriticalVulns)

	// Unchanged upstream: nothing new.
	again, err := o.RunVulnerabilities(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 3, again.Unchanged)
	assert.Zero(t, again.Resolved)

	// ws-01 patched the medium CVE.
	f.srv.SetRisks(
		sentinelonetest.Risk("CVE-2024-0001", "ws-01", "site-1", "Critical"),
		unscored,
	)

	patched, err := o.RunVulnerabilities(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), patched.Resolved)

	ws01, err = f.store.GetEndpointByHostname(ctx, f.acme.ID, "ws-01")
	require.NoError(t, err)
	assert.Equal(t, 1, ws01.CriticalVulns)
	assert.Equal(t, 0, ws01.MediumVulns)

	links, err := f.store.ListEndpointVulnerabilities(ctx, ws01.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)

	statuses := map[models.VulnStatus]int{}
	for _, link := range links {
		statuses[link.Status]++
	}

	assert.Equal(t, map[models.VulnStatus]int{models.VulnOpen: 1, models.VulnResolved: 1}, statuses)
}

func TestRunVulnerabilitiesScopedRunOnlyResolvesItsTenant(t *testing.T) {
	f := newFixture(t)
	f.mapTenants(t)

	f.srv.AddAgents(
		sentinelonetest.Agent("a-1", "ws-01", "site-1"),
		sentinelonetest.Agent("a-2", "ws-02", "site-2"),
	)
	f.srv.AddRisks(
		sentinelonetest.Risk("CVE-2024-0001", "ws-01", "site-1", "High"),
		sentinelonetest.Risk("CVE-2024-0002", "ws-02", "site-2", "High"),
	)

	o := f.orchestrator(t, nil, Options{})
	ctx := context.Background()

	_, err := o.RunAll(ctx, Scope{})
	require.NoError(t, err)

	f.srv.SetRisks()

	summary, err := o.RunVulnerabilities(ctx, Scope{TenantSlug: "acme"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Resolved)

	requests := f.srv.Requests("/application-management/risks")
	assert.Equal(t, "site-1", requests[len(requests)-1].Get("siteIds"))

	ws02, err := f.store.GetEndpointByHostname(ctx, f.globex.ID, "ws-02")
	require.NoError(t, err)
	assert.Equal(t, 1, ws02.HighVulns)
}

func TestRunVulnerabilitiesOneRowPerApplication(t *testing.T) {
	f := newFixture(t)
	f.mapTenants(t)

	f.srv.AddAgents(sentinelonetest.Agent("a-1", "ws-01", "site-1"))

	chrome := sentinelonetest.Risk("CVE-2023-4863", "ws-01", "site-1", "High")
	chrome["application"] = "Google Chrome"
	firefox := sentinelonetest.Risk("CVE-2023-4863", "ws-01", "site-1", "High")
	firefox["application"] = "Mozilla Firefox"

	f.srv.AddRisks(chrome, firefox)

	o := f.orchestrator(t, nil, Options{})
	ctx := context.Background()

	_, err := o.RunAgents(ctx, Scope{})
	require.NoError(t, err)

	first, err := o.RunVulnerabilities(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Zero(t, first.Updated)
	assert.Equal(t, 1, first.Unchanged)

	again, err := o.RunVulnerabilities(ctx, Scope{})
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Zero(t, again.Updated)
	assert.Equal(t, 2, again.Unchanged)
	assert.Zero(t, again.Resolved)

	ws01, err := f.store.GetEndpointByHostname(ctx, f.acme.ID, "ws-01")
	require.NoError(t, err)
	assert.Equal(t, 1, ws01.HighVulns)
}

func TestSkippedRecordsCountTowardsTenantJob(t *testing.T) {
	f := newFixture(t)
	f.mapTenants(t)

	f.srv.AddRisks(sentinelonetest.Risk("CVE-2024-0004", "ghost", "site-1", "High"))

	summary, err := f.orchestrator(t, nil, Options{}).RunVulnerabilities(context.Background(), Scope{TenantSlug: "acme"})
	require.NoError(t, err)

	acme := summary.ByTenant["acme"]
	require.NotNil(t, acme)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, acme.Processed)
	assert.Equal(t, 1, acme.Skipped)

	job, err := f.ledger.Get(context.Background(), acme.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 1, job.RecordsProcessed)
}

func TestRiskSeverity(t *testing.T) {
	score := 5.0

	assert.Equal(t, models.SeverityHigh, riskSeverity(&sentinelone.Risk{Severity: "high", BaseScore: &score}))
	assert.Equal(t, models.SeverityMedium, riskSeverity(&sentinelone.Risk{BaseScore: &score}))
	assert.Equal(t, models.SeverityUnknown, riskSeverity(&sentinelone.Risk{}))
}

// flakyRisks returns an iterator whose first page fails with err.
func flakyRisks(err error) *sentinelone.PageIterator[sentinelone.Risk] {
	return sentinelone.NewPageIterator(func(context.Context, string) (*sentinelone.Page[sentinelone.Risk], error) {
		return nil, err
	})
}

func risksPage(risks ...sentinelone.Risk) *sentinelone.PageIterator[sentinelone.Risk] {
	return sentinelone.NewPageIterator(func(context.Context, string) (*sentinelone.Page[sentinelone.Risk], error) {
		return &sentinelone.Page[sentinelone.Risk]{Items: risks, TotalItems: len(risks)}, nil
	})
}

func TestRunVulnerabilitiesWithRetry(t *testing.T) {
	f := newFixture(t)
	f.mapTenants(t)

	ctx := context.Background()

	_, _, err := f.store.UpsertEndpoint(ctx, &models.EndpointState{TenantID: f.acme.ID, Hostname: "ws-01"})
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	client := sentinelone.NewMockClient(ctrl)

	transient := fmt.Errorf("%w: connection reset", sentinelone.ErrTransientNetwork)

	gomock.InOrder(
		client.EXPECT().ListRisks(gomock.Any(), gomock.Any()).Return(flakyRisks(transient)),
		client.EXPECT().ListRisks(gomock.Any(), gomock.Any()).
			Return(flakyRisks(&sentinelone.APIError{StatusCode: http.StatusTooManyRequests})),
		client.EXPECT().ListRisks(gomock.Any(), gomock.Any()).
			Return(risksPage(sentinelone.Risk{CVEID: "CVE-2024-0001", EndpointName: "ws-01", SiteID: "site-1", Severity: "Low"})),
	)

	var delays []time.Duration

	o := f.orchestrator(t, client, Options{Retry: RetryPolicy{
		Attempts:  3,
		BaseDelay: time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)

			return nil
		},
	}})

	summary, err := o.RunVulnerabilitiesWithRetry(ctx, Scope{TenantSlug: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)

	completed := f.jobs(t, models.JobFilter{TenantID: f.acme.ID, Status: models.JobCompleted})
	require.Len(t, completed, 1)
	assert.Equal(t, models.SyncTypeVulnerabilities, completed[0].Type)

	assert.Len(t, f.jobs(t, models.JobFilter{TenantID: f.acme.ID, Status: models.JobFailed}), 2)
}

func TestRunVulnerabilitiesWithRetryStopsOnClientError(t *testing.T) {
	f := newFixture(t)
	f.mapTenants(t)

	ctrl := gomock.NewController(t)
	client := sentinelone.NewMockClient(ctrl)
	client.EXPECT().ListRisks(gomock.Any(), gomock.Any()).
		Return(flakyRisks(&sentinelone.APIError{StatusCode: http.StatusForbidden})).
		Times(1)

	o := f.orchestrator(t, client, Options{Retry: RetryPolicy{
		sleep: func(context.Context, time.Duration) error {
			t.Error("unexpected retry")

			return nil
		},
	}})

	_, err := o.RunVulnerabilitiesWithRetry(context.Background(), Scope{})

	var apiErr *sentinelone.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestCancelledRunStillRecordsFailure(t *testing.T) {
	f := newFixture(t)
	f.mapTenants(t)

	ctx, cancel := context.WithCancel(context.Background())

	ctrl := gomock.NewController(t)
	client := sentinelone.NewMockClient(ctrl)
	client.EXPECT().ListAgents(gomock.Any(), gomock.Any()).Return(
		sentinelone.NewPageIterator(func(ctx context.Context, _ string) (*sentinelone.Page[sentinelone.Agent], error) {
			cancel()

			return nil, ctx.Err()
		}))

	_, err := f.orchestrator(t, client, Options{}).RunAgents(ctx, Scope{})
	require.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsRetryable(err))

	jobs := f.jobs(t, models.JobFilter{})
	require.Len(t, jobs, 2)

	for _, job := range jobs {
		assert.Equal(t, models.JobFailed, job.Status)
	}

	assert.Empty(t, f.alerter.sent(), "cancellation is not alerted")
}
