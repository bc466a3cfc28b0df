package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mfreeman451/telemetrysync/pkg/db"
	"github.com/mfreeman451/telemetrysync/pkg/events"
	"github.com/mfreeman451/telemetrysync/pkg/identity"
	"github.com/mfreeman451/telemetrysync/pkg/ledger"
	"github.com/mfreeman451/telemetrysync/pkg/metrics"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/mfreeman451/telemetrysync/pkg/syncer"
	"github.com/mfreeman451/telemetrysync/pkg/winver"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu      sync.Mutex
	calls   []string
	scopes  []syncer.Scope
	err     error
	release chan struct{}
}

func (f *fakeSyncer) record(name string, scope syncer.Scope) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
}

func (f *fakeSyncer) RunAgents(_ context.Context, scope syncer.Scope) (*syncer.Summary, error) {
	f.record("agents", scope)

	if f.err != nil {
		return nil, f.err
	}

	return &syncer.Summary{Type: models.SyncTypeAgents, Processed: 3}, nil
}

func (f *fakeSyncer) RunVulnerabilitiesWithRetry(_ context.Context, scope syncer.Scope) (*syncer.Summary, error) {
	f.record("cves", scope)

	return &syncer.Summary{Type: models.SyncTypeVulnerabilities}, f.err
}

func (f *fakeSyncer) RunAll(_ context.Context, scope syncer.Scope) (*syncer.AllSummary, error) {
	f.record("all", scope)

	return &syncer.AllSummary{}, f.err
}

func (f *fakeSyncer) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

type fakeSites struct {
	sites []identity.UnmappedSite
	err   error
}

func (f *fakeSites) DiagnoseUnmapped(context.Context) ([]identity.UnmappedSite, error) {
	return f.sites, f.err
}

type fakeWindows struct {
	slug string
	ids  []string
	err  error
}

func (f *fakeWindows) EvaluateTenant(_ context.Context, slug string, ids []string) (*winver.Report, error) {
	f.slug, f.ids = slug, ids

	if f.err != nil {
		return nil, f.err
	}

	return &winver.Report{TenantSlug: slug, Evaluated: len(ids)}, nil
}

type testServer struct {
	*APIServer
	store   *db.DB
	ledger  *ledger.Ledger
	syncer  *fakeSyncer
	metrics *metrics.Metrics
	tenant  *models.Tenant
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) *testServer {
	t.Helper()

	store, err := db.New(context.Background(), filepath.Join(t.TempDir(), "api.db"), zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	site := "site-1"
	tenant := &models.Tenant{Slug: "acme", Name: "Acme", SentinelOneSiteID: &site}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))

	ts := &testServer{
		store:   store,
		ledger:  ledger.New(store, zerolog.Nop()),
		syncer:  &fakeSyncer{},
		metrics: metrics.New(models.MetricsConfig{Enabled: true, Retention: 5}),
		tenant:  tenant,
	}

	deps := Dependencies{
		Syncer:  ts.syncer,
		Ledger:  ts.ledger,
		Tenants: store,
		Sites:   &fakeSites{},
		Windows: &fakeWindows{},
		Metrics: ts.metrics,
		Logger:  zerolog.Nop(),
	}

	if mutate != nil {
		mutate(&deps)
	}

	ts.APIServer = NewAPIServer(deps)

	t.Cleanup(func() { _ = ts.Stop(context.Background()) })

	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(method, target, bytes.NewReader(body)))

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTriggerSyncWait(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/sync/agents?wait=true&tenant=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "COMPLETED", resp["status"])
	assert.Equal(t, "acme", resp["tenant"])
	assert.Contains(t, resp, "summary")
	assert.Equal(t, []string{"agents"}, ts.syncer.called())
	assert.Equal(t, "acme", ts.syncer.scopes[0].TenantSlug)

	rec = ts.do(t, http.MethodPost, "/api/sync/vulnerabilities?wait=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"agents", "cves"}, ts.syncer.called())
}

func TestTriggerSyncErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
	}{
		{name: "unknown kind", target: "/api/sync/users", status: http.StatusNotFound},
		{name: "unknown tenant", target: "/api/sync/agents?tenant=nobody", status: http.StatusNotFound},
		{name: "no mappings", target: "/api/sync/all?wait=true", err: syncer.ErrNoSiteMappings,
			status: http.StatusUnprocessableEntity},
		{name: "upstream down", target: "/api/sync/agents?wait=true", err: &sentinelone.APIError{StatusCode: 503},
			status: http.StatusBadGateway},
		{name: "forbidden", target: "/api/sync/cves?wait=true", err: &sentinelone.APIError{StatusCode: 403},
			status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.syncer.err = tt.err

			rec := ts.do(t, http.MethodPost, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.err != nil {
				resp := decode[map[string]any](t, rec)
				assert.Equal(t, "FAILED", resp["status"])
				assert.NotEmpty(t, resp["error"])
				assert.NotContains(t, resp, "summary")
			}
		})
	}
}

func TestTriggerSyncConflictsWithLedger(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := ts.ledger.Create(context.Background(), ts.tenant.ID, models.SourceSentinelOne, models.SyncTypeVulnerabilities)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/sync/cves", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sync/all?tenant=acme", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sync/agents?wait=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "agent syncs are not blocked by a running CVE job")
}

func TestTriggerSyncInBackground(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.syncer.release = make(chan struct{})

	rec := ts.do(t, http.MethodPost, "/api/sync/agents", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return len(ts.syncer.called()) == 1 }, 5*time.Second, 10*time.Millisecond)

	rec = ts.do(t, http.MethodPost, "/api/sync/agents", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sync/all", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(ts.syncer.release)

	require.NoError(t, ts.Stop(context.Background()))

	rec = ts.do(t, http.MethodPost, "/api/sync/agents?wait=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStopTimesOutOnStuckSync(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.syncer.release = make(chan struct{})

	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/sync/cves", nil).Code)
	require.Eventually(t, func() bool { return len(ts.syncer.called()) == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, ts.Stop(ctx), context.DeadlineExceeded)

	close(ts.syncer.release)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	site := "site-2"
	other := &models.Tenant{Slug: "globex", Name: "Globex", SentinelOneSiteID: &site}
	require.NoError(t, ts.store.CreateTenant(ctx, other))

	id, err := ts.ledger.Create(ctx, ts.tenant.ID, models.SourceSentinelOne, models.SyncTypeAgents)
	require.NoError(t, err)
	require.NoError(t, ts.ledger.MarkCompleted(ctx, id, models.JobCounters{Processed: 5, Created: 5}))

	_, err = ts.ledger.Create(ctx, other.ID, models.SourceSentinelOne, models.SyncTypeVulnerabilities)
	require.NoError(t, err)

	jobs := decode[[]models.SyncJob](t, ts.do(t, http.MethodGet, "/api/jobs", nil))
	assert.Len(t, jobs, 2)

	jobs = decode[[]models.SyncJob](t, ts.do(t, http.MethodGet, "/api/jobs?tenant=acme", nil))
	require.Len(t, jobs, 1)
	assert.Equal(t, 5, jobs[0].RecordsCreated)

	jobs = decode[[]models.SyncJob](t, ts.do(t, http.MethodGet, "/api/jobs?status=running&type=vulnerabilities", nil))
	require.Len(t, jobs, 1)
	assert.Equal(t, other.ID, jobs[0].TenantID)

	jobs = decode[[]models.SyncJob](t, ts.do(t, http.MethodGet, "/api/jobs?tenant=acme&status=failed", nil))
	assert.Empty(t, jobs)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/jobs?limit=lots", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/jobs?tenant=initech", nil).Code)

	job := decode[models.SyncJob](t, ts.do(t, http.MethodGet, "/api/jobs/"+id, nil))
	assert.Equal(t, models.JobCompleted, job.Status)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/jobs/missing", nil).Code)
}

func TestUnmappedSites(t *testing.T) {
	sites := &fakeSites{sites: []identity.UnmappedSite{
		{Site: sentinelone.Site{ID: "site-9", Name: "Initech"}, AgentCount: 4},
	}}

	ts := newTestServer(t, func(d *Dependencies) { d.Sites = sites })

	got := decode[[]identity.UnmappedSite](t, ts.do(t, http.MethodGet, "/api/sites/unmapped", nil))
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].AgentCount)

	sites.err = errors.New("console unreachable")
	assert.Equal(t, http.StatusBadGateway, ts.do(t, http.MethodGet, "/api/sites/unmapped", nil).Code)

	ts = newTestServer(t, func(d *Dependencies) { d.Sites = nil })
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/api/sites/unmapped", nil).Code)
}

func TestEvaluateWindows(t *testing.T) {
	windows := &fakeWindows{}
	ts := newTestServer(t, func(d *Dependencies) { d.Windows = windows })

	rec := ts.do(t, http.MethodPost, "/api/tenants/acme/windows/evaluate", []byte(`{"endpoint_ids":["e-1","e-2"]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[winver.Report](t, rec)
	assert.Equal(t, "acme", report.TenantSlug)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, []string{"e-1", "e-2"}, windows.ids)

	rec = ts.do(t, http.MethodPost, "/api/tenants/acme/windows/evaluate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, windows.ids)

	assert.Equal(t, http.StatusBadRequest,
		ts.do(t, http.MethodPost, "/api/tenants/acme/windows/evaluate", []byte(`{`)).Code)

	windows.err = winver.ErrTenantNotFound
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/tenants/x/windows/evaluate", nil).Code)

	windows.err = winver.ErrNoActivePolicy
	assert.Equal(t, http.StatusUnprocessableEntity,
		ts.do(t, http.MethodPost, "/api/tenants/acme/windows/evaluate", nil).Code)
}

func TestRecentRunsAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.metrics.RunFinished(models.RunPoint{
		Timestamp: time.Now().UTC(),
		Type:      models.SyncTypeAgents,
		Status:    models.JobCompleted,
		Processed: 7,
	})

	points := decode[[]models.RunPoint](t, ts.do(t, http.MethodGet, "/api/metrics/runs/agents", nil))
	require.Len(t, points, 1)
	assert.Equal(t, 7, points[0].Processed)

	points = decode[[]models.RunPoint](t, ts.do(t, http.MethodGet, "/api/metrics/runs/cves", nil))
	assert.Empty(t, points)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/metrics/runs/users", nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "telemetrysync_runs_total"))
}

func TestEventStreamPassesThroughMiddleware(t *testing.T) {
	hub := events.NewHub(zerolog.Nop())
	t.Cleanup(func() { _ = hub.Close() })

	ts := newTestServer(t, func(d *Dependencies) { d.Events = hub })

	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishRun(context.Background(), &models.RunEvent{
		Type:   models.SyncTypeVulnerabilities,
		Status: models.JobFailed,
		Error:  "upstream 503",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got models.RunEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "upstream 503", got.Error)
}

func TestEventStreamAbsent(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
