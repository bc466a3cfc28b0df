package sentinelone_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone/sentinelonetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *sentinelonetest.Server) *sentinelone.HTTPClient {
	t.Helper()

	client, err := sentinelone.NewClient(srv.Config())
	require.NoError(t, err)

	return client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  sentinelone.Config
	}{
		{name: "missing base URL", cfg: sentinelone.Config{APIToken: "x"}},
		{name: "missing token", cfg: sentinelone.Config{BaseURL: "https://console.example"}},
		{name: "relative URL", cfg: sentinelone.Config{BaseURL: "console", APIToken: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sentinelone.NewClient(tt.cfg)
			require.ErrorIs(t, err, sentinelone.ErrInvalidConfig)
		})
	}
}

func TestListAgentsPaginates(t *testing.T) {
	srv := sentinelonetest.NewServer(t)

	for i := 0; i < 450; i++ {
		srv.AddAgents(sentinelonetest.Agent(fmt.Sprintf("a-%d", i), fmt.Sprintf("host-%03d", i), "site-1"))
	}

	client := newClient(t, srv)
	it := client.ListAgents(context.Background(), sentinelone.AgentFilter{PageSize: 200})

	var sizes []int

	for {
		page, err := it.Next(context.Background())
		require.NoError(t, err)

		if page == nil {
			break
		}

		assert.Equal(t, 450, page.TotalItems)
		sizes = append(sizes, len(page.Items))
	}

	assert.Equal(t, []int{200, 200, 50}, sizes)
	assert.Equal(t, 3, it.Fetched())

	requests := srv.Requests("/agents")
	require.Len(t, requests, 3)

	for _, q := range requests {
		assert.Equal(t, "200", q.Get("limit"))
		assert.False(t, q.Has("isActive"), "no implicit activity filter")
	}
}

func TestListAgentsFilters(t *testing.T) {
	srv := sentinelonetest.NewServer(t)

	inactive := sentinelonetest.Agent("a-2", "old-laptop", "site-1")
	inactive["isActive"] = false

	srv.AddAgents(
		sentinelonetest.Agent("a-1", "ws-01", "site-1"),
		inactive,
		sentinelonetest.Agent("a-3", "ws-03", "site-2"),
	)

	client := newClient(t, srv)
	ctx := context.Background()

	all, err := client.ListAgents(ctx, sentinelone.AgentFilter{}).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active := true

	onlyActive, err := client.ListAgents(ctx, sentinelone.AgentFilter{IsActive: &active}).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, onlyActive, 2)

	site, err := client.ListAgents(ctx, sentinelone.AgentFilter{SiteIDs: []string{"site-1"}}).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, site, 2)

	count, err := client.CountAgents(ctx, sentinelone.AgentFilter{SiteIDs: []string{"site-2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	agent, err := client.GetAgent(ctx, "a-2")
	require.NoError(t, err)
	assert.Equal(t, "old-laptop", agent.ComputerName)
	assert.False(t, agent.IsActive)
	require.NotNil(t, agent.LastActiveDate)

	_, err = client.GetAgent(ctx, "missing")
	require.ErrorIs(t, err, sentinelone.ErrAgentNotFound)
}

func TestInvalidRowsAreReportedNotFatal(t *testing.T) {
	srv := sentinelonetest.NewServer(t)

	broken := sentinelonetest.Agent("a-2", "", "site-1")

	srv.AddAgents(sentinelonetest.Agent("a-1", "ws-01", "site-1"), broken,
		sentinelonetest.Record{"id": 42, "computerName": "typed-wrong"})

	client := newClient(t, srv)

	page, err := client.ListAgents(context.Background(), sentinelone.AgentFilter{}).Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Len(t, page.Invalid, 2)
	assert.ErrorIs(t, page.Invalid[0], sentinelone.ErrInvalidRecord)
	assert.Contains(t, page.Invalid[0].Error(), "computerName")
}

func TestSitesAndRisks(t *testing.T) {
	srv := sentinelonetest.NewServer(t)
	srv.AddSites(sentinelonetest.Site("site-1", "Acme Inc"), sentinelonetest.Site("site-2", "Globex"))
	srv.AddRisks(
		sentinelonetest.Risk("cve-2024-0001", "ws-01", "site-1", "Critical"),
		sentinelonetest.Risk("CVE-2024-0002", "ws-02", "site-2", "High"),
	)

	client := newClient(t, srv)
	ctx := context.Background()

	sites, err := client.ListSites(ctx, sentinelone.SiteFilter{}).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "Acme Inc", sites[0].Name)

	risks, err := client.ListRisks(ctx, sentinelone.RiskFilter{SiteIDs: []string{"site-1"}}).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, risks, 1)
	assert.Equal(t, "CVE-2024-0001", risks[0].CVEID)
	assert.Equal(t, "openssl", risks[0].ApplicationName)
	require.NotNil(t, risks[0].BaseScore)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		retryable   bool
		rateLimited bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true, rateLimited: true},
		{name: "server error", status: http.StatusServiceUnavailable, retryable: true},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "bad request", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := sentinelonetest.NewServer(t)
			srv.FailNext(tt.status, 1)

			_, err := newClient(t, srv).ListSites(context.Background(), sentinelone.SiteFilter{}).Next(context.Background())
			require.Error(t, err)

			var apiErr *sentinelone.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retryable, apiErr.Retryable())
			assert.Equal(t, tt.rateLimited, sentinelone.IsRateLimited(err))
			assert.Contains(t, apiErr.Body, http.StatusText(tt.status))

			// Non-2xx responses are never retried by the client.
			assert.Len(t, srv.Requests("/sites"), 1)
		})
	}
}

func TestWrongTokenIsUnauthorized(t *testing.T) {
	srv := sentinelonetest.NewServer(t)

	cfg := srv.Config()
	cfg.APIToken = "wrong"

	client, err := sentinelone.NewClient(cfg)
	require.NoError(t, err)

	_, err = client.CountAgents(context.Background(), sentinelone.AgentFilter{})

	var apiErr *sentinelone.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Authentication failed", apiErr.Message)
}

func TestConnectionFailureRetriedOnce(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)

		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijacking not supported", http.StatusInternalServerError)

			return
		}

		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	t.Cleanup(srv.Close)

	client, err := sentinelone.NewClient(sentinelone.Config{
		BaseURL:    srv.URL,
		APIToken:   sentinelonetest.Token,
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = client.CountAgents(context.Background(), sentinelone.AgentFilter{})
	require.ErrorIs(t, err, sentinelone.ErrTransientNetwork)
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, sentinelone.DefaultPageSize, sentinelone.ClampPageSize(0))
	assert.Equal(t, sentinelone.MaxPageSize, sentinelone.ClampPageSize(5000))
	assert.Equal(t, 50, sentinelone.ClampPageSize(50))
}
