package identity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mfreeman451/telemetrysync/pkg/db"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone/sentinelonetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newStore(t *testing.T) *db.DB {
	t.Helper()

	store, err := db.New(context.Background(), filepath.Join(t.TempDir(), "identity.db"), zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestClassify(t *testing.T) {
	m := SiteMap{"s1": models.Tenant{ID: "t1", Slug: "acme"}}
	sites := []sentinelone.Site{{ID: "s1", Name: "Acme"}, {ID: "s2", Name: "Globex"}}

	c := Classify(sites, m)
	require.Len(t, c.Mapped, 1)
	require.Len(t, c.Unmapped, 1)
	assert.Equal(t, "acme", c.Mapped[0].Tenant.Slug)
	assert.Equal(t, "s2", c.Unmapped[0].ID)

	assert.Empty(t, m.Only("globex"))
	assert.Equal(t, []string{"s1"}, m.Only("acme").SiteIDs())
}

func TestBuildSiteToTenantMap(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	site := "site-1"
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{Slug: "acme", Name: "Acme", SentinelOneSiteID: &site}))
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{Slug: "internal", Name: "Internal"}))

	r := NewResolver(store, nil, zerolog.Nop())

	m, err := r.BuildSiteToTenantMap(ctx)
	require.NoError(t, err)
	require.Len(t, m, 1)

	tenant, ok := m.Resolve("site-1")
	require.True(t, ok)
	assert.Equal(t, "acme", tenant.Slug)
}

func TestDiagnoseUnmapped(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	site := "site-1"
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{Slug: "acme", Name: "Acme", SentinelOneSiteID: &site}))

	srv := sentinelonetest.NewServer(t)
	srv.AddSites(sentinelonetest.Site("site-1", "Acme"), sentinelonetest.Site("site-2", "Globex Corp"))
	srv.AddAgents(
		sentinelonetest.Agent("a1", "ws-01", "site-1"),
		sentinelonetest.Agent("a2", "gx-01", "site-2"),
		sentinelonetest.Agent("a3", "gx-02", "site-2"),
	)

	client, err := sentinelone.NewClient(srv.Config())
	require.NoError(t, err)

	unmapped, err := NewResolver(store, client, zerolog.Nop()).DiagnoseUnmapped(ctx)
	require.NoError(t, err)
	require.Len(t, unmapped, 1)
	assert.Equal(t, "Globex Corp", unmapped[0].Site.Name)
	assert.Equal(t, 2, unmapped[0].AgentCount)
}

func TestDiagnoseUnmappedCountFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := sentinelone.NewMockClient(ctrl)
	store := newStore(t)

	client.EXPECT().ListSites(gomock.Any(), gomock.Any()).Return(
		sentinelone.NewPageIterator(func(context.Context, string) (*sentinelone.Page[sentinelone.Site], error) {
			return &sentinelone.Page[sentinelone.Site]{Items: []sentinelone.Site{{ID: "s9", Name: "Orphan"}}}, nil
		}))
	client.EXPECT().CountAgents(gomock.Any(), sentinelone.AgentFilter{SiteIDs: []string{"s9"}}).
		Return(0, &sentinelone.APIError{StatusCode: 500})

	unmapped, err := NewResolver(store, client, zerolog.Nop()).DiagnoseUnmapped(context.Background())
	require.NoError(t, err)
	require.Len(t, unmapped, 1)
	assert.Equal(t, UnknownAgentCount, unmapped[0].AgentCount)
}

func TestCreateTenantsForSitesWithTheSameName(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	srv := sentinelonetest.NewServer(t)
	srv.AddSites(
		sentinelonetest.Site("site-1", "Acme Inc"),
		sentinelonetest.Site("site-2", "Acme Inc"),
	)

	client, err := sentinelone.NewClient(srv.Config())
	require.NoError(t, err)

	r := NewResolver(store, client, zerolog.Nop())

	planned, err := r.CreateTenantsForUnmapped(ctx, true)
	require.NoError(t, err)
	require.Len(t, planned, 2)
	assert.Equal(t, "acme-inc", planned[0].Slug)
	assert.Equal(t, "acme-inc-1", planned[1].Slug)

	created, err := r.CreateTenantsForUnmapped(ctx, false)
	require.NoError(t, err)
	require.Len(t, created, 2)

	slugs := map[string]string{}
	for _, tenant := range created {
		require.NotNil(t, tenant.SentinelOneSiteID)
		slugs[*tenant.SentinelOneSiteID] = tenant.Slug
	}

	assert.Equal(t, map[string]string{"site-1": "acme-inc", "site-2": "acme-inc-1"}, slugs)
}

func TestCreateTenantsForUnmapped(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{Slug: "acme-inc", Name: "Legacy"}))

	srv := sentinelonetest.NewServer(t)
	srv.AddSites(
		sentinelonetest.Site("site-1", "Acme Inc"),
		sentinelonetest.Site("site-2", "Acme, Inc."),
	)

	client, err := sentinelone.NewClient(srv.Config())
	require.NoError(t, err)

	r := NewResolver(store, client, zerolog.Nop())

	planned, err := r.CreateTenantsForUnmapped(ctx, true)
	require.NoError(t, err)
	require.Len(t, planned, 2)
	assert.Equal(t, "acme-inc-1", planned[0].Slug)
	assert.Equal(t, "acme-inc-2", planned[1].Slug)

	mapped, err := store.ListMappedTenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, mapped, "dry run writes nothing")

	created, err := r.CreateTenantsForUnmapped(ctx, false)
	require.NoError(t, err)
	require.Len(t, created, 2)

	mapped, err = store.ListMappedTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, mapped, 2)

	again, err := r.CreateTenantsForUnmapped(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, again, "all sites are mapped now")
}
