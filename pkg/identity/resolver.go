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

// Package identity reconciles upstream sites with local tenants.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mfreeman451/telemetrysync/pkg/db"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/rs/zerolog"
)

// UnknownAgentCount marks an unmapped site whose agent count could not be fetched.
const UnknownAgentCount = -1

// SiteMap maps an upstream site id to the tenant that owns it.
type SiteMap map[string]models.Tenant

// Resolve returns the tenant for siteID.
func (m SiteMap) Resolve(siteID string) (models.Tenant, bool) {
	tenant, ok := m[siteID]

	return tenant, ok
}

// SiteIDs returns the mapped site ids in sorted order.
func (m SiteMap) SiteIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Tenants returns the mapped tenants ordered by slug.
func (m SiteMap) Tenants() []models.Tenant {
	tenants := make([]models.Tenant, 0, len(m))
	for _, t := range m {
		tenants = append(tenants, t)
	}

	sort.Slice(tenants, func(i, j int) bool { return tenants[i].Slug < tenants[j].Slug })

	return tenants
}

// Only narrows the map to the tenant with the given slug.
func (m SiteMap) Only(slug string) SiteMap {
	narrowed := make(SiteMap)

	for siteID, t := range m {
		if t.Slug == slug {
			narrowed[siteID] = t
		}
	}

	return narrowed
}

// MappedSite pairs an upstream site with its tenant.
type MappedSite struct {
	Site   sentinelone.Site `json:"site"`
	Tenant models.Tenant    `json:"tenant"`
}

// Classification splits sites into mapped and unmapped.
type Classification struct {
	Mapped   []MappedSite       `json:"mapped"`
	Unmapped []sentinelone.Site `json:"unmapped"`
}

// UnmappedSite is a site with no tenant plus enough context for an operator to act.
type UnmappedSite struct {
	Site       sentinelone.Site `json:"site"`
	AgentCount int              `json:"agent_count"`
}

// Classify partitions sites against m, preserving input order.
func Classify(sites []sentinelone.Site, m SiteMap) Classification {
	var c Classification

	for _, site := range sites {
		if tenant, ok := m.Resolve(site.ID); ok {
			c.Mapped = append(c.Mapped, MappedSite{Site: site, Tenant: tenant})

			continue
		}

		c.Unmapped = append(c.Unmapped, site)
	}

	return c
}

// Resolver builds site maps and remediates unmapped sites.
type Resolver struct {
	store  TenantStore
	client sentinelone.Client
	logger zerolog.Logger
}

// NewResolver returns a Resolver.
func NewResolver(store TenantStore, client sentinelone.Client, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		client: client,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// BuildSiteToTenantMap loads every tenant that carries a site id.
func (r *Resolver) BuildSiteToTenantMap(ctx context.Context) (SiteMap, error) {
	tenants, err := r.store.ListMappedTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mapped tenants: %w", err)
	}

	m := make(SiteMap, len(tenants))

	for _, t := range tenants {
		m[t.SiteID()] = t
	}

	return m, nil
}

// ClassifySites lists every upstream site and classifies it against the current map.
func (r *Resolver) ClassifySites(ctx context.Context) (Classification, error) {
	m, err := r.BuildSiteToTenantMap(ctx)
	if err != nil {
		return Classification{}, err
	}

	sites, err := r.client.ListSites(ctx, sentinelone.SiteFilter{}).Collect(ctx)
	if err != nil {
		return Classification{}, fmt.Errorf("list sites: %w", err)
	}

	return Classify(sites, m), nil
}

// DiagnoseUnmapped reports every unmapped site with its agent count. A failed
// count is logged and reported as UnknownAgentCount.
func (r *Resolver) DiagnoseUnmapped(ctx context.Context) ([]UnmappedSite, error) {
	c, err := r.ClassifySites(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]UnmappedSite, 0, len(c.Unmapped))

	for _, site := range c.Unmapped {
		count, err := r.client.CountAgents(ctx, sentinelone.AgentFilter{SiteIDs: []string{site.ID}})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			r.logger.Warn().Err(err).Str("site_id", site.ID).Msg("Failed to count agents for unmapped site")

			count = UnknownAgentCount
		}

		r.logger.Warn().
			Str("site_id", site.ID).
			Str("site_name", site.Name).
			Int("agent_count", count).
			Msg("Site has no tenant mapping")

		out = append(out, UnmappedSite{Site: site, AgentCount: count})
	}

	r.logger.Info().
		Int("mapped", len(c.Mapped)).
		Int("unmapped", len(c.Unmapped)).
		Msg("Site classification complete")

	return out, nil
}

// CreateTenantsForUnmapped creates one tenant per unmapped site. With dryRun
// the tenants are planned, including slugs, but not written.
func (r *Resolver) CreateTenantsForUnmapped(ctx context.Context, dryRun bool) ([]models.Tenant, error) {
	c, err := r.ClassifySites(ctx)
	if err != nil {
		return nil, err
	}

	planned := make(map[string]bool)

	exists := func(ctx context.Context, slug string) (bool, error) {
		if planned[slug] {
			return true, nil
		}

		return r.store.TenantSlugExists(ctx, slug)
	}

	created := make([]models.Tenant, 0, len(c.Unmapped))

	for _, site := range c.Unmapped {
		tenant, err := r.createTenant(ctx, site, exists, dryRun)
		if err != nil {
			return created, err
		}

		planned[tenant.Slug] = true
		created = append(created, *tenant)

		r.logger.Info().
			Str("site_id", site.ID).
			Str("slug", tenant.Slug).
			Bool("dry_run", dryRun).
			Msg("Tenant created for unmapped site")
	}

	return created, nil
}

func (r *Resolver) createTenant(
	ctx context.Context, site sentinelone.Site, exists SlugExistsFunc, dryRun bool) (*models.Tenant, error) {
	siteID := site.ID

	// One more pass covers a slug taken concurrently between check and insert.
	for attempt := 0; attempt < 2; attempt++ {
		slug, err := UniqueSlug(ctx, exists, Slugify(site.Name))
		if err != nil {
			return nil, err
		}

		tenant := &models.Tenant{Slug: slug, Name: site.Name, SentinelOneSiteID: &siteID}
		if dryRun {
			return tenant, nil
		}

		err = r.store.CreateTenant(ctx, tenant)
		if err == nil {
			return tenant, nil
		}

		if !errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("create tenant for site %s: %w", site.ID, err)
		}
	}

	return nil, fmt.Errorf("create tenant for site %s: %w", site.ID, db.ErrConflict)
}
