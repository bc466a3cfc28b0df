package cli

import (
	"io"

	"github.com/mfreeman451/telemetrysync/pkg/identity"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/spf13/cobra"
)

func sitesCommand(a *app) *cobra.Command {
	sites := &cobra.Command{
		Use:   "sites",
		Short: "Inspect how upstream sites map to tenants",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every upstream site and its tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}

			c, err := r.ClassifySites(cmd.Context())
			if err != nil {
				return err
			}

			return a.render(c, func(w io.Writer) {
				row(w, "SITE", "NAME", "TENANT")

				for _, m := range c.Mapped {
					row(w, m.Site.ID, m.Site.Name, m.Tenant.Slug)
				}

				for _, s := range c.Unmapped {
					row(w, s.ID, s.Name, "-")
				}
			})
		},
	}

	diagnose := &cobra.Command{
		Use:   "diagnose",
		Short: "List upstream sites with no tenant and how many agents they hold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}

			unmapped, err := r.DiagnoseUnmapped(cmd.Context())
			if err != nil {
				return err
			}

			if unmapped == nil {
				unmapped = []identity.UnmappedSite{}
			}

			return a.render(unmapped, func(w io.Writer) {
				row(w, "SITE", "NAME", "ACCOUNT", "AGENTS")

				for _, u := range unmapped {
					row(w, u.Site.ID, u.Site.Name, u.Site.AccountName, u.AgentCount)
				}
			})
		},
	}

	var dryRun bool

	createTenants := &cobra.Command{
		Use:   "create-tenants",
		Short: "Create one tenant per unmapped site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}

			created, err := r.CreateTenantsForUnmapped(cmd.Context(), dryRun)

			if renderErr := a.render(created, func(w io.Writer) {
				row(w, "SLUG", "NAME", "SITE", "ID")

				for i := range created {
					t := &created[i]

					id := t.ID
					if dryRun {
						id = "(dry run)"
					}

					row(w, t.Slug, t.Name, t.SiteID(), id)
				}
			}); renderErr != nil {
				return renderErr
			}

			return err
		},
	}

	createTenants.Flags().BoolVar(&dryRun, "dry-run", false, "Plan tenants and slugs without writing them")

	sites.AddCommand(list, diagnose, createTenants)

	return sites
}

func tenantsCommand(a *app) *cobra.Command {
	tenants := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.db(cmd.Context())
			if err != nil {
				return err
			}

			all, err := store.ListTenants(cmd.Context())
			if err != nil {
				return err
			}

			return a.render(all, func(w io.Writer) {
				row(w, "SLUG", "NAME", "SITE", "ID")

				for i := range all {
					row(w, all[i].Slug, all[i].Name, deref(all[i].SentinelOneSiteID), all[i].ID)
				}
			})
		},
	}

	var (
		tenant models.Tenant
		siteID string
	)

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a tenant, optionally mapped to an upstream site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.db(cmd.Context())
			if err != nil {
				return err
			}

			if tenant.Slug == "" {
				tenant.Slug, err = identity.UniqueSlug(cmd.Context(), store.TenantSlugExists, identity.Slugify(tenant.Name))
				if err != nil {
					return err
				}
			}

			if siteID != "" {
				tenant.SentinelOneSiteID = &siteID
			}

			if err := store.CreateTenant(cmd.Context(), &tenant); err != nil {
				return err
			}

			return a.render(tenant, func(w io.Writer) {
				row(w, "SLUG", "NAME", "SITE", "ID")
				row(w, tenant.Slug, tenant.Name, deref(tenant.SentinelOneSiteID), tenant.ID)
			})
		},
	}

	add.Flags().StringVar(&tenant.Name, "name", "", "Display name")
	add.Flags().StringVar(&tenant.Slug, "slug", "", "URL-safe identifier; derived from the name when empty")
	add.Flags().StringVar(&siteID, "site", "", "Upstream site id to map")
	_ = add.MarkFlagRequired("name")

	tenants.AddCommand(list, add)

	return tenants
}
