package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/syncer"
	"github.com/spf13/cobra"
)

func syncCommand(a *app) *cobra.Command {
	var scope syncer.Scope

	cmd := &cobra.Command{
		Use:       "sync [all|agents|cves]",
		Short:     "Run a sync against the upstream console",
		ValidArgs: []string{"all", "agents", "cves"},
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		Example: `
		$ telemetrysync sync agents --tenant acme
		$ telemetrysync sync -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "all"
			if len(args) > 0 {
				kind = args[0]
			}

			o, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}

			switch kind {
			case "agents":
				summary, err := o.RunAgents(cmd.Context(), scope)
				if err != nil {
					return err
				}

				return a.render(summary, func(w io.Writer) { summaryTable(w, summary) })
			case "cves":
				summary, err := o.RunVulnerabilitiesWithRetry(cmd.Context(), scope)
				if err != nil {
					return err
				}

				return a.render(summary, func(w io.Writer) { summaryTable(w, summary) })
			default:
				all, err := o.RunAll(cmd.Context(), scope)
				if all != nil {
					if renderErr := a.render(all, func(w io.Writer) {
						summaryTable(w, all.Agents)
						summaryTable(w, all.Vulnerabilities)
					}); renderErr != nil {
						return renderErr
					}
				}

				return err
			}
		},
	}

	cmd.Flags().StringVarP(&scope.TenantSlug, "tenant", "t", "", "Only sync the tenant with this slug")

	return cmd
}

func summaryTable(w io.Writer, s *syncer.Summary) {
	if s == nil {
		return
	}

	fmt.Fprintf(w, "%s sync: %d pages, %d processed in %s\n", s.Type, s.Pages, s.Processed, s.Duration.Round(time.Millisecond))

	if s.Resolved > 0 {
		fmt.Fprintf(w, "resolved findings: %d\n", s.Resolved)
	}

	row(w, "TENANT", "JOB", "PROCESSED", "CREATED", "UPDATED", "UNCHANGED", "SKIPPED", "FAILED")

	slugs := make([]string, 0, len(s.ByTenant))
	for slug := range s.ByTenant {
		slugs = append(slugs, slug)
	}

	sort.Strings(slugs)

	for _, slug := range slugs {
		c := s.ByTenant[slug]
		row(w, slug, c.JobID, c.Processed, c.Created, c.Updated, c.Unchanged, c.Skipped, c.Failed)
	}

	for reason, n := range s.SkipReasons {
		fmt.Fprintf(w, "skipped (%s): %d\n", reason, n)
	}

	fmt.Fprintln(w)
}
