package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/winver"
	"github.com/spf13/cobra"
)

var errTenantRequired = errors.New("--tenant is required")

func windowsCommand(a *app) *cobra.Command {
	windows := &cobra.Command{
		Use:   "windows",
		Short: "Windows version compliance",
	}

	seed := &cobra.Command{
		Use:   "seed-registry",
		Short: "Load the bundled Windows build registry into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.db(cmd.Context())
			if err != nil {
				return err
			}

			n, err := winver.SeedRegistry(cmd.Context(), store)
			if err != nil {
				return err
			}

			return a.render(map[string]int{"seeded": n}, func(w io.Writer) {
				fmt.Fprintf(w, "seeded %d windows builds\n", n)
			})
		},
	}

	var (
		tenant    string
		endpoints []string
	)

	evaluate := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a tenant's Windows endpoints against its active policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenant == "" {
				return errTenantRequired
			}

			e, err := a.evaluator(cmd.Context())
			if err != nil {
				return err
			}

			report, err := e.EvaluateTenant(cmd.Context(), tenant, endpoints)
			if err != nil {
				return err
			}

			return a.render(report, func(w io.Writer) {
				fmt.Fprintf(w, "policy %s: %d evaluated, %d compliant, %d non-compliant, %d skipped, %d failed\n",
					report.PolicyName, report.Evaluated, report.Compliant, report.NonCompliant, report.Skipped, report.Failed)
				row(w, "HOSTNAME", "VERSION", "BUILD", "EDITION", "COMPLIANT", "SCORE", "REASONS")

				for _, r := range report.Results {
					version := fmt.Sprintf("Windows %s %s", r.Detected.Major, r.Detected.FeatureUpdate)
					row(w, r.Hostname, version, r.Detected.Build, r.Detected.Edition, r.IsCompliant, r.Score,
						strings.Join(r.Reasons, ","))
				}
			})
		},
	}

	evaluate.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant slug")
	evaluate.Flags().StringSliceVar(&endpoints, "endpoint", nil, "Only evaluate these endpoint ids")

	windows.AddCommand(seed, evaluate, policyCommand(a))

	return windows
}

func policyCommand(a *app) *cobra.Command {
	var (
		tenant     string
		policy     models.WindowsCompliancePolicy
		maxAgeDays int
	)

	add := &cobra.Command{
		Use:   "add-policy",
		Short: "Create a Windows compliance policy for a tenant",
		Example: `
		$ telemetrysync windows add-policy --tenant acme --name baseline \
			--require-supported --allowed-version "Windows 11" --max-build-age-days 90`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenant == "" {
				return errTenantRequired
			}

			store, err := a.db(cmd.Context())
			if err != nil {
				return err
			}

			t, err := store.GetTenantBySlug(cmd.Context(), tenant)
			if err != nil {
				return err
			}

			policy.TenantID = t.ID
			policy.IsActive = true

			if cmd.Flags().Changed("max-build-age-days") {
				policy.MaxBuildAgeDays = &maxAgeDays
			}

			if err := store.CreateWindowsPolicy(cmd.Context(), &policy); err != nil {
				return err
			}

			return a.render(policy, func(w io.Writer) {
				row(w, "ID", "TENANT", "NAME", "PRIORITY")
				row(w, policy.ID, tenant, policy.Name, policy.Priority)
			})
		},
	}

	fl := add.Flags()
	fl.StringVarP(&tenant, "tenant", "t", "", "Tenant slug")
	fl.StringVar(&policy.Name, "name", "default", "Policy name")
	fl.IntVar(&policy.Priority, "priority", 100, "Lower values win when several policies are active")
	fl.BoolVar(&policy.RequireSupported, "require-supported", true, "Fail builds out of vendor support")
	fl.BoolVar(&policy.RequireLatestBuild, "require-latest-build", false, "Fail builds behind the newest of their feature update")
	fl.StringSliceVar(&policy.AllowedVersions, "allowed-version", nil, `Allowed versions, e.g. "Windows 11" or "Windows 11 23H2"`)
	fl.StringSliceVar(&policy.AllowedEditions, "allowed-edition", nil, "Allowed editions, e.g. Pro or Enterprise")
	fl.IntVar(&maxAgeDays, "max-build-age-days", 0, "Fail builds released more than this many days ago")

	return add
}
