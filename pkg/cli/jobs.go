package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/spf13/cobra"
)

func jobsCommand(a *app) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain the sync job ledger",
	}

	var (
		filter models.JobFilter
		tenant string
	)

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sync jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}

			if tenant != "" {
				t, err := a.store.GetTenantBySlug(cmd.Context(), tenant)
				if err != nil {
					return err
				}

				filter.TenantID = t.ID
			}

			filter.Type = models.SyncType(strings.ToUpper(string(filter.Type)))
			filter.Status = models.JobStatus(strings.ToUpper(string(filter.Status)))

			recent, err := l.Recent(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if recent == nil {
				recent = []models.SyncJob{}
			}

			return a.render(recent, func(w io.Writer) {
				row(w, "ID", "TENANT", "TYPE", "STATUS", "STARTED", "PROCESSED", "CREATED", "UPDATED", "FAILED", "ERROR")

				for i := range recent {
					j := &recent[i]
					row(w, j.ID, j.TenantID, j.Type, j.Status, j.StartedAt.Format(time.RFC3339),
						j.RecordsProcessed, j.RecordsCreated, j.RecordsUpdated, j.RecordsFailed, deref(j.ErrorMessage))
				}
			})
		},
	}

	lf := list.Flags()
	lf.StringVarP(&tenant, "tenant", "t", "", "Tenant slug")
	lf.StringVar((*string)(&filter.Type), "type", "", "agents or vulnerabilities")
	lf.StringVar((*string)(&filter.Status), "status", "", "running, completed or failed")
	lf.IntVar(&filter.Limit, "limit", 20, "Maximum jobs to list")

	var olderThan time.Duration

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished jobs older than a retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}

			retention := olderThan
			if retention <= 0 {
				retention = time.Duration(a.cfg.Sync.JobRetention)
			}

			n, err := l.Prune(cmd.Context(), retention)
			if err != nil {
				return err
			}

			return a.render(map[string]int64{"pruned": n}, func(w io.Writer) {
				fmt.Fprintf(w, "pruned %d jobs older than %s\n", n, retention)
			})
		},
	}

	prune.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window; defaults to sync.job_retention")

	var staleAfter time.Duration

	failRunning := &cobra.Command{
		Use:   "fail-running",
		Short: "Mark jobs left RUNNING by a crashed process as FAILED",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}

			n, err := l.FailStale(cmd.Context(), "marked failed by operator", staleAfter)
			if err != nil {
				return err
			}

			return a.render(map[string]int64{"failed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "marked %d jobs failed\n", n)
			})
		},
	}

	failRunning.Flags().DurationVar(&staleAfter, "older-than", 0,
		"Only fail jobs started longer ago than this; zero fails every RUNNING job")

	jobs.AddCommand(list, prune, failRunning)

	return jobs
}
