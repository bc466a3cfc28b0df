package cli

import (
	"context"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/api"
	"github.com/mfreeman451/telemetrysync/pkg/events"
	"github.com/mfreeman451/telemetrysync/pkg/identity"
	"github.com/mfreeman451/telemetrysync/pkg/lifecycle"
	"github.com/mfreeman451/telemetrysync/pkg/poller"
	"github.com/spf13/cobra"
)

const orphanedJobMessage = "process exited before the job finished"

func serveCommand(a *app) *cobra.Command {
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and, when sync.interval is set, run scheduled syncs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if a.cfg.API.EventStream {
				a.hub = events.NewHub(a.logger)
			}

			o, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}

			// a.orchestrator opened all three
			store, client, jobLedger := a.store, a.client, a.jobs

			if _, err := jobLedger.FailStale(ctx, orphanedJobMessage, time.Duration(a.cfg.Sync.StaleJobAfter)); err != nil {
				return err
			}

			evaluator, err := a.evaluator(ctx)
			if err != nil {
				return err
			}

			deps := api.Dependencies{
				Syncer:  o,
				Ledger:  jobLedger,
				Tenants: store,
				Sites:   identity.NewResolver(store, client, a.logger),
				Windows: evaluator,
				Metrics: a.runMetrics(),
				Logger:  a.logger,
			}

			if a.hub != nil {
				deps.Events = a.hub
			}

			server := api.NewAPIServer(deps)

			services := []lifecycle.Service{
				server,
				lifecycle.NewHTTPService(a.cfg.API.ListenAddr, server, a.cfg.API.MaxConnections, a.logger),
			}

			if interval := time.Duration(a.cfg.Sync.Interval); interval > 0 {
				p, err := poller.New(poller.Config{
					Interval:     interval,
					JobRetention: time.Duration(a.cfg.Sync.JobRetention),
					RunOnStart:   runOnStart,
				}, o, jobLedger, a.logger)
				if err != nil {
					return err
				}

				services = append(services, p)
			}

			err = lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
				ServiceName: "telemetrysync",
				Services:    services,
				Logger:      a.logger,
			})

			// Jobs this process opened and never closed lost their runner.
			if _, failErr := jobLedger.FailOpen(context.WithoutCancel(ctx), orphanedJobMessage); failErr != nil {
				a.logger.Error().Err(failErr).Msg("Failed to close out running jobs")
			}

			return err
		},
	}

	cmd.Flags().BoolVar(&runOnStart, "sync-on-start", false, "Run a full sync immediately instead of waiting one interval")

	return cmd
}
