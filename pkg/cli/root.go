// Package cli implements the telemetrysync command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

type options struct {
	configPath string
	logLevel   string
	output     string
}

// Execute runs the command line with args. Output goes to out, logs to errOut.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := newApp(out, errOut)

	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	return root.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "telemetrysync",
		Short: "Synchronize endpoint telemetry from SentinelOne into tenant-scoped storage",
		Long: `
		telemetrysync pulls agents and CVE findings from a SentinelOne console,
		maps every upstream site to a tenant, scores endpoint compliance and keeps
		an audit ledger of every sync run.
		`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.opts.output != outputTable && a.opts.output != outputJSON {
				return fmt.Errorf("unknown output format %q", a.opts.output)
			}

			return a.init()
		},
	}

	fl := root.PersistentFlags()

	globalFlags := pflag.NewFlagSet("Global", pflag.ContinueOnError)
	globalFlags.StringVarP(&a.opts.configPath, "config", "c", "", "Path to a JSON or YAML configuration file")
	globalFlags.StringVar(&a.opts.logLevel, "log-level", "", "Override the configured log level")
	globalFlags.StringVarP(&a.opts.output, "output", "o", outputTable, "Output format: table or json")
	fl.AddFlagSet(globalFlags)

	root.AddCommand(
		syncCommand(a),
		sitesCommand(a),
		tenantsCommand(a),
		windowsCommand(a),
		jobsCommand(a),
		serveCommand(a),
	)

	return root
}
