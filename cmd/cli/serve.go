package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/netsweep/internal/api"
	"github.com/anstrom/netsweep/internal/api/handlers"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
	"github.com/anstrom/netsweep/internal/scheduler"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server in the foreground.

The server exposes health, version and adapter endpoints under /api/v1,
streams sweeps over a websocket at /api/v1/scan/ws and serves Prometheus
metrics. When watch.schedule is set in the config file the scheduled
sweep runs alongside the server.`,
	Example: `  netsweep serve
  netsweep serve --listen 0.0.0.0 --port 9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "address to listen on")
	serveCmd.Flags().Int("port", 0, "port to listen on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	handlers.SetBuildInfo(version, commit, buildTime)

	promMetrics := metrics.NewPrometheusMetrics()
	promMetrics.SetEnabled(cfg.Metrics.Enabled)

	eng, err := newEngine(cfg, promMetrics)
	if err != nil {
		return err
	}

	logger := logging.Default().WithComponent("serve")

	if cfg.Watch.Schedule != "" {
		sched := scheduler.NewScheduler(eng.expander, eng.sweeper, recordLogger(logger, cfg.Scanning.HideOffline))
		if _, err := sched.AddSweepJob("watch", cfg.Watch.Schedule, scheduler.SweepJobConfig{
			Targets: cfg.Watch.Targets,
			Adapter: cfg.Watch.Adapter,
		}); err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	server, err := api.New(cfg, api.Dependencies{
		Targets: eng.expander,
		Sweeper: eng.sweeper,
		Gate:    eng.sweeper.Gate(),
		Metrics: promMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "API server listening on %s\n", server.GetAddress())
	return server.Start(ctx)
}
