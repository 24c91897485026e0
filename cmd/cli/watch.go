package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
	"github.com/anstrom/netsweep/internal/scanning"
	"github.com/anstrom/netsweep/internal/scheduler"
)

var (
	watchSchedule string
	watchAdapter  string
	watchRunNow   bool
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [entries...]",
	Short: "Re-run a sweep on a cron schedule",
	Long: `Re-run a sweep on a cron schedule and log every record it produces.

The schedule is a standard five-field cron expression or a descriptor such
as @hourly or "@every 15m". Entries are swept on each run; without entries
the subnets of --adapter, or of every eligible adapter, are discovered
again on each run. Settings from the watch section of the config file are
used for anything not given on the command line.`,
	Example: `  netsweep watch --schedule "*/15 * * * *" 192.168.1.0/24
  netsweep watch --schedule "@every 10m" --adapter eth0 --hide-offline
  netsweep watch --schedule @hourly --run-now`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchSchedule, "schedule", "s", "", "cron expression or descriptor such as '@every 15m'")
	watchCmd.Flags().StringVarP(&watchAdapter, "adapter", "a", "", "adapter whose subnets are swept")
	watchCmd.Flags().BoolVar(&watchRunNow, "run-now", false, "sweep once immediately instead of waiting for the first tick")
	addSweepFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSweepConfig(cmd)
	if err != nil {
		return err
	}

	schedule := cfg.Watch.Schedule
	if watchSchedule != "" {
		schedule = watchSchedule
	}
	if schedule == "" {
		return fmt.Errorf("no schedule given: pass --schedule or set watch.schedule")
	}

	jobConfig := scheduler.SweepJobConfig{Targets: cfg.Watch.Targets, Adapter: cfg.Watch.Adapter}
	if len(args) > 0 {
		jobConfig = scheduler.SweepJobConfig{Targets: args}
	}
	if watchAdapter != "" {
		jobConfig = scheduler.SweepJobConfig{Adapter: watchAdapter}
	}

	eng, err := newEngine(cfg, metrics.Default())
	if err != nil {
		return err
	}

	logger := logging.Default().WithComponent("watch")
	sched := scheduler.NewScheduler(eng.expander, eng.sweeper, recordLogger(logger, cfg.Scanning.HideOffline))

	job, err := sched.AddSweepJob("watch", schedule, jobConfig)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	logger.Info("Watching", "schedule", schedule, "targets", job.Config.Targets, "adapter", job.Config.Adapter)

	if watchRunNow {
		go func() {
			if err := sched.RunNow(job.ID); err != nil {
				logger.Error("Immediate sweep failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Stopping watch")
	return nil
}

// recordLogger returns a sink that logs each record of a scheduled sweep.
func recordLogger(logger *logging.Logger, hideOffline bool) scheduler.RecordSink {
	return func(job *scheduler.SweepJob, rec scanning.DeviceRecord) {
		if hideOffline && rec.Status == scanning.StatusOffline {
			return
		}
		fields := []any{
			"job", job.Name,
			"status", rec.Status,
			"hostname", rec.Hostname,
			"latency", rec.Latency,
		}
		if rec.Status == scanning.StatusOnline {
			fields = append(fields,
				"open_ports", rec.OpenPortsString(),
				"mac", rec.MAC,
				"vendor", rec.Vendor,
				"device_type", rec.DeviceType)
		}
		if rec.Error != "" {
			fields = append(fields, "error", rec.Error)
			logger.Warn("Host probe failed", append([]any{"target", rec.Target}, fields...)...)
			return
		}
		logger.InfoScan("Host swept", rec.Target, fields...)
	}
}
