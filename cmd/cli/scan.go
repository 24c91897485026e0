package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/netsweep/internal/config"
	"github.com/anstrom/netsweep/internal/discovery"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
)

const maxPort = 65535

var (
	scanFile    string
	scanPorts   string
	scanNoDNS   bool
	hideOffline bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [entries...]",
	Short: "Sweep addresses, ranges and subnets",
	Long: `Ping every target, then report open ports, reverse DNS name, MAC address,
vendor and device type for the hosts that answer.

Entries are addresses or hostnames (192.168.1.10, printer.lan), dash ranges
(192.168.1.5-192.168.1.20) or CIDR blocks up to /16 (10.0.0.0/24). Entries
can also be read from a file with one entry per line; blank lines and lines
starting with # are ignored. Press Ctrl-C to cancel a running sweep.`,
	Example: `  netsweep scan 192.168.1.0/24
  netsweep scan 192.168.1.5-192.168.1.20 --ports 22,80,443
  netsweep scan --file targets.txt --hide-offline
  netsweep scan 10.0.0.1 printer.lan -o json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanFile, "file", "f", "", "read entries from a file, one per line")
	addSweepFlags(scanCmd)
}

// addSweepFlags registers the probe flags shared by scan, discover and watch.
func addSweepFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&scanPorts, "ports", "p", "", "ports to probe on online hosts, e.g. '22,80,8000-8010'")
	cmd.Flags().BoolVar(&hideOffline, "hide-offline", false, "omit hosts that did not answer")
	cmd.Flags().BoolVar(&scanNoDNS, "no-dns", false, "skip reverse DNS lookups")
	cmd.Flags().Int("concurrency", 0, "hosts probed at the same time")
	cmd.Flags().Duration("ping-timeout", 0, "ICMP echo timeout per host")
	cmd.Flags().Duration("port-timeout", 0, "TCP connect timeout per port")
	cmd.Flags().String("port-scanner", "", "port scanner backend: connect or nmap")
}

// loadSweepConfig loads the config for a sweeping command and applies the
// flags that do not map onto a single config key.
func loadSweepConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("ports") {
		ports, err := parsePorts(scanPorts)
		if err != nil {
			return nil, fmt.Errorf("invalid port specification '%s': %w", scanPorts, err)
		}
		cfg.Scanning.Ports = ports
	}
	if scanNoDNS {
		cfg.Scanning.ResolveHostnames = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	entries := append([]string(nil), args...)
	if scanFile != "" {
		fromFile, err := discovery.ReadTargetsFile(scanFile)
		if err != nil {
			return err
		}
		entries = append(entries, fromFile...)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no targets given: pass entries or --file")
	}

	return runSweep(cmd, func(eng *engine) ([]string, error) {
		return eng.expander.Expand(entries)
	})
}

// runSweep loads the config, resolves targets and prints one record per
// target. Ctrl-C cancels the sweep; records already produced are still
// printed.
func runSweep(cmd *cobra.Command, resolve func(*engine) ([]string, error)) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSweepConfig(cmd)
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, metrics.Default())
	if err != nil {
		return err
	}

	targets, err := resolve(eng)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("nothing to sweep: targets expanded to no addresses")
	}

	logger := logging.Default().WithComponent("cli")
	logger.Debug("Sweep starting", "targets", len(targets), "ports", cfg.Scanning.Ports)

	stats, err := sweepAndPrint(ctx, eng.sweeper, targets, cmd.OutOrStdout(), cfg.Scanning.HideOffline)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Sweep canceled after %d of %d hosts\n", stats.Records, len(targets))
		return nil
	}
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Swept %d hosts: %d online, %d hidden\n",
			stats.Records, stats.Online, stats.Hidden)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parsePorts parses "22,80,8000-8010" into a port list in the given order.
func parsePorts(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty port specification")
	}

	var ports []int
	seen := make(map[int]bool)
	add := func(p int) {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Check for range (e.g., "80-443")
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parsePort(lo)
			if err != nil {
				return nil, err
			}
			end, err := parsePort(hi)
			if err != nil {
				return nil, err
			}
			if start > end {
				return nil, fmt.Errorf("invalid port range %s", part)
			}
			for p := start; p <= end; p++ {
				add(p)
			}
			continue
		}

		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		add(p)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("empty port specification")
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < 1 || p > maxPort {
		return 0, fmt.Errorf("port %d out of range 1-%d", p, maxPort)
	}
	return p, nil
}
