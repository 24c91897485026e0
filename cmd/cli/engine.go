package cli

import (
	"github.com/anstrom/netsweep/internal/arp"
	"github.com/anstrom/netsweep/internal/config"
	"github.com/anstrom/netsweep/internal/discovery"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
	"github.com/anstrom/netsweep/internal/oui"
	"github.com/anstrom/netsweep/internal/scanning"
)

// engine bundles the components every sweeping command needs.
type engine struct {
	expander *discovery.Expander
	sweeper  *scanning.Scheduler
}

// newEngine wires the probe pipeline from cfg. Probe metrics go to m.
func newEngine(cfg *config.Config, m metrics.MetricsRegistry) (*engine, error) {
	logger := logging.Default()
	opts := cfg.ScanOptions()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	vendors, classifier, err := oui.Load(cfg.Vendors.OUIFile, cfg.Vendors.MappingsFile)
	if err != nil {
		return nil, err
	}

	probeOpts := []scanning.ProbeOption{
		scanning.WithVendorTables(vendors, classifier),
		scanning.WithProbeMetrics(m),
		scanning.WithProbeLogger(logger.WithComponent("probe")),
		scanning.WithMACResolver(arp.NewSystemResolver(opts.ArpRetryCount, opts.ArpRetryDelay,
			arp.WithMetrics(m), arp.WithLogger(logger.WithComponent("arp")))),
	}
	if opts.ResolveHostnames {
		probeOpts = append(probeOpts, scanning.WithHostnameResolver(scanning.NewDNSResolver(
			scanning.WithDNSCacheTTL(cfg.Scanning.DNSCacheTTL),
			scanning.WithDNSMetrics(m),
		)))
	}

	sweeper, err := scanning.NewScheduler(opts, scanning.NewHostProbe(opts, probeOpts...),
		scanning.WithSchedulerMetrics(m),
		scanning.WithSchedulerLogger(logger.WithComponent("scanner")),
	)
	if err != nil {
		return nil, err
	}

	expander := discovery.NewExpander(
		discovery.WithMetrics(m),
		discovery.WithLogger(logger.WithComponent("discovery")),
	)

	return &engine{expander: expander, sweeper: sweeper}, nil
}
