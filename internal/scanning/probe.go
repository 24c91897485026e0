package scanning

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/anstrom/netsweep/internal/arp"
	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
	"github.com/anstrom/netsweep/internal/oui"
)

// Probe stages, used as the operation of a host fault.
const (
	stagePing     = "ping"
	stagePorts    = "ports"
	stageMAC      = "mac"
	stageVendor   = "vendor"
	stageInternal = "panic"
)

// Prober produces the record for one target. Implementations never
// return a partially filled record and never panic into the caller.
type Prober interface {
	Probe(ctx context.Context, target string) DeviceRecord
}

// HostProbe runs the per-host pipeline: ping, reverse DNS, TCP port scan,
// MAC resolution and vendor classification.
type HostProbe struct {
	opts       ScanOptions
	pinger     Pinger
	resolver   HostnameResolver
	ports      PortScanner
	mac        arp.Resolver
	vendors    *oui.Database
	classifier *oui.Classifier
	metrics    metrics.MetricsRegistry
	logger     *logging.Logger
	now        func() time.Time
}

// ProbeOption configures a HostProbe.
type ProbeOption func(*HostProbe)

// WithPinger replaces the ICMP pinger.
func WithPinger(p Pinger) ProbeOption {
	return func(h *HostProbe) { h.pinger = p }
}

// WithHostnameResolver replaces the reverse DNS resolver.
func WithHostnameResolver(r HostnameResolver) ProbeOption {
	return func(h *HostProbe) { h.resolver = r }
}

// WithPortScanner replaces the port scanner selected by ScanOptions.
func WithPortScanner(s PortScanner) ProbeOption {
	return func(h *HostProbe) { h.ports = s }
}

// WithMACResolver replaces the system ARP resolver.
func WithMACResolver(r arp.Resolver) ProbeOption {
	return func(h *HostProbe) { h.mac = r }
}

// WithVendorTables replaces the embedded OUI registry and vendor mappings.
func WithVendorTables(db *oui.Database, c *oui.Classifier) ProbeOption {
	return func(h *HostProbe) {
		h.vendors = db
		h.classifier = c
	}
}

// WithProbeMetrics records probe outcomes into m.
func WithProbeMetrics(m metrics.MetricsRegistry) ProbeOption {
	return func(h *HostProbe) { h.metrics = m }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *logging.Logger) ProbeOption {
	return func(h *HostProbe) { h.logger = l }
}

// WithClock sets the source of record timestamps.
func WithClock(now func() time.Time) ProbeOption {
	return func(h *HostProbe) { h.now = now }
}

// NewHostProbe builds a probe for opts. Dependencies not supplied through
// options are backed by the system: pro-bing, resolv.conf name servers,
// the kernel neighbor table and the embedded vendor tables.
func NewHostProbe(opts ScanOptions, options ...ProbeOption) *HostProbe {
	h := &HostProbe{
		opts:    opts,
		metrics: metrics.Noop{},
		logger:  logging.Default().WithComponent("probe"),
		now:     time.Now,
	}
	for _, opt := range options {
		opt(h)
	}

	if h.pinger == nil {
		h.pinger = NewICMPPinger()
	}
	if h.resolver == nil && opts.ResolveHostnames {
		h.resolver = NewDNSResolver(WithDNSMetrics(h.metrics))
	}
	if h.ports == nil {
		if opts.PortScanner == PortScannerNmap {
			h.ports = NewNmapScanner("")
		} else {
			h.ports = NewConnectScanner()
		}
	}
	if h.mac == nil {
		h.mac = arp.NewSystemResolver(opts.ArpRetryCount, opts.ArpRetryDelay,
			arp.WithMetrics(h.metrics), arp.WithLogger(h.logger))
	}
	if h.vendors == nil {
		h.vendors = oui.DefaultDatabase()
	}
	if h.classifier == nil {
		h.classifier = oui.DefaultClassifier()
	}
	return h
}

// Probe implements Prober. Faults and panics after the echo reply end the
// record in StatusError; cancellation ends it in StatusCanceled.
func (h *HostProbe) Probe(ctx context.Context, target string) (rec DeviceRecord) {
	start := time.Now()
	rec = newRecord(target, h.now())

	defer func() {
		if r := recover(); r != nil {
			h.fail(&rec, stageInternal, fmt.Errorf("panic: %v", r))
		}
		if rec.Status != StatusOnline {
			rec.OpenPorts = nil
		}

		status := string(rec.Status)
		h.metrics.Counter(metrics.MetricHostsProbed, metrics.Labels{metrics.LabelStatus: status})
		h.metrics.Histogram(metrics.MetricProbeDuration, time.Since(start).Seconds(),
			metrics.Labels{metrics.LabelStatus: status})
		h.logger.DebugProbe(target, status, "latency", rec.Latency, "duration", time.Since(start))
	}()

	if err := h.run(ctx, &rec); err != nil {
		if isCanceled(ctx, err) {
			rec.Status = StatusCanceled
			return rec
		}
		var fault *stageError
		if stderrors.As(err, &fault) {
			h.fail(&rec, fault.stage, fault.err)
		} else {
			h.fail(&rec, stageInternal, err)
		}
	}
	return rec
}

func (h *HostProbe) run(ctx context.Context, rec *DeviceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reply, err := h.pinger.Ping(ctx, rec.Target, h.opts.PingTimeout)
	if err != nil {
		return &stageError{stage: stagePing, err: err}
	}
	if reply == nil {
		rec.Status = StatusOffline
		return nil
	}

	rec.Status = StatusOnline
	rec.Latency = formatLatency(reply.RTT)
	rec.TTL = reply.TTL
	rec.ReplyIP = reply.Addr
	if rec.ReplyIP == "" {
		rec.ReplyIP = rec.Target
	}

	if h.resolver != nil {
		if name, err := h.resolver.LookupAddr(ctx, rec.ReplyIP); err == nil && name != "" {
			rec.Hostname = name
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	open, err := h.ports.Scan(ctx, rec.Target, h.opts.Ports, h.opts.PortTimeout)
	if err != nil {
		return &stageError{stage: stagePorts, err: err}
	}
	rec.OpenPorts = open
	for _, p := range open {
		h.metrics.Counter(metrics.MetricPortsOpen, metrics.Labels{metrics.LabelPort: strconv.Itoa(p)})
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	mac, err := h.mac.Resolve(ctx, rec.ReplyIP)
	if err != nil {
		if isCanceled(ctx, err) {
			return err
		}
		rec.MAC = unresolvedMAC
		rec.Vendor = oui.NotAvailable
		rec.DeviceType = unknownDeviceType
		return nil
	}
	rec.MAC = mac

	return h.classify(rec)
}

func (h *HostProbe) classify(rec *DeviceRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &stageError{stage: stageVendor, err: fmt.Errorf("panic: %v", r)}
		}
	}()

	rec.Vendor = h.vendors.Lookup(rec.MAC)
	rec.DeviceType = h.classifier.Classify(rec.Vendor)
	return nil
}

func (h *HostProbe) fail(rec *DeviceRecord, stage string, err error) {
	rec.Status = StatusError
	rec.Latency = err.Error()
	rec.Error = err.Error()

	h.metrics.Counter(metrics.MetricProbeFaults, metrics.Labels{metrics.LabelStage: stage})
	h.logger.ErrorScan("probe failed", rec.Target, errors.ErrHostFault(rec.Target, stage, err))
}

// stageError tags a fault with the pipeline stage it came from.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func isCanceled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return stderrors.Is(err, context.Canceled) || errors.IsCode(err, errors.CodeCanceled)
}
