package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const (
	namespace = "netsweep"

	subsystemScan      = "scan"
	subsystemProbe     = "probe"
	subsystemDiscovery = "discovery"
	subsystemSystem    = "system"
	subsystemAPI       = "api"

	unknownLabel = "unknown"
)

// PrometheusMetrics holds the Prometheus collectors for sweeps, probes,
// discovery and the API. It implements MetricsRegistry so scanner code can
// record into it by metric name.
type PrometheusMetrics struct {
	// Sweep metrics
	scansTotal    *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	hostsAdmitted prometheus.Counter
	admissionWait prometheus.Histogram
	activeProbes  prometheus.Gauge

	// Probe metrics
	hostsProbed   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	portsOpen     *prometheus.CounterVec
	arpResolved   *prometheus.CounterVec
	arpAttempts   prometheus.Counter
	dnsLookups    *prometheus.CounterVec
	probeFaults   *prometheus.CounterVec

	// Discovery metrics
	discoveryTotal  *prometheus.CounterVec
	hostsDiscovered *prometheus.CounterVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	enabled    bool
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all
// collectors registered on a private registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		startTime: time.Now(),
		enabled:   true,
		registry:  prometheus.NewRegistry(),
	}

	pm.initScanMetrics()
	pm.initProbeMetrics()
	pm.initDiscoveryMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()
	pm.registerMetrics()

	pm.registry.MustRegister(collectors.NewGoCollector())
	pm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of sweeps by outcome",
		},
		[]string{LabelStatus},
	)

	pm.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of whole sweeps in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	pm.hostsAdmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hosts_admitted_total",
			Help:      "Hosts that passed the admission gate",
		},
	)

	pm.admissionWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "admission_wait_seconds",
			Help:      "Time a worker waited for a concurrency slot",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	pm.activeProbes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "probes_active",
			Help:      "Number of host probes currently holding a slot",
		},
	)
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.hostsProbed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "hosts_total",
			Help:      "Hosts probed by terminal status",
		},
		[]string{LabelStatus},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of a single host probe in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{LabelStatus},
	)

	pm.portsOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "ports_open_total",
			Help:      "Open TCP ports found by port number",
		},
		[]string{LabelPort},
	)

	pm.arpResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "arp_resolved_total",
			Help:      "Hardware address resolutions by result",
		},
		[]string{LabelResult},
	)

	pm.arpAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "arp_attempts_total",
			Help:      "Neighbor table lookups performed",
		},
	)

	pm.dnsLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "dns_lookups_total",
			Help:      "Reverse DNS lookups by answer source and result",
		},
		[]string{LabelSource, LabelResult},
	)

	pm.probeFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "faults_total",
			Help:      "Unexpected probe faults by stage",
		},
		[]string{LabelStage},
	)
}

func (pm *PrometheusMetrics) initDiscoveryMetrics() {
	pm.discoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "total",
			Help:      "Target expansions by source",
		},
		[]string{LabelSource},
	)

	pm.hostsDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "hosts_total",
			Help:      "Addresses produced by target expansion",
		},
		[]string{LabelSource},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", LabelStatus},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.hostsAdmitted,
		pm.admissionWait,
		pm.activeProbes,
		pm.hostsProbed,
		pm.probeDuration,
		pm.portsOpen,
		pm.arpResolved,
		pm.arpAttempts,
		pm.dnsLookups,
		pm.probeFaults,
		pm.discoveryTotal,
		pm.hostsDiscovered,
		pm.httpRequests,
		pm.httpDuration,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// SetEnabled enables or disables recording.
func (pm *PrometheusMetrics) SetEnabled(enabled bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = enabled
}

// IsEnabled returns whether recording is enabled.
func (pm *PrometheusMetrics) IsEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

func label(labels Labels, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return unknownLabel
}

// Counter increments the collector registered for name. Unknown names
// are ignored.
func (pm *PrometheusMetrics) Counter(name string, labels Labels) {
	if !pm.IsEnabled() {
		return
	}

	switch name {
	case MetricScanTotal:
		pm.scansTotal.WithLabelValues(label(labels, LabelStatus)).Inc()
	case MetricHostsAdmitted:
		pm.hostsAdmitted.Inc()
	case MetricHostsProbed:
		pm.hostsProbed.WithLabelValues(label(labels, LabelStatus)).Inc()
	case MetricPortsOpen:
		pm.portsOpen.WithLabelValues(label(labels, LabelPort)).Inc()
	case MetricARPResolved:
		pm.arpResolved.WithLabelValues(label(labels, LabelResult)).Inc()
	case MetricARPAttempts:
		pm.arpAttempts.Inc()
	case MetricDNSLookups:
		pm.dnsLookups.WithLabelValues(label(labels, LabelSource), label(labels, LabelResult)).Inc()
	case MetricProbeFaults:
		pm.probeFaults.WithLabelValues(label(labels, LabelStage)).Inc()
	case MetricDiscoveryTotal:
		pm.discoveryTotal.WithLabelValues(label(labels, LabelSource)).Inc()
	case MetricHostsDiscovered:
		pm.hostsDiscovered.WithLabelValues(label(labels, LabelSource)).Inc()
	}
}

// Gauge sets the gauge registered for name.
func (pm *PrometheusMetrics) Gauge(name string, value float64, _ Labels) {
	if !pm.IsEnabled() {
		return
	}

	if name == MetricActiveProbes {
		pm.activeProbes.Set(value)
	}
}

// Histogram observes value on the histogram registered for name.
func (pm *PrometheusMetrics) Histogram(name string, value float64, labels Labels) {
	if !pm.IsEnabled() {
		return
	}

	switch name {
	case MetricScanDuration:
		pm.scanDuration.Observe(value)
	case MetricProbeDuration:
		pm.probeDuration.WithLabelValues(label(labels, LabelStatus)).Observe(value)
	case MetricAdmissionWait:
		pm.admissionWait.Observe(value)
	}
}

// GetMetrics returns a snapshot of the netsweep collectors keyed like the
// in-process Registry.
func (pm *PrometheusMetrics) GetMetrics() map[string]*Metric {
	families, err := pm.registry.Gather()
	if err != nil {
		return map[string]*Metric{}
	}

	now := time.Now()
	result := make(map[string]*Metric)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make(Labels, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			metric := &Metric{Name: mf.GetName(), Labels: labels, Timestamp: now}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				metric.Type = TypeCounter
				metric.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				metric.Type = TypeGauge
				metric.Value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				metric.Type = TypeHistogram
				metric.Count = m.GetHistogram().GetSampleCount()
				metric.Sum = m.GetHistogram().GetSampleSum()
			default:
				continue
			}
			result[makeKey(metric.Name, labels)] = metric
		}
	}
	return result
}

// Reset clears all labelled collectors.
func (pm *PrometheusMetrics) Reset() {
	for _, vec := range []*prometheus.CounterVec{
		pm.scansTotal, pm.hostsProbed, pm.portsOpen, pm.arpResolved,
		pm.dnsLookups, pm.probeFaults, pm.discoveryTotal, pm.hostsDiscovered, pm.httpRequests,
	} {
		vec.Reset()
	}
	pm.probeDuration.Reset()
	pm.httpDuration.Reset()
}

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes goroutine and uptime gauges.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last system metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics every interval until ctx ends.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.UpdateSystemMetrics()
			}
		}
	}()
}

var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the process-wide Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}

var _ MetricsRegistry = (*PrometheusMetrics)(nil)
