// Package metrics provides lightweight in-process metrics for netsweep plus
// Prometheus collectors for the API server. Scanner code records through
// the MetricsRegistry interface so tests can substitute a mock.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata. Histograms keep a
// running count and sum; Value holds the last observation.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Count     uint64
	Sum       float64
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.add(name, TypeCounter, 1, labels)
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics[makeKey(name, labels)] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	r.add(name, TypeHistogram, value, labels)
}

func (r *Registry) add(name string, typ MetricType, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	metric, exists := r.metrics[key]
	if !exists {
		metric = &Metric{Name: name, Type: typ, Labels: copyLabels(labels)}
		r.metrics[key] = metric
	}

	switch typ {
	case TypeCounter:
		metric.Value += value
	case TypeHistogram:
		metric.Value = value
		metric.Sum += value
	}
	metric.Count++
	metric.Timestamp = time.Now()
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		m := *metric
		m.Labels = copyLabels(metric.Labels)
		result[key] = &m
	}
	return result
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// makeKey creates a unique key for a metric based on name and sorted labels.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

var defaultRegistry = NewRegistry()

// SetDefault replaces the registry used by CLI sweeps.
func SetDefault(registry *Registry) {
	defaultRegistry = registry
}

// Default returns the registry used by CLI sweeps.
func Default() *Registry {
	return defaultRegistry
}

// Timer records the time between NewTimer and Stop as a histogram value.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry MetricsRegistry
}

// NewTimer creates a timer that records into registry on Stop.
func NewTimer(registry MetricsRegistry, name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: registry,
	}
}

// Stop records the elapsed time in seconds and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.registry.Histogram(t.name, d.Seconds(), t.labels)
	return d
}

// Metric names.
const (
	// Sweep metrics.
	MetricScanDuration  = "scan_duration_seconds"
	MetricScanTotal     = "scan_total"
	MetricHostsAdmitted = "hosts_admitted_total"
	MetricHostsProbed   = "hosts_probed_total"
	MetricProbeDuration = "probe_duration_seconds"
	MetricActiveProbes  = "probes_active"
	MetricAdmissionWait = "admission_wait_seconds"

	// Probe stage metrics.
	MetricPortsOpen   = "ports_open_total"
	MetricARPResolved = "arp_resolved_total"
	MetricARPAttempts = "arp_attempts_total"
	MetricDNSLookups  = "dns_lookups_total"
	MetricProbeFaults = "probe_faults_total"

	// Discovery metrics.
	MetricDiscoveryTotal  = "discovery_total"
	MetricHostsDiscovered = "hosts_discovered_total"
)

// Common label keys.
const (
	LabelStatus    = "status"
	LabelStage     = "stage"
	LabelPort      = "port"
	LabelResult    = "result"
	LabelSource    = "source"
	LabelAdapter   = "adapter"
	LabelComponent = "component"
)
