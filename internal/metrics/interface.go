package metrics

//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks github.com/anstrom/netsweep/internal/metrics MetricsRegistry

// MetricsRegistry is the recording surface used by the scanner, discovery
// and API middleware. Registry and PrometheusMetrics both implement it.
type MetricsRegistry interface {
	// SetEnabled enables or disables metrics collection.
	SetEnabled(enabled bool)

	// IsEnabled returns whether metrics collection is enabled.
	IsEnabled() bool

	// Counter increments a counter metric with the given name and labels.
	Counter(name string, labels Labels)

	// Gauge sets a gauge metric to the specified value with the given name and labels.
	Gauge(name string, value float64, labels Labels)

	// Histogram records a value in a histogram metric with the given name and labels.
	Histogram(name string, value float64, labels Labels)

	// GetMetrics returns a snapshot of all current metrics.
	GetMetrics() map[string]*Metric

	// Reset clears all metrics from the registry.
	Reset()
}

var _ MetricsRegistry = (*Registry)(nil)

// Noop discards everything. Useful as a default collaborator.
type Noop struct{}

func (Noop) SetEnabled(bool) {}
func (Noop) IsEnabled() bool { return false }
func (Noop) Counter(string, Labels) {}
func (Noop) Gauge(string, float64, Labels) {}
func (Noop) Histogram(string, float64, Labels) {}
func (Noop) GetMetrics() map[string]*Metric { return map[string]*Metric{} }
func (Noop) Reset() {}

var _ MetricsRegistry = Noop{}
