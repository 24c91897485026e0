package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
)

// Scheduler fans a target list out to a bounded worker pool and streams one
// record per admitted target in completion order. A Scheduler may run
// several sweeps at once; they share its admission gate.
type Scheduler struct {
	opts    ScanOptions
	prober  Prober
	gate    ResourceManager
	limiter *rate.Limiter
	metrics metrics.MetricsRegistry
	logger  *logging.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithResourceManager replaces the admission gate.
func WithResourceManager(rm ResourceManager) SchedulerOption {
	return func(s *Scheduler) { s.gate = rm }
}

// WithSchedulerMetrics records sweep metrics into m.
func WithSchedulerMetrics(m metrics.MetricsRegistry) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *logging.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler validates opts and creates a scheduler running prober.
func NewScheduler(opts ScanOptions, prober Prober, options ...SchedulerOption) (*Scheduler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		opts:    opts,
		prober:  prober,
		metrics: metrics.Noop{},
		logger:  logging.Default().WithComponent("scheduler"),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.gate == nil {
		s.gate = NewFixedResourceManager(opts.MaxConcurrent)
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s, nil
}

// Gate returns the admission gate shared by this scheduler's sweeps.
func (s *Scheduler) Gate() ResourceManager {
	return s.gate
}

// Scan starts a sweep with a fresh scan ID. See ScanWithID.
func (s *Scheduler) Scan(ctx context.Context, targets []string) <-chan DeviceRecord {
	return s.ScanWithID(ctx, uuid.NewString(), targets)
}

// ScanWithID starts a sweep over targets and returns its result stream.
// The channel is closed once every admitted target has produced a record.
// Cancelling ctx stops admission; targets never admitted produce no
// record. The caller must drain the channel.
func (s *Scheduler) ScanWithID(ctx context.Context, scanID string, targets []string) <-chan DeviceRecord {
	logger := s.logger.WithScanID(scanID)

	workers := s.opts.MaxConcurrent
	if workers > len(targets) {
		workers = len(targets)
	}
	results := make(chan DeviceRecord, workers)
	queue := make(chan string)

	logger.Info("scan started", "targets", len(targets), "workers", workers)
	timer := metrics.NewTimer(s.metrics, metrics.MetricScanDuration, nil)

	go func() {
		defer close(queue)
		for _, t := range targets {
			select {
			case queue <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		byStatus = make(map[Status]int)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range queue {
				slot := scanID + "/" + target
				if !s.admit(ctx, slot) {
					continue
				}
				rec := s.probe(ctx, target)
				s.gate.Release(slot)
				s.metrics.Gauge(metrics.MetricActiveProbes, float64(s.gate.GetActive()), nil)

				mu.Lock()
				admitted++
				byStatus[rec.Status]++
				mu.Unlock()

				results <- rec
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)

		outcome := "completed"
		if ctx.Err() != nil {
			outcome = "canceled"
		}
		elapsed := timer.Stop()
		s.metrics.Counter(metrics.MetricScanTotal, metrics.Labels{metrics.LabelStatus: outcome})
		logger.Info("scan finished",
			"outcome", outcome,
			"targets", len(targets),
			"admitted", admitted,
			"online", byStatus[StatusOnline],
			"offline", byStatus[StatusOffline],
			"errors", byStatus[StatusError],
			"canceled", byStatus[StatusCanceled],
			"duration", elapsed)
	}()

	return results
}

// admit waits for pacing and a gate slot. It reports false when ctx ends
// first, in which case the target is dropped without a record.
func (s *Scheduler) admit(ctx context.Context, slot string) bool {
	if ctx.Err() != nil {
		return false
	}
	waitStart := time.Now()
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false
		}
	}
	if err := s.gate.Acquire(ctx, slot); err != nil {
		return false
	}
	s.metrics.Histogram(metrics.MetricAdmissionWait, time.Since(waitStart).Seconds(), nil)
	s.metrics.Counter(metrics.MetricHostsAdmitted, nil)
	s.metrics.Gauge(metrics.MetricActiveProbes, float64(s.gate.GetActive()), nil)
	return true
}

// probe shields the worker from a Prober that panics.
func (s *Scheduler) probe(ctx context.Context, target string) (rec DeviceRecord) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			rec = newRecord(target, time.Now())
			rec.Status = StatusError
			rec.Latency = msg
			rec.Error = msg
			s.logger.Error("prober panicked", "target", target, "panic", r)
		}
	}()
	return s.prober.Probe(ctx, target)
}

// Collect drains a result stream into a slice.
func Collect(results <-chan DeviceRecord) []DeviceRecord {
	var out []DeviceRecord
	for rec := range results {
		out = append(out, rec)
	}
	return out
}
