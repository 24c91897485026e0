// Package scheduler runs recurring sweeps on cron schedules. Each job
// expands its targets, or discovers an adapter's subnets, runs a sweep
// and hands every record to a sink.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/scanning"
)

// TargetSource turns job configuration into addresses.
type TargetSource interface {
	Expand(entries []string) ([]string, error)
	Discover(adapter string) ([]string, error)
}

// Sweeper runs a sweep and streams its records.
type Sweeper interface {
	Scan(ctx context.Context, targets []string) <-chan scanning.DeviceRecord
}

// RecordSink receives every record a job produces.
type RecordSink func(job *SweepJob, rec scanning.DeviceRecord)

// SweepJobConfig describes what a job sweeps. When Targets is empty the
// job discovers the subnets of Adapter, or of every eligible adapter when
// Adapter is empty too.
type SweepJobConfig struct {
	Targets []string `json:"targets,omitempty"`
	Adapter string   `json:"adapter,omitempty"`
}

// SweepJob is a scheduled sweep.
type SweepJob struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Schedule    string         `json:"schedule"`
	Config      SweepJobConfig `json:"config"`
	Enabled     bool           `json:"enabled"`
	CronID      cron.EntryID   `json:"-"`
	LastRun     time.Time      `json:"last_run,omitempty"`
	NextRun     time.Time      `json:"next_run,omitempty"`
	LastResults int            `json:"last_results"`
	Running     bool           `json:"running"`
}

// Scheduler manages scheduled sweep jobs.
type Scheduler struct {
	cron    *cron.Cron
	targets TargetSource
	sweeper Sweeper
	sink    RecordSink
	jobs    map[uuid.UUID]*SweepJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// NewScheduler creates a scheduler. A nil sink discards records.
func NewScheduler(targets TargetSource, sweeper Sweeper, sink RecordSink) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if sink == nil {
		sink = func(*SweepJob, scanning.DeviceRecord) {}
	}

	return &Scheduler{
		cron:    cron.New(),
		targets: targets,
		sweeper: sweeper,
		sink:    sink,
		jobs:    make(map[uuid.UUID]*SweepJob),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.Default().WithComponent("scheduler"),
	}
}

// Start begins firing jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.NewScanError(errors.CodeValidation, "scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the cron loop, cancels running sweeps and waits for them to
// drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopped := s.cron.Stop()
	s.cancel()
	s.running = false
	s.mu.Unlock()

	<-stopped.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// AddSweepJob registers a job under a standard cron expression or a
// descriptor such as "@every 15m".
func (s *Scheduler) AddSweepJob(name, cronExpr string, config SweepJobConfig) (*SweepJob, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression: %v", err), "watch.schedule", cronExpr)
	}

	job := &SweepJob{
		ID:       uuid.New(),
		Name:     name,
		Schedule: cronExpr,
		Config:   config,
		Enabled:  true,
		NextRun:  schedule.Next(time.Now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := job.ID
	cronID, err := s.cron.AddFunc(cronExpr, func() { s.executeSweepJob(jobID) })
	if err != nil {
		return nil, errors.NewConfigFieldError(errors.CodeValidation, err.Error(), "watch.schedule", cronExpr)
	}
	job.CronID = cronID
	s.jobs[job.ID] = job

	s.logger.Info("sweep job added", "job", name, "schedule", cronExpr)
	return copyJob(job), nil
}

// RemoveJob unregisters a job. A sweep already running finishes.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return errors.NewScanError(errors.CodeValidation, "job not found").WithContext("job_id", jobID.String())
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, jobID)

	s.logger.Info("sweep job removed", "job", job.Name)
	return nil
}

// EnableJob resumes a disabled job.
func (s *Scheduler) EnableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, true)
}

// DisableJob keeps a job registered but skips its runs.
func (s *Scheduler) DisableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, false)
}

func (s *Scheduler) setJobEnabled(jobID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return errors.NewScanError(errors.CodeValidation, "job not found").WithContext("job_id", jobID.String())
	}
	job.Enabled = enabled

	action := "disabled"
	if enabled {
		action = "enabled"
	}
	s.logger.Info("sweep job "+action, "job", job.Name)
	return nil
}

// GetJobs returns snapshots of all jobs ordered by name.
func (s *Scheduler) GetJobs() []*SweepJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*SweepJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := copyJob(job)
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			j.NextRun = entry.Next
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Name < jobs[b].Name })
	return jobs
}

// RunNow executes a job immediately and blocks until its sweep drains.
func (s *Scheduler) RunNow(jobID uuid.UUID) error {
	s.mu.RLock()
	_, exists := s.jobs[jobID]
	s.mu.RUnlock()
	if !exists {
		return errors.NewScanError(errors.CodeValidation, "job not found").WithContext("job_id", jobID.String())
	}
	s.executeSweepJob(jobID)
	return nil
}

// executeSweepJob runs one sweep for a job. Overlapping runs of the same
// job are skipped.
func (s *Scheduler) executeSweepJob(jobID uuid.UUID) {
	job, ok := s.prepareJobExecution(jobID)
	if !ok {
		return
	}
	defer s.wg.Done()

	count := 0
	defer func() { s.cleanupJobExecution(jobID, count) }()

	logger := s.logger.WithFields("job", job.Name)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sweep job panicked", "panic", r)
		}
	}()
	logger.Info("executing sweep job")

	targets, err := s.resolveTargets(job.Config)
	if err != nil {
		logger.Error("sweep job failed to resolve targets", "error", err)
		return
	}
	if len(targets) == 0 {
		logger.Info("sweep job found no targets")
		return
	}

	for rec := range s.sweeper.Scan(s.ctx, targets) {
		count++
		s.sink(job, rec)
	}

	logger.Info("sweep job completed", "targets", len(targets), "records", count)
}

func (s *Scheduler) resolveTargets(cfg SweepJobConfig) ([]string, error) {
	if len(cfg.Targets) > 0 {
		return s.targets.Expand(cfg.Targets)
	}
	return s.targets.Discover(cfg.Adapter)
}

// prepareJobExecution marks the job running and returns a snapshot. The
// caller must call s.wg.Done when the run ends.
func (s *Scheduler) prepareJobExecution(jobID uuid.UUID) (*SweepJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || !job.Enabled {
		return nil, false
	}
	if job.Running {
		s.logger.Warn("sweep job is already running, skipping", "job", job.Name)
		return nil, false
	}
	if s.ctx.Err() != nil {
		return nil, false
	}

	job.Running = true
	job.LastRun = time.Now()
	s.wg.Add(1)
	return copyJob(job), true
}

// cleanupJobExecution marks the job as no longer running.
func (s *Scheduler) cleanupJobExecution(jobID uuid.UUID, results int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		job.Running = false
		job.LastResults = results
	}
}

func copyJob(job *SweepJob) *SweepJob {
	j := *job
	j.Config.Targets = append([]string(nil), job.Config.Targets...)
	return &j
}
