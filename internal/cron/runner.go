// Package cron runs the recurring maintenance jobs of the reminder engine
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one recurring task
type Job interface {
	Rollover(ctx context.Context) error
}

// Config holds cron runner configuration
type Config struct {
	Schedule string        // standard five-field cron expression or descriptor such as @daily
	Timeout  time.Duration // upper bound for one run
	Location *time.Location
}

// Runner triggers a job on a cron schedule
type Runner struct {
	config  Config
	job     Job
	cron    *cron.Cron
	entry   cron.EntryID
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
	lastRun time.Time
	lastErr error
}

// NewRunner validates the schedule and creates a stopped runner
func NewRunner(config Config, job Job, logger *zap.Logger) (*Runner, error) {
	if config.Schedule == "" {
		config.Schedule = "5 0 * * *"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(
		cron.WithLocation(config.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		config: config,
		job:    job,
		cron:   c,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	id, err := c.AddFunc(config.Schedule, r.runOnce)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", config.Schedule, err)
	}
	r.entry = id

	return r, nil
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	r.running = true
	r.cron.Start()
	r.logger.Info("Cron runner started",
		zap.String("schedule", r.config.Schedule),
		zap.Time("next_run", r.cron.Entry(r.entry).Next),
	)
	return nil
}

// Stop stops the runner and waits for a run in progress
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Next returns the next scheduled run, zero when stopped
func (r *Runner) Next() time.Time {
	if !r.IsRunning() {
		return time.Time{}
	}
	return r.cron.Entry(r.entry).Next
}

// LastRun returns when the job last ran and how it ended
func (r *Runner) LastRun() (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun, r.lastErr
}

// RunNow executes the job immediately, outside the schedule
func (r *Runner) RunNow() error {
	r.runOnce()
	_, err := r.LastRun()
	return err
}

func (r *Runner) runOnce() {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	err := r.job.Rollover(ctx)

	r.mu.Lock()
	r.lastRun = start
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Scheduled job failed", zap.Error(err))
		return
	}
	r.logger.Info("Scheduled job completed", zap.Duration("took", time.Since(start)))
}
