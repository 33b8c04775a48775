// Package scheduler fires trigger events on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is invoked once per tick with the tick time.
type Job interface {
	Run(ctx context.Context, at time.Time) error
	Name() string
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context, at time.Time) error
}

// Run calls Fn.
func (f JobFunc) Run(ctx context.Context, at time.Time) error { return f.Fn(ctx, at) }

// Name returns JobName.
func (f JobFunc) Name() string { return f.JobName }

// Scheduler manages cron-triggered jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	now  func() time.Time
}

// New creates a new scheduler. Schedules use the six-field form with seconds, in UTC.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		log:  log.With().Str("component", "scheduler").Logger(),
		now:  time.Now,
	}
}

// AddJob registers job under schedule. Overlapping ticks are skipped while a run is in flight.
// Schedule examples:
//   - "0 0 22 * * 1-5"  - 22:00 UTC on weekdays
//   - "@every 1h"       - hourly
func (s *Scheduler) AddJob(ctx context.Context, schedule string, job Job) error {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		at := s.now().UTC()
		s.log.Debug().Str("job", job.Name()).Time("at", at).Msg("Running job")

		if err := job.Run(ctx, at); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	}))

	if _, err := s.cron.AddJob(schedule, wrapped); err != nil {
		return fmt.Errorf("add job %s: %w", job.Name(), err)
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.Start()
	<-ctx.Done()
	s.Stop()
}

// Next returns the next activation time of schedule after t.
func Next(schedule string, t time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return sched.Next(t), nil
}
