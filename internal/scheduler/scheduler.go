// Package scheduler triggers crawl runs on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// RunFunc executes one crawl run.
type RunFunc func(ctx context.Context) (crawler.RunReport, error)

// Job is a run repeated every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      RunFunc
}

// Scheduler ticks each job independently. A tick that finds another run in
// progress is skipped rather than queued.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

// New validates the jobs and builds a Scheduler.
func New(jobs []Job, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, job := range jobs {
		if job.Interval <= 0 {
			return nil, fmt.Errorf("job %q: interval must be > 0", job.Name)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %q: run func is required", job.Name)
		}
	}
	return &Scheduler{jobs: jobs, logger: logger.Named("scheduler")}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("job scheduled", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	report, err := job.Run(ctx)
	switch {
	case errors.Is(err, crawler.ErrRunInProgress):
		s.logger.Info("tick skipped, run in progress", zap.String("job", job.Name))
	case err != nil:
		s.logger.Error("scheduled run failed",
			zap.String("job", job.Name),
			zap.String("run_id", report.RunID),
			zap.Error(err),
		)
	default:
		s.logger.Info("scheduled run finished",
			zap.String("job", job.Name),
			zap.String("run_id", report.RunID),
			zap.Bool("halted", report.Halted),
			zap.Int("channels", len(report.Channels)),
		)
	}
}
