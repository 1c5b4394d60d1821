package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/lifecycle"
)

// Target receives the two poll cadences.
type Target interface {
	ShortPoll(ctx context.Context) error
	LongPoll(ctx context.Context) error
}

// Scheduler drives short and long polls on fixed intervals. Each job runs in
// singleton mode, so a slow cycle delays the next run of the same job instead
// of overlapping it. Neither job fires at start; the first run is one interval in.
type Scheduler struct {
	scheduler *gocron.Scheduler
	target    Target
	short     time.Duration
	long      time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. Call Start to begin.
func New(target Target, short, long time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if target == nil {
		return nil, errors.New("scheduler: target is required")
	}
	if short <= 0 || long <= 0 {
		return nil, fmt.Errorf("scheduler: intervals must be positive (short %v, long %v)", short, long)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		target:    target,
		short:     short,
		long:      long,
		logger:    logger,
	}, nil
}

// Start schedules both jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.short).WaitForSchedule().Tag("short_poll").Do(s.run, "short_poll", s.target.ShortPoll); err != nil {
		return fmt.Errorf("schedule short poll: %w", err)
	}
	if _, err := s.scheduler.Every(s.long).WaitForSchedule().Tag("long_poll").Do(s.run, "long_poll", s.target.LongPoll); err != nil {
		return fmt.Errorf("schedule long poll: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.Duration("shortPoll", s.short), zap.Duration("longPoll", s.long))
	return nil
}

// Stop prevents further runs. A run in progress completes.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(job string, fn func(context.Context) error) {
	if lifecycle.IsShuttingDown() {
		s.logger.Debug("shutting down, skipping poll", zap.String("job", job))
		return
	}
	start := time.Now()
	if err := fn(context.Background()); err != nil {
		s.logger.Warn("poll finished with errors", zap.String("job", job), zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	s.logger.Debug("poll finished", zap.String("job", job), zap.Duration("duration", time.Since(start)))
}
