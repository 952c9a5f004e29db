package retention

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"certmill/internal/pkg/errors"
	"certmill/internal/pkg/logger"
)

// Scheduler runs non-forced cleanup passes on a cron schedule until
// its context is canceled. Cancellation is cooperative: a pass that is
// already running is allowed to finish.
type Scheduler struct {
	manager *Manager
	cron    *cron.Cron
	log     *logger.Logger

	mu      sync.Mutex
	running bool
}

func NewScheduler(m *Manager, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Scheduler{
		manager: m,
		cron:    cron.New(),
		log:     log.WithComponent("retention.scheduler"),
	}
}

// Start begins periodic cleanup using the manager's configured
// schedule (default hourly). An empty schedule disables the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := s.manager.config().Schedule
	if schedule == "" {
		schedule = DefaultConfig().Schedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return errors.Wrapf(err, "retention.schedule", "invalid cron schedule %q", schedule)
	}
	if _, err := s.cron.AddFunc(schedule, s.runPass); err != nil {
		return errors.Wrap(err, "retention.schedule", "failed to schedule cleanup")
	}

	s.cron.Start()
	s.running = true
	s.log.Info("cleanup scheduler started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runPass() {
	s.log.Debug("starting scheduled cleanup")
	stats := s.manager.FullCleanup(false)
	if stats.Total() > 0 {
		s.log.Info("scheduled cleanup removed entries",
			"old_archives", stats.OldArchives,
			"job_dirs", stats.JobDirs,
			"temp_files", stats.TempFiles,
			"old_template_backups", stats.OldTemplateBackups,
		)
	}
}

// Stop halts scheduling and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.log.Info("cleanup scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pass time, if any.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
