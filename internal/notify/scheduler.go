package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the reminder check every five minutes.
const DefaultSchedule = "@every 5m"

// Scheduler runs Engine.Check on a cron schedule.
type Scheduler struct {
	engine   *Engine
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler validates schedule and returns a stopped scheduler.
func NewScheduler(engine *Engine, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid notify schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		engine:   engine,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}, nil
}

// Start schedules the check and stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.runCheck(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule reminder check: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("reminder scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.engine.Check(checkCtx); err != nil {
		s.logger.Debug("reminder check failed", "error", err)
	}
}

// Stop stops the scheduler and waits for a running check.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("reminder scheduler stopped")
}

// NextRun returns the next scheduled check, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
