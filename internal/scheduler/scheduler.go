package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tandemlab/tandem/internal/store"
	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/pkg/schema"
)

// SuiteRunner is the interface the scheduler uses to run suites.
// Satisfied by the suite orchestrator (avoids import cycle).
type SuiteRunner interface {
	Run(ctx context.Context, ts *suite.TestSuite) (*suite.SuiteResult, error)
}

// Scheduler polls the store for due suite schedules and runs them.
type Scheduler struct {
	store  store.Store
	runner SuiteRunner
	parser cron.Parser
	logger *slog.Logger
	poll   time.Duration
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler polling every minute.
func NewScheduler(s store.Store, runner SuiteRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		poll:     time.Minute,
		inflight: make(map[string]struct{}),
	}
}

// SetPollInterval overrides the polling cadence. Call before Start.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.poll = d
	}
}

// Create registers a new schedule after validating its cron expression,
// seeding next_run_at from the current time.
func (s *Scheduler) Create(ctx context.Context, suiteName, cronExpr string) (*store.Schedule, error) {
	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	sched := &store.Schedule{
		ID:             uuid.New().String(),
		SuiteName:      suiteName,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled schedules and runs those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if sched.NextRunAt == nil || !sched.NextRunAt.After(now) {
			if !s.tryAcquire(sched.ID) {
				continue // already running (dedup)
			}
			if err := s.runSchedule(ctx, sched, now); err != nil {
				s.logger.Error("failed to run schedule",
					slog.String("schedule_id", sched.ID),
					slog.String("error", err.Error()),
				)
			}
			s.release(sched.ID)
		}
	}
}

// runSchedule resolves the suite, runs it, and updates the schedule
// bookkeeping.
func (s *Scheduler) runSchedule(ctx context.Context, sched *store.Schedule, now time.Time) error {
	s.logger.Info("running scheduled suite",
		slog.String("schedule_id", sched.ID),
		slog.String("suite", sched.SuiteName),
	)

	ts, err := s.store.GetSuite(ctx, sched.SuiteName)
	if err != nil {
		s.logger.Error("scheduled suite not resolvable",
			slog.String("schedule_id", sched.ID),
			slog.String("suite", sched.SuiteName),
			slog.String("error", err.Error()),
		)
		return s.updateScheduleStatus(ctx, sched, now, "", "error")
	}

	result, err := s.runner.Run(ctx, ts)
	if err != nil {
		s.logger.Error("scheduled suite run failed",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
		return s.updateScheduleStatus(ctx, sched, now, "", "error")
	}

	status := "passed"
	if result.Failed+result.Errors+result.Timeouts > 0 {
		status = "failed"
	}

	s.appendTrigger(ctx, sched, result)
	return s.updateScheduleStatus(ctx, sched, now, result.RunID, status)
}

// appendTrigger marks the persisted run as schedule-initiated. The event
// continues the run's sequence, so replay tooling sees the trigger.
func (s *Scheduler) appendTrigger(ctx context.Context, sched *store.Schedule, result *suite.SuiteResult) {
	payload, err := json.Marshal(map[string]any{
		"schedule_id": sched.ID,
		"cron":        sched.CronExpression,
		"pass_rate":   result.PassRate,
	})
	if err != nil {
		return
	}
	if err := s.store.AppendRunEvent(ctx, &store.RunEvent{
		RunID:   result.RunID,
		Type:    schema.EventScheduleTriggered,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("failed to append schedule trigger event",
			slog.String("run_id", result.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) updateScheduleStatus(ctx context.Context, sched *store.Schedule, now time.Time, runID, status string) error {
	nextRun, err := s.CalculateNextRun(sched.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sched.ID, err)
	}

	return s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunID:     runID,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the schedule as in-flight if it is not
// already running.
func (s *Scheduler) tryAcquire(scheduleID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[scheduleID]; ok {
		return false
	}
	s.inflight[scheduleID] = struct{}{}
	return true
}

// release removes the schedule from the in-flight set.
func (s *Scheduler) release(scheduleID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, scheduleID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed checks for schedules that missed their next_run_at and runs
// them once.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed schedules: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, sched := range schedules {
		if sched.NextRunAt != nil && sched.NextRunAt.Before(now) {
			if !s.tryAcquire(sched.ID) {
				continue
			}
			if err := s.runSchedule(ctx, sched, now); err != nil {
				s.logger.Error("failed to recover missed schedule",
					slog.String("schedule_id", sched.ID),
					slog.String("error", err.Error()),
				)
				s.release(sched.ID)
				continue
			}
			s.release(sched.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return nil
}
