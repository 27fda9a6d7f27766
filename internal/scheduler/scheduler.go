// Package scheduler ticks schedules due for a fresh pipeline run (C10,
// spec §4.10). Interval-based schedules advance their next_run_at entirely
// in SQL (store.DueSchedules); cron-expression schedules additionally get
// their next_run_at corrected against the cron library's own occurrence
// calculation, since SQL only knows plain-interval arithmetic.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/queue"
	"github.com/shadowpulse/reconengine/internal/store"
)

// defaultTick is used when Config.TickInterval is unset.
const defaultTick = 10 * time.Second

// Config tunes one Scheduler.
type Config struct {
	TickInterval time.Duration
}

// Scheduler polls for due schedules and enqueues a pipeline job for each.
type Scheduler struct {
	store *store.Store
	q     *queue.Queue
	log   zerolog.Logger
	cfg   Config
}

// New constructs a Scheduler.
func New(st *store.Store, q *queue.Queue, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTick
	}
	return &Scheduler{store: st, q: q, cfg: cfg, log: log.With().Str("component", "scheduler").Logger()}
}

// Run ticks until ctx is cancelled, firing due schedules on each tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("due schedules query failed")
		return
	}
	for _, sch := range due {
		if err := s.fire(ctx, sch, now); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sch.ID).Str("target_id", sch.TargetID).
				Msg("failed to fire schedule")
			continue
		}
		s.correctCronNextRun(ctx, sch, now)
	}
}

// fire creates a scheduled Run and enqueues its pipeline job.
func (s *Scheduler) fire(ctx context.Context, sch *domain.Schedule, now time.Time) error {
	cfg := sch.PipelineConfig
	if cfg == (domain.RunConfig{}) {
		cfg = domain.DefaultRunConfig()
	}
	run := &domain.Run{
		ID:       uuid.NewString(),
		TargetID: sch.TargetID,
		Trigger:  domain.TriggerScheduled,
		Status:   domain.RunQueued,
		Config:   cfg,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("scheduler: create run: %w", err)
	}

	payload := map[string]string{"run_id": run.ID}
	if _, err := s.q.Enqueue(ctx, sch.TargetID, domain.JobPipeline, payload, queue.EnqueueOptions{
		RunID: &run.ID,
	}); err != nil {
		return fmt.Errorf("scheduler: enqueue pipeline: %w", err)
	}

	s.log.Info().Str("run_id", run.ID).Str("target_id", sch.TargetID).Str("trigger", "scheduled").
		Msg("scheduled run enqueued")
	return nil
}

// correctCronNextRun overrides DueSchedules' plain-interval next_run_at with
// the cron expression's actual next occurrence, for schedules that carry one
// (spec §4.10 SUPPLEMENTED: cron-expression schedule windows).
func (s *Scheduler) correctCronNextRun(ctx context.Context, sch *domain.Schedule, now time.Time) {
	if sch.CronExpr == "" {
		return
	}
	next, err := cronNextOccurrence(sch.CronExpr, now)
	if err != nil {
		s.log.Warn().Err(err).Str("schedule_id", sch.ID).Str("cron_expr", sch.CronExpr).
			Msg("invalid cron expression, falling back to interval-based next_run_at")
		return
	}
	if err := s.store.UpdateScheduleNextRun(ctx, sch.ID, next); err != nil {
		s.log.Error().Err(err).Str("schedule_id", sch.ID).Msg("failed to correct cron next_run_at")
	}
}

// cronNextOccurrence computes the next time the standard 5-field cron
// expression fires strictly after now.
func cronNextOccurrence(expr string, now time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parse cron expr %q: %w", expr, err)
	}
	return schedule.Next(now), nil
}
