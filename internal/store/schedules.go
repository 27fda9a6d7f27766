package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shadowpulse/reconengine/internal/domain"
)

// CreateSchedule inserts a per-target recurring pipeline trigger (spec §3).
func (s *Store) CreateSchedule(ctx context.Context, sch *domain.Schedule) error {
	cfgJSON, err := json.Marshal(sch.PipelineConfig)
	if err != nil {
		return fmt.Errorf("store: marshal schedule config: %w", err)
	}
	const q = `
		INSERT INTO schedules (id, target_id, interval_seconds, cron_expr, enabled, pipeline_config, next_run_at)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, $7)`
	_, err = s.pool.Exec(ctx, q, sch.ID, sch.TargetID, sch.IntervalSeconds, sch.CronExpr, sch.Enabled, cfgJSON, sch.NextRunAt)
	if err != nil {
		return fmt.Errorf("store: create schedule: %w", err)
	}
	return nil
}

// DueSchedules returns enabled schedules with next_run_at<=now and no
// active pipeline run for their target, selected and advanced in one
// statement per schedule (spec §4.10). Drift is corrected forward: the new
// next_run_at is max(next_run_at + interval, now + interval).
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	const q = `
		UPDATE schedules s SET
			last_run_at = $1,
			next_run_at = GREATEST(s.next_run_at + (s.interval_seconds || ' seconds')::interval,
			                       $1 + (s.interval_seconds || ' seconds')::interval)
		WHERE s.enabled AND s.next_run_at <= $1
		  AND NOT EXISTS (
		  	SELECT 1 FROM runs r
		  	WHERE r.target_id = s.target_id AND r.trigger IN ('manual','scheduled')
		  	  AND r.status IN ('queued','running')
		  )
		RETURNING s.id, s.target_id, s.interval_seconds, COALESCE(s.cron_expr,''), s.enabled,
			s.pipeline_config, s.next_run_at, s.last_run_at`
	rows, err := s.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("store: due schedules: %w", err)
	}
	defer rows.Close()
	var out []*domain.Schedule
	for rows.Next() {
		var sch domain.Schedule
		if err := rows.Scan(&sch.ID, &sch.TargetID, &sch.IntervalSeconds, &sch.CronExpr, &sch.Enabled,
			&sch.PipelineConfigJSON, &sch.NextRunAt, &sch.LastRunAt); err != nil {
			return nil, fmt.Errorf("store: scan schedule: %w", err)
		}
		if err := json.Unmarshal(sch.PipelineConfigJSON, &sch.PipelineConfig); err != nil {
			return nil, fmt.Errorf("store: unmarshal schedule config: %w", err)
		}
		out = append(out, &sch)
	}
	return out, rows.Err()
}

// UpdateScheduleNextRun overwrites next_run_at, used by the scheduler to
// correct a cron-expression schedule's SQL-computed (plain-interval)
// next_run_at with the cron library's actual next occurrence (spec §4.10
// SUPPLEMENTED cron-expression schedules).
func (s *Store) UpdateScheduleNextRun(ctx context.Context, id string, next time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE schedules SET next_run_at=$2 WHERE id=$1`, id, next)
	if err != nil {
		return fmt.Errorf("store: update schedule next run: %w", err)
	}
	return nil
}

// ListSchedulesForTarget returns schedules for a target.
func (s *Store) ListSchedulesForTarget(ctx context.Context, targetID string) ([]*domain.Schedule, error) {
	const q = `
		SELECT id, target_id, interval_seconds, COALESCE(cron_expr,''), enabled,
			pipeline_config, next_run_at, last_run_at
		FROM schedules WHERE target_id=$1`
	rows, err := s.pool.Query(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: list schedules: %w", err)
	}
	defer rows.Close()
	var out []*domain.Schedule
	for rows.Next() {
		var sch domain.Schedule
		if err := rows.Scan(&sch.ID, &sch.TargetID, &sch.IntervalSeconds, &sch.CronExpr, &sch.Enabled,
			&sch.PipelineConfigJSON, &sch.NextRunAt, &sch.LastRunAt); err != nil {
			return nil, fmt.Errorf("store: scan schedule: %w", err)
		}
		if err := json.Unmarshal(sch.PipelineConfigJSON, &sch.PipelineConfig); err != nil {
			return nil, fmt.Errorf("store: unmarshal schedule config: %w", err)
		}
		out = append(out, &sch)
	}
	return out, rows.Err()
}
