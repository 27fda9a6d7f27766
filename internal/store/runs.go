package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
)

// CreateRun inserts a new run in status=queued.
func (s *Store) CreateRun(ctx context.Context, r *domain.Run) error {
	cfgJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("store: marshal run config: %w", err)
	}
	const q = `
		INSERT INTO runs (id, target_id, trigger, status, config, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`
	row := s.pool.QueryRow(ctx, q, r.ID, r.TargetID, r.Trigger, r.Status, cfgJSON)
	return row.Scan(&r.CreatedAt)
}

// CreateRunIfNoneActive inserts a new run in status=queued, but only if the
// target has no other non-terminal manual/scheduled run in flight (spec §3:
// "at most one non-terminal pipeline run per target at any moment"). The
// check and the insert happen in one statement so two concurrent callers
// can't both observe "none active" and both insert. Returns errs.ErrConflict
// if another run is already active.
func (s *Store) CreateRunIfNoneActive(ctx context.Context, r *domain.Run) error {
	cfgJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("store: marshal run config: %w", err)
	}
	const q = `
		INSERT INTO runs (id, target_id, trigger, status, config, created_at)
		SELECT $1, $2, $3, $4, $5, now()
		WHERE NOT EXISTS (
			SELECT 1 FROM runs r
			WHERE r.target_id = $2 AND r.trigger IN ('manual','scheduled')
			  AND r.status IN ('queued','running')
		)
		RETURNING created_at`
	row := s.pool.QueryRow(ctx, q, r.ID, r.TargetID, r.Trigger, r.Status, cfgJSON)
	if err := row.Scan(&r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrConflict
		}
		return fmt.Errorf("store: create run if none active: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	const q = `
		SELECT id, target_id, trigger, status, config, failure_summary,
		       started_at, completed_at, created_at, COALESCE(stages_run, ARRAY[]::text[])
		FROM runs WHERE id=$1`
	var r domain.Run
	row := s.pool.QueryRow(ctx, q, id)
	if err := row.Scan(&r.ID, &r.TargetID, &r.Trigger, &r.Status, &r.ConfigJSON,
		&r.FailureSummary, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.StagesRun); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	if err := json.Unmarshal(r.ConfigJSON, &r.Config); err != nil {
		return nil, fmt.Errorf("store: unmarshal run config: %w", err)
	}
	return &r, nil
}

// ListRunsForTarget returns runs for a target, most recent first.
func (s *Store) ListRunsForTarget(ctx context.Context, targetID string) ([]*domain.Run, error) {
	const q = `
		SELECT id, target_id, trigger, status, config, failure_summary,
		       started_at, completed_at, created_at, COALESCE(stages_run, ARRAY[]::text[])
		FROM runs WHERE target_id=$1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()
	var out []*domain.Run
	for rows.Next() {
		var r domain.Run
		if err := rows.Scan(&r.ID, &r.TargetID, &r.Trigger, &r.Status, &r.ConfigJSON,
			&r.FailureSummary, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.StagesRun); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		if err := json.Unmarshal(r.ConfigJSON, &r.Config); err != nil {
			return nil, fmt.Errorf("store: unmarshal run config: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// TransitionRun moves a run to a new status, stamping started_at/completed_at
// as appropriate. Callers pass the terminal failure summary, if any.
func (s *Store) TransitionRun(ctx context.Context, id string, status domain.RunStatus, failureSummary string) error {
	var q string
	switch status {
	case domain.RunRunning:
		q = `UPDATE runs SET status=$2, started_at=now() WHERE id=$1 AND started_at IS NULL`
	case domain.RunCompleted, domain.RunFailed, domain.RunCancelled, domain.RunDiscarded:
		q = `UPDATE runs SET status=$2, failure_summary=$3, completed_at=now() WHERE id=$1`
	default:
		q = `UPDATE runs SET status=$2 WHERE id=$1`
	}
	tag, err := s.pool.Exec(ctx, q, id, status, failureSummary)
	if err != nil {
		return fmt.Errorf("store: transition run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RecordStageComplete appends a stage name to the run's stages_run list,
// used by the orchestrator to skip predecessors on restart (spec §3
// Run.StagesCompleted).
func (s *Store) RecordStageComplete(ctx context.Context, runID, stage string) error {
	const q = `UPDATE runs SET stages_run = array_append(COALESCE(stages_run, ARRAY[]::text[]), $2) WHERE id=$1`
	_, err := s.pool.Exec(ctx, q, runID, stage)
	if err != nil {
		return fmt.Errorf("store: record stage complete: %w", err)
	}
	return nil
}
