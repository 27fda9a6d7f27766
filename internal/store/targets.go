package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
)

// CreateTarget inserts a new target with its scope policy.
func (s *Store) CreateTarget(ctx context.Context, t *domain.Target) error {
	scopeJSON, err := json.Marshal(t.Scope)
	if err != nil {
		return fmt.Errorf("store: marshal scope: %w", err)
	}
	const q = `
		INSERT INTO targets (id, display_name, root_domain, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at`
	row := s.pool.QueryRow(ctx, q, t.ID, t.DisplayName, t.RootDomain, scopeJSON)
	return row.Scan(&t.CreatedAt, &t.UpdatedAt)
}

// GetTarget fetches a target by id. Goes through the sqlx handle rather
// than the pgx pool: a single-row struct scan is exactly what sqlx is for,
// and it is the read path internal/store's sqlmock-backed tests exercise.
func (s *Store) GetTarget(ctx context.Context, id string) (*domain.Target, error) {
	const q = `SELECT id, display_name, root_domain, scope, created_at, updated_at FROM targets WHERE id=$1`
	var t domain.Target
	if err := s.db.GetContext(ctx, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("store: get target: %w", err)
	}
	if err := json.Unmarshal(t.ScopeJSON, &t.Scope); err != nil {
		return nil, fmt.Errorf("store: unmarshal scope: %w", err)
	}
	return &t, nil
}

// UpdateTargetScope replaces a target's scope policy.
func (s *Store) UpdateTargetScope(ctx context.Context, id string, policy domain.ScopePolicy) error {
	scopeJSON, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("store: marshal scope: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE targets SET scope=$2, updated_at=now() WHERE id=$1`, id, scopeJSON)
	if err != nil {
		return fmt.Errorf("store: update target scope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListTargets returns all targets ordered by creation time.
func (s *Store) ListTargets(ctx context.Context) ([]*domain.Target, error) {
	const q = `SELECT id, display_name, root_domain, scope, created_at, updated_at FROM targets ORDER BY created_at`
	var rows []domain.Target
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("store: list targets: %w", err)
	}
	out := make([]*domain.Target, 0, len(rows))
	for i := range rows {
		t := &rows[i]
		if err := json.Unmarshal(t.ScopeJSON, &t.Scope); err != nil {
			return nil, fmt.Errorf("store: unmarshal scope: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// HasActivePipelineRun reports whether target has a non-terminal pipeline
// run, the invariant the scheduler and the manual-trigger API must respect
// (spec §3 Run invariants).
func (s *Store) HasActivePipelineRun(ctx context.Context, targetID string) (bool, error) {
	const q = `
		SELECT EXISTS(
			SELECT 1 FROM runs
			WHERE target_id=$1 AND trigger IN ('manual','scheduled')
			  AND status IN ('queued','running')
		)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, targetID).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: has active run: %w", err)
	}
	return exists, nil
}
