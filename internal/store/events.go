package store

import (
	"context"
	"fmt"

	"github.com/shadowpulse/reconengine/internal/domain"
)

// RecordRunEvent appends an audit row. Events triggers persistent RunEvent
// rows for all terminal transitions (spec §4.11).
func (s *Store) RecordRunEvent(ctx context.Context, e *domain.RunEvent) error {
	const q = `
		INSERT INTO run_events (id, run_id, target_id, kind, payload, ts)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING ts`
	row := s.pool.QueryRow(ctx, q, e.ID, e.RunID, e.TargetID, e.Kind, e.Payload)
	return row.Scan(&e.Ts)
}

// ListRunEvents returns the audit log for a run in chronological order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]*domain.RunEvent, error) {
	const q = `SELECT id, run_id, target_id, kind, payload, ts FROM run_events WHERE run_id=$1 ORDER BY ts`
	rows, err := s.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list run events: %w", err)
	}
	defer rows.Close()
	var out []*domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.TargetID, &e.Kind, &e.Payload, &e.Ts); err != nil {
			return nil, fmt.Errorf("store: scan run event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListRunEventsForTarget returns a target's audit log across all its runs,
// most recent first, restricted to the change-relevant event kinds the
// GET /api/targets/{id}/changes contract exposes (spec §6/§4.11).
func (s *Store) ListRunEventsForTarget(ctx context.Context, targetID string, limit int) ([]*domain.RunEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
		SELECT id, run_id, target_id, kind, payload, ts FROM run_events
		WHERE target_id=$1
		  AND kind IN ($2, $3, $4, $5)
		ORDER BY ts DESC
		LIMIT $6`
	rows, err := s.pool.Query(ctx, q, targetID,
		domain.EventAssetStateChanged, domain.EventVerificationResolved,
		domain.EventFindingDiscovered, domain.EventNormalizationFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list run events for target: %w", err)
	}
	defer rows.Close()
	var out []*domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.TargetID, &e.Kind, &e.Payload, &e.Ts); err != nil {
			return nil, fmt.Errorf("store: scan run event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
