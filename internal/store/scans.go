package store

import (
	"context"
	"fmt"

	"github.com/shadowpulse/reconengine/internal/domain"
)

// CreateScan inserts a new scan row in status=running.
func (s *Store) CreateScan(ctx context.Context, sc *domain.Scan) error {
	const q = `
		INSERT INTO scans (id, target_id, run_id, job_id, scanner, target_str, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING started_at`
	row := s.pool.QueryRow(ctx, q, sc.ID, sc.TargetID, sc.RunID, sc.JobID, sc.Scanner, sc.TargetStr, sc.Status)
	return row.Scan(&sc.StartedAt)
}

// CompleteScan finalizes a scan with truncated raw output (spec §4.4 step 6).
// Immutable once completed or failed (spec §3).
func (s *Store) CompleteScan(ctx context.Context, id string, status domain.ScanStatus, rawOutput string, droppedLines int, failureReason string) error {
	const q = `
		UPDATE scans SET status=$2, raw_output=$3, dropped_lines=$4, failure_reason=$5, completed_at=now()
		WHERE id=$1 AND completed_at IS NULL`
	_, err := s.pool.Exec(ctx, q, id, status, rawOutput, droppedLines, failureReason)
	if err != nil {
		return fmt.Errorf("store: complete scan: %w", err)
	}
	return nil
}

// ListScansForTarget returns scans for a target, most recent first.
func (s *Store) ListScansForTarget(ctx context.Context, targetID string) ([]*domain.Scan, error) {
	const q = `
		SELECT id, target_id, run_id, job_id, scanner, target_str, status,
			COALESCE(raw_output,''), dropped_lines, COALESCE(failure_reason,''), started_at, completed_at
		FROM scans WHERE target_id=$1 ORDER BY started_at DESC`
	rows, err := s.pool.Query(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: list scans: %w", err)
	}
	defer rows.Close()
	var out []*domain.Scan
	for rows.Next() {
		var sc domain.Scan
		if err := rows.Scan(&sc.ID, &sc.TargetID, &sc.RunID, &sc.JobID, &sc.Scanner, &sc.TargetStr, &sc.Status,
			&sc.RawOutput, &sc.DroppedLines, &sc.FailureReason, &sc.StartedAt, &sc.CompletedAt); err != nil {
			return nil, fmt.Errorf("store: scan scan row: %w", err)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// PurgeRawOutputOlderThan blanks raw_output for scans started before cutoff,
// used by the retention sweeper (spec §4.12).
func (s *Store) PurgeRawOutputOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scans SET raw_output='' WHERE started_at < now() - ($1 || ' days')::interval AND raw_output <> ''`, days)
	if err != nil {
		return 0, fmt.Errorf("store: purge raw output: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeCompletedRunsOlderThan deletes completed runs (and cascading scans
// and jobs) older than the retention cutoff, but never inventory/findings
// (spec §4.12).
func (s *Store) PurgeCompletedRunsOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM runs
		WHERE status IN ('completed','failed','cancelled','discarded')
		  AND completed_at < now() - ($1 || ' days')::interval`, days)
	if err != nil {
		return 0, fmt.Errorf("store: purge completed runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
