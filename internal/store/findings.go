package store

import (
	"context"
	"fmt"

	"github.com/shadowpulse/reconengine/internal/domain"
)

// CreateFinding inserts a finding produced by a scan's parser.
func (s *Store) CreateFinding(ctx context.Context, f *domain.Finding) error {
	const q = `
		INSERT INTO findings (id, target_id, run_id, scan_id, asset_id, service_id,
			severity, title, description, impact, remediation, cve, cvss, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		RETURNING created_at`
	row := s.pool.QueryRow(ctx, q, f.ID, f.TargetID, f.RunID, f.ScanID, f.AssetID, f.ServiceID,
		f.Severity, f.Title, f.Description, f.Impact, f.Remediation, f.CVE, f.CVSS)
	return row.Scan(&f.CreatedAt)
}

// ListFindingsForTarget returns findings for a target, most severe first.
func (s *Store) ListFindingsForTarget(ctx context.Context, targetID string) ([]*domain.Finding, error) {
	const q = `
		SELECT id, target_id, run_id, scan_id, asset_id, service_id, severity,
			title, COALESCE(description,''), COALESCE(impact,''), COALESCE(remediation,''),
			COALESCE(cve,''), cvss, created_at
		FROM findings WHERE target_id=$1
		ORDER BY CASE severity
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END, created_at DESC`
	rows, err := s.pool.Query(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: list findings: %w", err)
	}
	defer rows.Close()
	var out []*domain.Finding
	for rows.Next() {
		var f domain.Finding
		if err := rows.Scan(&f.ID, &f.TargetID, &f.RunID, &f.ScanID, &f.AssetID, &f.ServiceID, &f.Severity,
			&f.Title, &f.Description, &f.Impact, &f.Remediation, &f.CVE, &f.CVSS, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan finding: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
