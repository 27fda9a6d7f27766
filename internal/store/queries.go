package store

import (
	"context"
	"fmt"

	"github.com/shadowpulse/reconengine/internal/domain"
)

// AssetsSeenInRun returns assets of the given type whose last_seen_run_id
// equals runID — i.e. freshly observed this run (used by the orchestrator
// to select the next stage's inputs, spec §4.7).
func (s *Store) AssetsSeenInRun(ctx context.Context, targetID, runID string, typ domain.AssetType) ([]*domain.Asset, error) {
	const q = `
		SELECT id, target_id, type, raw, normalized, status, status_reason,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM assets WHERE target_id=$1 AND last_seen_run_id=$2 AND type=$3
		ORDER BY normalized`
	rows, err := s.pool.Query(ctx, q, targetID, runID, typ)
	if err != nil {
		return nil, fmt.Errorf("store: assets seen in run: %w", err)
	}
	defer rows.Close()
	var out []*domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.TargetID, &a.Type, &a.Raw, &a.Normalized, &a.Status, &a.StatusReason,
			&a.FirstSeenRunID, &a.LastSeenRunID, &a.FirstSeenAt, &a.LastSeenAt, &a.VerifiedAt); err != nil {
			return nil, fmt.Errorf("store: scan asset: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CandidateNmapHosts returns up to limit IP assets seen this run, preferring
// previously-unscanned IPs (no existing service rows) then most-recently-
// active (spec §4.7 nmap stage policy).
func (s *Store) CandidateNmapHosts(ctx context.Context, targetID, runID string, limit int) ([]*domain.Asset, error) {
	const q = `
		SELECT a.id, a.target_id, a.type, a.raw, a.normalized, a.status, a.status_reason,
			a.first_seen_run_id, a.last_seen_run_id, a.first_seen_at, a.last_seen_at, a.verified_at
		FROM assets a
		WHERE a.target_id=$1 AND a.last_seen_run_id=$2 AND a.type='ip'
		ORDER BY (NOT EXISTS (SELECT 1 FROM services sv WHERE sv.asset_id = a.id)) DESC, a.last_seen_at DESC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, targetID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: candidate nmap hosts: %w", err)
	}
	defer rows.Close()
	var out []*domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.TargetID, &a.Type, &a.Raw, &a.Normalized, &a.Status, &a.StatusReason,
			&a.FirstSeenRunID, &a.LastSeenRunID, &a.FirstSeenAt, &a.LastSeenAt, &a.VerifiedAt); err != nil {
			return nil, fmt.Errorf("store: scan asset: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// HTTPLikeServicesSeenInRun returns services flagged HTTP-like (spec §4.7
// httpx stage policy) discovered or reconfirmed this run, joined to their
// owning asset's hostname.
type HostPort struct {
	Host    string
	Port    int
	AssetID string
}

func (s *Store) HTTPLikeServicesSeenInRun(ctx context.Context, targetID, runID string, limit int) ([]HostPort, error) {
	const q = `
		SELECT a.normalized, sv.port, sv.asset_id
		FROM services sv
		JOIN assets a ON a.id = sv.asset_id
		WHERE sv.target_id=$1 AND sv.last_seen_run_id=$2
		  AND (sv.port IN (80,443,8080,8443) OR sv.name ILIKE 'http%')
		ORDER BY a.normalized, sv.port
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, targetID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: http-like services: %w", err)
	}
	defer rows.Close()
	var out []HostPort
	for rows.Next() {
		var hp HostPort
		if err := rows.Scan(&hp.Host, &hp.Port, &hp.AssetID); err != nil {
			return nil, fmt.Errorf("store: scan host port: %w", err)
		}
		out = append(out, hp)
	}
	return out, rows.Err()
}

// StaleAssetCandidates returns the target's active assets whose
// last_seen_run_id is not runID. It does not filter by asset type: every
// active asset not observed in runID is returned, whichever stages the run
// executed.
func (s *Store) StaleAssetCandidates(ctx context.Context, targetID, runID string) ([]*domain.Asset, error) {
	const q = `
		SELECT id, target_id, type, raw, normalized, status, status_reason,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM assets
		WHERE target_id=$1 AND last_seen_run_id<>$2 AND status='active'`
	rows, err := s.pool.Query(ctx, q, targetID, runID)
	if err != nil {
		return nil, fmt.Errorf("store: stale asset candidates: %w", err)
	}
	defer rows.Close()
	var out []*domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.TargetID, &a.Type, &a.Raw, &a.Normalized, &a.Status, &a.StatusReason,
			&a.FirstSeenRunID, &a.LastSeenRunID, &a.FirstSeenAt, &a.LastSeenAt, &a.VerifiedAt); err != nil {
			return nil, fmt.Errorf("store: scan asset: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// StaleServiceCandidates mirrors StaleAssetCandidates for services. The
// query itself does not look at which stages ran; changes.Detect only calls
// it when the run's nmap stage ran (StagesRan.Services).
func (s *Store) StaleServiceCandidates(ctx context.Context, targetID, runID string) ([]*domain.Service, error) {
	const q = `
		SELECT id, target_id, asset_id, port, proto, COALESCE(name,''), COALESCE(product,''), COALESCE(version,''),
			status, status_reason, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM services
		WHERE target_id=$1 AND last_seen_run_id<>$2 AND status='active'`
	rows, err := s.pool.Query(ctx, q, targetID, runID)
	if err != nil {
		return nil, fmt.Errorf("store: stale service candidates: %w", err)
	}
	defer rows.Close()
	var out []*domain.Service
	for rows.Next() {
		var sv domain.Service
		if err := rows.Scan(&sv.ID, &sv.TargetID, &sv.AssetID, &sv.Port, &sv.Proto, &sv.Name, &sv.Product, &sv.Version,
			&sv.Status, &sv.StatusReason, &sv.FirstSeenRunID, &sv.LastSeenRunID, &sv.FirstSeenAt, &sv.LastSeenAt, &sv.VerifiedAt); err != nil {
			return nil, fmt.Errorf("store: scan service: %w", err)
		}
		out = append(out, &sv)
	}
	return out, rows.Err()
}

// NewAssetsInRun returns assets first seen in this run (spec §4.8 "New" diff).
func (s *Store) NewAssetsInRun(ctx context.Context, targetID, runID string) ([]*domain.Asset, error) {
	const q = `
		SELECT id, target_id, type, raw, normalized, status, status_reason,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM assets WHERE target_id=$1 AND first_seen_run_id=$2`
	rows, err := s.pool.Query(ctx, q, targetID, runID)
	if err != nil {
		return nil, fmt.Errorf("store: new assets in run: %w", err)
	}
	defer rows.Close()
	var out []*domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.TargetID, &a.Type, &a.Raw, &a.Normalized, &a.Status, &a.StatusReason,
			&a.FirstSeenRunID, &a.LastSeenRunID, &a.FirstSeenAt, &a.LastSeenAt, &a.VerifiedAt); err != nil {
			return nil, fmt.Errorf("store: scan asset: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// GetAssetByNormalized fetches a single asset by its unique key.
func (s *Store) GetAssetByNormalized(ctx context.Context, targetID string, typ domain.AssetType, normalized string) (*domain.Asset, error) {
	const q = `
		SELECT id, target_id, type, raw, normalized, status, status_reason,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM assets WHERE target_id=$1 AND type=$2 AND normalized=$3`
	var a domain.Asset
	row := s.pool.QueryRow(ctx, q, targetID, typ, normalized)
	if err := row.Scan(&a.ID, &a.TargetID, &a.Type, &a.Raw, &a.Normalized, &a.Status, &a.StatusReason,
		&a.FirstSeenRunID, &a.LastSeenRunID, &a.FirstSeenAt, &a.LastSeenAt, &a.VerifiedAt); err != nil {
		return nil, fmt.Errorf("store: get asset by normalized: %w", err)
	}
	return &a, nil
}

// GetAssetByID fetches a single asset by id.
func (s *Store) GetAssetByID(ctx context.Context, id string) (*domain.Asset, error) {
	const q = `
		SELECT id, target_id, type, raw, normalized, status, status_reason,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM assets WHERE id=$1`
	var a domain.Asset
	row := s.pool.QueryRow(ctx, q, id)
	if err := row.Scan(&a.ID, &a.TargetID, &a.Type, &a.Raw, &a.Normalized, &a.Status, &a.StatusReason,
		&a.FirstSeenRunID, &a.LastSeenRunID, &a.FirstSeenAt, &a.LastSeenAt, &a.VerifiedAt); err != nil {
		return nil, fmt.Errorf("store: get asset by id: %w", err)
	}
	return &a, nil
}

// GetServiceByID fetches a single service by id.
func (s *Store) GetServiceByID(ctx context.Context, id string) (*domain.Service, error) {
	const q = `
		SELECT id, target_id, asset_id, port, proto, COALESCE(name,''), COALESCE(product,''), COALESCE(version,''),
			status, status_reason, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM services WHERE id=$1`
	var sv domain.Service
	row := s.pool.QueryRow(ctx, q, id)
	if err := row.Scan(&sv.ID, &sv.TargetID, &sv.AssetID, &sv.Port, &sv.Proto, &sv.Name, &sv.Product, &sv.Version,
		&sv.Status, &sv.StatusReason, &sv.FirstSeenRunID, &sv.LastSeenRunID, &sv.FirstSeenAt, &sv.LastSeenAt, &sv.VerifiedAt); err != nil {
		return nil, fmt.Errorf("store: get service by id: %w", err)
	}
	return &sv, nil
}
