package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shadowpulse/reconengine/internal/domain"
)

// UpsertAssetSeen implements the C3 contract (spec §4.3): normalize
// happens in the caller (internal/normalize); this takes the already
// normalized value and upserts provenance. On conflict with the unique key
// (target_id, type, normalized) it bumps last_seen_*, clears
// status_reason, and revives stale|closed|unresolved assets to active with
// verified_at=now. On insert it sets first_seen_* = last_seen_*.
func (s *Store) UpsertAssetSeen(ctx context.Context, tx pgx.Tx, targetID, runID string, typ domain.AssetType, raw, normalized string) (*domain.Asset, error) {
	const q = `
		INSERT INTO assets (id, target_id, type, raw, normalized, status,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 'active', $5, $5, now(), now())
		ON CONFLICT (target_id, type, normalized) DO UPDATE SET
			last_seen_run_id = $5,
			last_seen_at = now(),
			status_reason = NULL,
			status = CASE WHEN assets.status IN ('stale','closed','unresolved') THEN 'active' ELSE assets.status END,
			verified_at = CASE WHEN assets.status IN ('stale','closed','unresolved') THEN now() ELSE assets.verified_at END
		RETURNING id, target_id, type, raw, normalized, status, status_reason,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at`
	var a domain.Asset
	row := querier(tx, s).QueryRow(ctx, q, targetID, typ, raw, normalized, runID)
	if err := row.Scan(&a.ID, &a.TargetID, &a.Type, &a.Raw, &a.Normalized, &a.Status, &a.StatusReason,
		&a.FirstSeenRunID, &a.LastSeenRunID, &a.FirstSeenAt, &a.LastSeenAt, &a.VerifiedAt); err != nil {
		return nil, fmt.Errorf("store: upsert asset seen: %w", err)
	}
	return &a, nil
}

// UpsertServiceSeen implements the C3 service-upsert contract, additionally
// merging non-null product/version fields (last writer wins for a run).
func (s *Store) UpsertServiceSeen(ctx context.Context, tx pgx.Tx, targetID, runID, assetID string, port int, proto domain.Proto, name, product, version string) (*domain.Service, error) {
	const q = `
		INSERT INTO services (id, target_id, asset_id, port, proto, name, product, version, status,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), 'active', $8, $8, now(), now())
		ON CONFLICT (target_id, asset_id, port, proto) DO UPDATE SET
			last_seen_run_id = $8,
			last_seen_at = now(),
			status_reason = NULL,
			name = COALESCE(NULLIF($5,''), services.name),
			product = COALESCE(NULLIF($6,''), services.product),
			version = COALESCE(NULLIF($7,''), services.version),
			status = CASE WHEN services.status IN ('stale','closed','unresolved') THEN 'active' ELSE services.status END,
			verified_at = CASE WHEN services.status IN ('stale','closed','unresolved') THEN now() ELSE services.verified_at END
		RETURNING id, target_id, asset_id, port, proto, COALESCE(name,''), COALESCE(product,''), COALESCE(version,''),
			status, status_reason, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at`
	var sv domain.Service
	row := querier(tx, s).QueryRow(ctx, q, targetID, assetID, port, proto, name, product, version, runID)
	if err := row.Scan(&sv.ID, &sv.TargetID, &sv.AssetID, &sv.Port, &sv.Proto, &sv.Name, &sv.Product, &sv.Version,
		&sv.Status, &sv.StatusReason, &sv.FirstSeenRunID, &sv.LastSeenRunID, &sv.FirstSeenAt, &sv.LastSeenAt, &sv.VerifiedAt); err != nil {
		return nil, fmt.Errorf("store: upsert service seen: %w", err)
	}
	return &sv, nil
}

// UpsertEdgeSeen implements the C3 edge-upsert contract.
func (s *Store) UpsertEdgeSeen(ctx context.Context, tx pgx.Tx, targetID, runID, fromAssetID, toAssetID string, relType domain.EdgeRelType) (*domain.Edge, error) {
	const q = `
		INSERT INTO edges (id, target_id, from_asset_id, to_asset_id, rel_type,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $5, now(), now())
		ON CONFLICT (from_asset_id, to_asset_id, rel_type) DO UPDATE SET
			last_seen_run_id = $5,
			last_seen_at = now()
		RETURNING id, target_id, from_asset_id, to_asset_id, rel_type,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at`
	var e domain.Edge
	row := querier(tx, s).QueryRow(ctx, q, targetID, fromAssetID, toAssetID, relType, runID)
	if err := row.Scan(&e.ID, &e.TargetID, &e.FromAssetID, &e.ToAssetID, &e.RelType,
		&e.FirstSeenRunID, &e.LastSeenRunID, &e.FirstSeenAt, &e.LastSeenAt, &e.VerifiedAt); err != nil {
		return nil, fmt.Errorf("store: upsert edge seen: %w", err)
	}
	return &e, nil
}

// querier lets upsert helpers run either inside a caller-supplied
// transaction (the normal ingestion path, which batches a scan's records
// transactionally per spec §4.3) or directly against the pool (tests,
// one-off calls).
func querier(tx pgx.Tx, s *Store) interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if tx != nil {
		return tx
	}
	return s.pool
}

// BeginIngestionTx starts the transaction a batch of upsert_*_seen calls
// for one scan's output must share, so a partial failure aborts the whole
// batch (spec §4.3: "Ingestion is transactional per batch of records").
func (s *Store) BeginIngestionTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// ListAssetsForTarget returns all assets for a target.
func (s *Store) ListAssetsForTarget(ctx context.Context, targetID string) ([]*domain.Asset, error) {
	const q = `
		SELECT id, target_id, type, raw, normalized, status, status_reason,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM assets WHERE target_id=$1 ORDER BY normalized`
	rows, err := s.pool.Query(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: list assets: %w", err)
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

// ListServicesForTarget returns all services for a target.
func (s *Store) ListServicesForTarget(ctx context.Context, targetID string) ([]*domain.Service, error) {
	const q = `
		SELECT id, target_id, asset_id, port, proto, COALESCE(name,''), COALESCE(product,''), COALESCE(version,''),
			status, status_reason, first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM services WHERE target_id=$1 ORDER BY port`
	rows, err := s.pool.Query(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: list services: %w", err)
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

// ListEdgesForTarget returns all edges for a target.
func (s *Store) ListEdgesForTarget(ctx context.Context, targetID string) ([]*domain.Edge, error) {
	const q = `
		SELECT id, target_id, from_asset_id, to_asset_id, rel_type,
			first_seen_run_id, last_seen_run_id, first_seen_at, last_seen_at, verified_at
		FROM edges WHERE target_id=$1`
	rows, err := s.pool.Query(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: list edges: %w", err)
	}
	defer rows.Close()
	var out []*domain.Edge
	for rows.Next() {
		var e domain.Edge
		if err := rows.Scan(&e.ID, &e.TargetID, &e.FromAssetID, &e.ToAssetID, &e.RelType,
			&e.FirstSeenRunID, &e.LastSeenRunID, &e.FirstSeenAt, &e.LastSeenAt, &e.VerifiedAt); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// TransitionAssetStatus sets an asset's status/reason, used by the change
// detector and verification subsystem.
func (s *Store) TransitionAssetStatus(ctx context.Context, id string, status domain.ArtifactStatus, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE assets SET status=$2, status_reason=$3 WHERE id=$1`, id, status, reason)
	if err != nil {
		return fmt.Errorf("store: transition asset: %w", err)
	}
	return nil
}

// TransitionServiceStatus sets a service's status/reason.
func (s *Store) TransitionServiceStatus(ctx context.Context, id string, status domain.ArtifactStatus, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE services SET status=$2, status_reason=$3 WHERE id=$1`, id, status, reason)
	if err != nil {
		return fmt.Errorf("store: transition service: %w", err)
	}
	return nil
}
