package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/eventbus"
	"github.com/shadowpulse/reconengine/internal/normalize"
	"github.com/shadowpulse/reconengine/pkg/scanners"
)

// RunScannerJob is the handler registered for every "scanner:<name>" job
// type (spec §4.4 + §4.3): it executes the named scanner against one target
// string, then ingests whatever the parser extracted as an atomic batch.
func (o *Orchestrator) RunScannerJob(ctx context.Context, job *domain.Job) error {
	name := strings.TrimPrefix(string(job.Type), "scanner:")
	desc, err := o.registry.Get(name)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	var p ScannerPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("orchestrator: unmarshal scanner payload: %w", err)
	}

	target, err := o.store.GetTarget(ctx, job.TargetID)
	if err != nil {
		return fmt.Errorf("orchestrator: get target: %w", err)
	}

	scan := &domain.Scan{
		ID: uuid.NewString(), TargetID: job.TargetID, RunID: p.RunID, JobID: job.ID,
		Scanner: name, TargetStr: p.TargetStr, Status: domain.ScanRunning,
	}
	if err := o.store.CreateScan(ctx, scan); err != nil {
		return fmt.Errorf("orchestrator: create scan: %w", err)
	}
	o.bus.Publish(eventbus.TopicScanStarted, map[string]string{"scan_id": scan.ID, "scanner": name, "target": p.TargetStr})

	result, runErr := o.runner.Run(ctx, scan.ID, desc, target.Scope, p.TargetStr)
	if runErr != nil {
		_ = o.store.CompleteScan(ctx, scan.ID, domain.ScanFailed, result.RawOutput, result.DroppedLines, runErr.Error())
		o.bus.Publish(eventbus.TopicScanCompleted, map[string]string{"scan_id": scan.ID, "status": "failed"})
		return fmt.Errorf("orchestrator: scanner %s: %w", name, runErr)
	}

	if err := o.ingest(ctx, target, p.RunID, scan, result.Parsed); err != nil {
		_ = o.store.CompleteScan(ctx, scan.ID, domain.ScanFailed, result.RawOutput, result.DroppedLines, err.Error())
		return fmt.Errorf("orchestrator: ingest %s output: %w", name, err)
	}

	if err := o.store.CompleteScan(ctx, scan.ID, domain.ScanCompleted, result.RawOutput, result.DroppedLines, ""); err != nil {
		return fmt.Errorf("orchestrator: complete scan: %w", err)
	}
	o.bus.Publish(eventbus.TopicScanCompleted, map[string]string{"scan_id": scan.ID, "status": "completed"})
	return nil
}

// assetBatch accumulates the assets one scan's ingestion produces, keyed so
// the edge/finding loops below can resolve a parser's raw endpoint strings
// back to the row just upserted for them.
type assetBatch map[string]*domain.Asset

// ingest normalizes and upserts one scan's parsed output as a single
// transaction (spec §4.3: "partial failures abort the batch").
func (o *Orchestrator) ingest(ctx context.Context, target *domain.Target, runID string, scan *domain.Scan, parsed scanners.ParseResult) error {
	tx, err := o.store.BeginIngestionTx(ctx)
	if err != nil {
		return fmt.Errorf("begin ingestion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := assetBatch{}

	for _, pa := range parsed.Assets {
		norm, err := normalizeAsset(pa.Type, pa.Raw, target.Scope)
		if err != nil {
			o.audit(ctx, runID, target.ID, domain.EventNormalizationFailed, map[string]string{"raw": pa.Raw, "reason": err.Error()})
			continue
		}
		asset, err := o.store.UpsertAssetSeen(ctx, tx, target.ID, runID, pa.Type, pa.Raw, norm)
		if err != nil {
			return fmt.Errorf("upsert asset %q: %w", norm, err)
		}
		batch[assetKey(pa.Type, norm)] = asset
		o.bus.Publish(eventbus.TopicAssetStateChanged, map[string]string{"asset_id": asset.ID, "normalized": norm})
	}

	for _, ps := range parsed.Services {
		hostAsset, err := o.resolveOrCreateHostAsset(ctx, tx, target, runID, ps.HostRaw, batch)
		if err != nil {
			o.audit(ctx, runID, target.ID, domain.EventNormalizationFailed, map[string]string{"raw": ps.HostRaw, "reason": err.Error()})
			continue
		}
		_, port, proto, err := normalize.Service(ps.HostRaw, ps.Port, ps.Proto)
		if err != nil {
			o.audit(ctx, runID, target.ID, domain.EventNormalizationFailed, map[string]string{"raw": ps.HostRaw, "reason": err.Error()})
			continue
		}
		if _, err := o.store.UpsertServiceSeen(ctx, tx, target.ID, runID, hostAsset.ID, port, domain.Proto(proto), ps.Name, ps.Product, ps.Version); err != nil {
			return fmt.Errorf("upsert service %s:%d: %w", hostAsset.Normalized, port, err)
		}
	}

	for _, pe := range parsed.Edges {
		from, fromOK := batch.lookup(pe.FromRaw)
		to, toOK := batch.lookup(pe.ToRaw)
		if !fromOK || !toOK {
			continue // edge references an asset this batch never produced; skip rather than guess
		}
		if _, err := o.store.UpsertEdgeSeen(ctx, tx, target.ID, runID, from.ID, to.ID, pe.RelType); err != nil {
			return fmt.Errorf("upsert edge %s->%s: %w", pe.FromRaw, pe.ToRaw, err)
		}
	}

	for _, pf := range parsed.Findings {
		finding := &domain.Finding{
			ID: uuid.NewString(), TargetID: target.ID, RunID: runID, ScanID: scan.ID,
			Severity: pf.Severity, Title: pf.Title, Description: pf.Description, CVE: pf.CVE, CVSS: pf.CVSS,
		}
		if asset, ok := batch.lookup(pf.AssetRaw); ok {
			finding.AssetID = &asset.ID
		}
		if err := o.store.CreateFinding(ctx, finding); err != nil {
			return fmt.Errorf("create finding %q: %w", pf.Title, err)
		}
		o.audit(ctx, runID, target.ID, domain.EventFindingDiscovered, map[string]string{"finding_id": finding.ID, "severity": string(finding.Severity)})
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ingestion tx: %w", err)
	}
	return nil
}

// lookup resolves a parser's raw endpoint string back to an asset already
// upserted in this batch, trying each normalization this batch could have
// stored it under.
func (b assetBatch) lookup(raw string) (*domain.Asset, bool) {
	if norm, err := normalize.URL(raw); err == nil {
		if a, ok := b[assetKey(domain.AssetURL, norm)]; ok {
			return a, true
		}
	}
	if norm, err := normalize.Host(raw); err == nil {
		for _, typ := range []domain.AssetType{domain.AssetSubdomain, domain.AssetHost} {
			if a, ok := b[assetKey(typ, norm)]; ok {
				return a, true
			}
		}
	}
	if norm, err := normalize.IP(raw, normalize.IPOptions{AllowPrivate: true}); err == nil {
		if a, ok := b[assetKey(domain.AssetIP, norm)]; ok {
			return a, true
		}
	}
	return nil, false
}

// resolveOrCreateHostAsset returns the asset that owns a service, reusing
// whatever this batch already produced for the same host/ip before issuing
// a fresh upsert — most service records describe the exact target string
// the scanner was invoked against, which was usually already ingested
// upstream in the same batch (e.g. dns_resolve's IP before nmap's service).
func (o *Orchestrator) resolveOrCreateHostAsset(ctx context.Context, tx pgx.Tx, target *domain.Target, runID, hostRaw string, batch assetBatch) (*domain.Asset, error) {
	if a, ok := batch.lookup(hostRaw); ok {
		return a, nil
	}
	typ := domain.AssetHost
	if net.ParseIP(strings.TrimSpace(hostRaw)) != nil {
		typ = domain.AssetIP
	}
	norm, err := normalizeAsset(typ, hostRaw, target.Scope)
	if err != nil {
		return nil, err
	}
	asset, err := o.store.UpsertAssetSeen(ctx, tx, target.ID, runID, typ, hostRaw, norm)
	if err != nil {
		return nil, err
	}
	batch[assetKey(typ, norm)] = asset
	return asset, nil
}

func normalizeAsset(typ domain.AssetType, raw string, scope domain.ScopePolicy) (string, error) {
	switch typ {
	case domain.AssetIP:
		return normalize.IP(raw, normalize.IPOptions{AllowPrivate: scope.AllowPrivateIPs})
	case domain.AssetURL:
		return normalize.URL(raw)
	default:
		return normalize.Host(raw)
	}
}

func assetKey(typ domain.AssetType, normalized string) string {
	return string(typ) + "|" + normalized
}

func (o *Orchestrator) audit(ctx context.Context, runID, targetID string, kind domain.RunEventKind, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		o.log.Warn().Err(err).Msg("marshal audit payload")
		return
	}
	ev := &domain.RunEvent{ID: uuid.NewString(), RunID: runID, TargetID: targetID, Kind: kind, Payload: body}
	if err := o.store.RecordRunEvent(ctx, ev); err != nil {
		o.log.Warn().Err(err).Msg("record run event")
	}
}
