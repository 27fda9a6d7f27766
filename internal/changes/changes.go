// Package changes implements the Change Detector (C8, spec §4.8): after a
// run's last stage completes, it computes the new/candidate-stale diff and
// drives the active/stale lifecycle transition.
package changes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/eventbus"
	"github.com/shadowpulse/reconengine/internal/queue"
	"github.com/shadowpulse/reconengine/internal/store"
)

// StagesRan records which stage kinds actually executed during a run, so
// stale detection can be scoped to what was truly in play (spec §4.8: "a
// pipeline that skipped nmap must not declare services stale").
type StagesRan struct {
	Assets   bool // subfinder / dns_resolve / httpx all touch assets
	Services bool // nmap
}

// Detector computes diffs and enqueues verification jobs.
type Detector struct {
	store *store.Store
	q     *queue.Queue
	bus   *eventbus.Bus
	log   zerolog.Logger
}

// New constructs a Detector.
func New(st *store.Store, q *queue.Queue, bus *eventbus.Bus, log zerolog.Logger) *Detector {
	return &Detector{store: st, q: q, bus: bus, log: log.With().Str("component", "changes").Logger()}
}

// Result summarizes one run's diff.
type Result struct {
	NewAssetIDs      []string
	StaleAssetIDs    []string
	StaleServiceIDs  []string
	RevivedAssetIDs  []string
}

// Detect computes the two diffs in one pass and applies the
// active<->stale transitions (spec §4.8):
//  1. New: assets whose first_seen_run_id = run.ID.
//  2. Candidate-stale: in-scope artifacts not observed this run that were
//     previously active. They transition active->stale immediately and a
//     verification job is enqueued above normal pipeline priority.
//
// Artifacts already stale|closed|unresolved that WERE observed this run
// were already revived to active by the upsert_*_seen calls during
// ingestion (spec §4.3); Detect neither redoes nor reports that part, and
// it leaves Result.RevivedAssetIDs empty.
func (d *Detector) Detect(ctx context.Context, run *domain.Run, stagesRan StagesRan) (Result, error) {
	var res Result

	newAssets, err := d.store.NewAssetsInRun(ctx, run.TargetID, run.ID)
	if err != nil {
		return res, fmt.Errorf("changes: new assets: %w", err)
	}
	for _, a := range newAssets {
		res.NewAssetIDs = append(res.NewAssetIDs, a.ID)
	}

	if stagesRan.Assets {
		staleAssets, err := d.store.StaleAssetCandidates(ctx, run.TargetID, run.ID)
		if err != nil {
			return res, fmt.Errorf("changes: stale asset candidates: %w", err)
		}
		for _, a := range staleAssets {
			if err := d.store.TransitionAssetStatus(ctx, a.ID, domain.StatusStale, "not observed in run "+run.ID); err != nil {
				return res, fmt.Errorf("changes: transition asset stale: %w", err)
			}
			res.StaleAssetIDs = append(res.StaleAssetIDs, a.ID)
			if _, err := d.q.Enqueue(ctx, run.TargetID, domain.JobVerifyAsset,
				verifyAssetPayload{AssetID: a.ID}, queue.EnqueueOptions{
					Priority: domain.VerificationPriorityOverPipeline,
				}); err != nil {
				return res, fmt.Errorf("changes: enqueue verify_asset: %w", err)
			}
			d.audit(ctx, run, domain.EventAssetStateChanged, map[string]string{"asset_id": a.ID, "status": "stale"})
		}
	}

	if stagesRan.Services {
		staleServices, err := d.store.StaleServiceCandidates(ctx, run.TargetID, run.ID)
		if err != nil {
			return res, fmt.Errorf("changes: stale service candidates: %w", err)
		}
		for _, sv := range staleServices {
			if err := d.store.TransitionServiceStatus(ctx, sv.ID, domain.StatusStale, "not observed in run "+run.ID); err != nil {
				return res, fmt.Errorf("changes: transition service stale: %w", err)
			}
			res.StaleServiceIDs = append(res.StaleServiceIDs, sv.ID)
			if _, err := d.q.Enqueue(ctx, run.TargetID, domain.JobVerifyService,
				verifyServicePayload{ServiceID: sv.ID}, queue.EnqueueOptions{
					Priority: domain.VerificationPriorityOverPipeline,
				}); err != nil {
				return res, fmt.Errorf("changes: enqueue verify_service: %w", err)
			}
			d.audit(ctx, run, domain.EventAssetStateChanged, map[string]string{"service_id": sv.ID, "status": "stale"})
		}
	}

	d.bus.Publish(eventbus.TopicRunCompleted, map[string]any{
		"run_id": run.ID, "new": len(res.NewAssetIDs), "stale": len(res.StaleAssetIDs) + len(res.StaleServiceIDs),
	})
	return res, nil
}

type verifyAssetPayload struct {
	AssetID string `json:"asset_id"`
}

type verifyServicePayload struct {
	ServiceID string `json:"service_id"`
}

func (d *Detector) audit(ctx context.Context, run *domain.Run, kind domain.RunEventKind, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Warn().Err(err).Msg("marshal audit payload")
		return
	}
	ev := &domain.RunEvent{ID: uuid.NewString(), RunID: run.ID, TargetID: run.TargetID, Kind: kind, Payload: body}
	if err := d.store.RecordRunEvent(ctx, ev); err != nil {
		d.log.Warn().Err(err).Msg("record run event")
	}
}
