// Package orchestrator sequences one end-to-end recon run as the fixed
// scanner DAG (C7, spec §4.7):
//
//	subfinder -> dns_resolve -> nmap -> httpx -> nuclei
//
// Each stage is an independent job enqueued only when its predecessor
// completed; the pipeline job's handler (RunPipeline) stays alive for the
// run's duration, coordinating stage transitions over the job queue rather
// than calling scanners directly.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/changes"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
	"github.com/shadowpulse/reconengine/internal/eventbus"
	"github.com/shadowpulse/reconengine/internal/queue"
	"github.com/shadowpulse/reconengine/internal/runner"
	"github.com/shadowpulse/reconengine/internal/store"
	"github.com/shadowpulse/reconengine/pkg/scanners"
)

// stageOrder is the fixed DAG's linear walk order (spec §4.7).
var stageOrder = []string{"subfinder", "dns_resolve", "nmap", "httpx", "nuclei"}

// criticalStage is the one stage whose failure aborts the whole run; every
// other stage is best-effort (spec §7: "the run does not abort on child
// failure unless the failed child is marked critical").
const criticalStage = "dns_resolve"

// pollInterval bounds how often the pipeline handler checks on its child
// stage jobs; matches the worker pool's own empty-poll cadence (spec §4.6:
// "50-500 ms, back-off on empty polls").
const pollInterval = 250 * time.Millisecond

// Orchestrator coordinates pipeline runs and individual scanner jobs.
type Orchestrator struct {
	store    *store.Store
	q        *queue.Queue
	bus      *eventbus.Bus
	detector *changes.Detector
	registry *scanners.Registry
	runner   *runner.Runner
	log      zerolog.Logger
}

// New constructs an Orchestrator.
func New(st *store.Store, q *queue.Queue, bus *eventbus.Bus, detector *changes.Detector, registry *scanners.Registry, rn *runner.Runner, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store: st, q: q, bus: bus, detector: detector, registry: registry, runner: rn,
		log: log.With().Str("component", "orchestrator").Logger(),
	}
}

type pipelinePayload struct {
	RunID string `json:"run_id"`
}

// ScannerPayload is the payload shape for every `scanner:<name>` job this
// orchestrator enqueues.
type ScannerPayload struct {
	RunID     string `json:"run_id"`
	TargetStr string `json:"target_str"`
}

// RunPipeline is the handler registered for domain.JobPipeline. It blocks
// for the run's duration; the worker pool's heartbeat loop keeps its 2-hour
// lease (spec §4.5) alive while it does.
func (o *Orchestrator) RunPipeline(ctx context.Context, job *domain.Job) error {
	var p pipelinePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("orchestrator: unmarshal pipeline payload: %w", err)
	}

	run, err := o.store.GetRun(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("orchestrator: get run: %w", err)
	}
	target, err := o.store.GetTarget(ctx, run.TargetID)
	if err != nil {
		return fmt.Errorf("orchestrator: get target: %w", err)
	}
	if err := o.store.TransitionRun(ctx, run.ID, domain.RunRunning, ""); err != nil {
		return fmt.Errorf("orchestrator: mark run running: %w", err)
	}
	o.bus.Publish(eventbus.TopicRunStarted, map[string]string{"run_id": run.ID, "target_id": run.TargetID})

	var stagesRan changes.StagesRan
	for _, stage := range stageOrder {
		if run.StagesCompleted(stage) {
			continue // restart resume: already completed before a crash
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if cancelled, err := o.q.IsCancelRequested(ctx, job.ID); err == nil && cancelled {
			_ = o.q.CancelChildren(ctx, job.ID)
			_ = o.store.TransitionRun(ctx, run.ID, domain.RunCancelled, "pipeline job cancelled")
			return errs.ErrCancelled
		}

		targets, err := o.selectStageTargets(ctx, run, target, stage)
		if err != nil {
			return fmt.Errorf("orchestrator: select targets for %s: %w", stage, err)
		}
		if len(targets) == 0 {
			if err := o.store.RecordStageComplete(ctx, run.ID, stage); err != nil {
				return fmt.Errorf("orchestrator: record stage skip: %w", err)
			}
			continue
		}

		switch stage {
		case "nmap":
			stagesRan.Services = true
		case "subfinder", "dns_resolve", "httpx":
			stagesRan.Assets = true
		}

		childIDs, err := o.enqueueStage(ctx, job.ID, run, stage, targets)
		if err != nil {
			return fmt.Errorf("orchestrator: enqueue stage %s: %w", stage, err)
		}
		failed, err := o.waitForChildren(ctx, childIDs)
		if err != nil {
			return fmt.Errorf("orchestrator: wait for stage %s: %w", stage, err)
		}
		if failed && stage == criticalStage {
			summary := fmt.Sprintf("critical stage %s failed", stage)
			_ = o.store.TransitionRun(ctx, run.ID, domain.RunFailed, summary)
			// A stage failure does not revert inventory from earlier
			// completed stages (spec §4.7).
			return fmt.Errorf("orchestrator: %s", summary)
		}
		if failed {
			o.log.Warn().Str("run_id", run.ID).Str("stage", stage).
				Msg("best-effort stage failed, pipeline continues")
		}
		if err := o.store.RecordStageComplete(ctx, run.ID, stage); err != nil {
			return fmt.Errorf("orchestrator: record stage complete: %w", err)
		}
	}

	detectResult, err := o.detector.Detect(ctx, run, stagesRan)
	if err != nil {
		return fmt.Errorf("orchestrator: change detection: %w", err)
	}
	o.log.Info().Str("run_id", run.ID).Int("new", len(detectResult.NewAssetIDs)).
		Int("stale_assets", len(detectResult.StaleAssetIDs)).Msg("run completed")

	if err := o.store.TransitionRun(ctx, run.ID, domain.RunCompleted, ""); err != nil {
		return fmt.Errorf("orchestrator: mark run completed: %w", err)
	}
	return nil
}

// enqueueStage inserts one scanner:<stage> job per target string, parented
// to the pipeline job and tied to the run (spec §4.7).
func (o *Orchestrator) enqueueStage(ctx context.Context, pipelineJobID string, run *domain.Run, stage string, targets []string) ([]string, error) {
	jobType := domain.ScannerJobType(stage)
	var ids []string
	for _, t := range targets {
		payload := ScannerPayload{RunID: run.ID, TargetStr: t}
		j, err := o.q.Enqueue(ctx, run.TargetID, jobType, payload, queue.EnqueueOptions{
			Priority:    domain.DefaultPriority,
			RunID:       &run.ID,
			ParentJobID: &pipelineJobID,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// waitForChildren polls until every job in ids reaches a terminal state,
// then reports whether any failed or were cancelled.
func (o *Orchestrator) waitForChildren(ctx context.Context, ids []string) (failed bool, err error) {
	remaining := append([]string(nil), ids...)
	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
		next := remaining[:0]
		for _, id := range remaining {
			j, err := o.q.Get(ctx, id)
			if err != nil {
				return false, err
			}
			switch j.Status {
			case domain.JobCompleted:
				continue
			case domain.JobFailed, domain.JobCancelled:
				failed = true
				continue
			default:
				next = append(next, id)
			}
		}
		remaining = next
	}
	return failed, nil
}
