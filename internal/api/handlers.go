package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
	"github.com/shadowpulse/reconengine/internal/queue"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

// createTargetRequest is the POST /api/targets body.
type createTargetRequest struct {
	DisplayName string             `json:"display_name" validate:"required"`
	RootDomain  string             `json:"root_domain" validate:"required"`
	Scope       domain.ScopePolicy `json:"scope" validate:"required"`
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target := &domain.Target{
		ID:          uuid.NewString(),
		DisplayName: req.DisplayName,
		RootDomain:  req.RootDomain,
		Scope:       req.Scope,
	}
	if err := s.store.CreateTarget(r.Context(), target); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// triggerPipelineRequest is the POST /api/targets/{id}/pipeline body.
type triggerPipelineRequest struct {
	MaxHosts       int `json:"max_hosts"`
	MaxHTTPTargets int `json:"max_http_targets"`
}

func (s *Server) handleTriggerPipeline(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	ctx := r.Context()

	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	var req triggerPipelineRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	cfg := domain.DefaultRunConfig()
	if req.MaxHosts > 0 {
		cfg.MaxHosts = req.MaxHosts
	}
	if req.MaxHTTPTargets > 0 {
		cfg.MaxHTTPTargets = req.MaxHTTPTargets
	}

	run := &domain.Run{
		ID:       uuid.NewString(),
		TargetID: target.ID,
		Trigger:  domain.TriggerManual,
		Status:   domain.RunQueued,
		Config:   cfg,
	}
	if err := s.store.CreateRunIfNoneActive(ctx, run); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			writeError(w, http.StatusConflict, "target already has a non-terminal pipeline run")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := s.q.Enqueue(ctx, target.ID, domain.JobPipeline,
		map[string]string{"run_id": run.ID}, queue.EnqueueOptions{RunID: &run.ID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "job_id": job.ID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	runs, err := s.store.ListRunsForTarget(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDiscardRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	ctx := r.Context()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if run.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "run is already terminal")
		return
	}

	if job, err := s.q.GetByRunID(ctx, runID); err == nil {
		if err := s.q.Cancel(ctx, job.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.q.CancelChildren(ctx, job.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if err := s.store.TransitionRun(ctx, runID, domain.RunDiscarded, "discarded via API"); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.RunDiscarded)})
}

// handleTriggerVerify enqueues verify_asset/verify_service jobs for every
// asset and service of the target whose status is currently stale, tagging
// the jobs with the named run.
func (s *Server) handleTriggerVerify(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	runID := chi.URLParam(r, "runID")
	ctx := r.Context()

	assets, err := s.store.ListAssetsForTarget(ctx, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	services, err := s.store.ListServicesForTarget(ctx, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jobIDs := make([]string, 0)
	for _, a := range assets {
		if a.Status != domain.StatusStale {
			continue
		}
		job, err := s.q.Enqueue(ctx, targetID, domain.JobVerifyAsset,
			map[string]string{"asset_id": a.ID}, queue.EnqueueOptions{
				RunID:    &runID,
				Priority: domain.VerificationPriorityOverPipeline,
			})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		jobIDs = append(jobIDs, job.ID)
	}
	for _, svc := range services {
		if svc.Status != domain.StatusStale {
			continue
		}
		job, err := s.q.Enqueue(ctx, targetID, domain.JobVerifyService,
			map[string]string{"service_id": svc.ID}, queue.EnqueueOptions{
				RunID:    &runID,
				Priority: domain.VerificationPriorityOverPipeline,
			})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		jobIDs = append(jobIDs, job.ID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"job_ids": jobIDs, "count": len(jobIDs)})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	assets, err := s.store.ListAssetsForTarget(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	services, err := s.store.ListServicesForTarget(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleListEdges(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	edges, err := s.store.ListEdgesForTarget(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	findings, err := s.store.ListFindingsForTarget(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	scans, err := s.store.ListScansForTarget(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	events, err := s.store.ListRunEventsForTarget(r.Context(), targetID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// createScheduleRequest is the POST /api/targets/{id}/schedules body.
type createScheduleRequest struct {
	IntervalSeconds  int              `json:"interval_seconds" validate:"required,gt=0"`
	CronExpr         string           `json:"cron_expr"`
	Enabled          bool             `json:"enabled"`
	PipelineConfig   domain.RunConfig `json:"pipeline_config"`
	StartImmediately bool             `json:"start_immediately"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	ctx := r.Context()

	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := req.PipelineConfig
	if cfg == (domain.RunConfig{}) {
		cfg = domain.DefaultRunConfig()
	}

	next := time.Now()
	if !req.StartImmediately {
		next = next.Add(time.Duration(req.IntervalSeconds) * time.Second)
	}

	sch := &domain.Schedule{
		ID:              uuid.NewString(),
		TargetID:        targetID,
		IntervalSeconds: req.IntervalSeconds,
		CronExpr:        req.CronExpr,
		Enabled:         req.Enabled,
		PipelineConfig:  cfg,
		NextRunAt:       next,
	}
	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	schedules, err := s.store.ListSchedulesForTarget(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func respondStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, errs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
