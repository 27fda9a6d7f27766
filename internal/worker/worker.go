// Package worker implements the fixed worker pool (C6, spec §4.6): each
// worker leases a job, dispatches it to the handler registered for its
// type, heartbeats the lease for the handler's duration, and reports
// completion or failure back to the queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
	"github.com/shadowpulse/reconengine/internal/queue"
	"github.com/shadowpulse/reconengine/internal/store"
	"golang.org/x/sync/errgroup"
)

// Handler executes one job's work. A returned error causes the job to be
// retried (or failed terminally past max_attempts); nil completes it.
type Handler func(ctx context.Context, job *domain.Job) error

// pollMin/pollMax bound the empty-poll backoff (spec §4.6: "50-500 ms,
// back-off on empty polls").
const (
	pollMin = 50 * time.Millisecond
	pollMax = 500 * time.Millisecond

	// heartbeatFraction extends a lease at roughly 1/3 of its duration
	// (spec §4.5).
	heartbeatFraction = 3

	// janitorInterval is how often ReapExpiredLeases runs.
	janitorInterval = 30 * time.Second
)

// Config tunes one Pool.
type Config struct {
	WorkerCount int
	Limits      queue.Limits
	BackoffBase time.Duration
}

// Pool is a fixed set of workers sharing one dispatch table.
type Pool struct {
	q              *queue.Queue
	st             *store.Store
	log            zerolog.Logger
	cfg            Config
	handlers       map[domain.JobType]Handler
	scannerHandler Handler
	leasedCount    int64
}

// New constructs a Pool. Register handlers with On/OnScanner before Run. st
// is used only to audit scope denials (spec §4.2/§7); it may be nil in
// tests that never exercise that path.
func New(q *queue.Queue, st *store.Store, cfg Config, log zerolog.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = domain.DefaultBackoffBase
	}
	return &Pool{
		q: q, st: st, cfg: cfg, log: log.With().Str("component", "worker").Logger(),
		handlers: make(map[domain.JobType]Handler),
	}
}

// On registers the handler for an exact job type (pipeline, verify_asset,
// verify_service).
func (p *Pool) On(jobType domain.JobType, h Handler) {
	p.handlers[jobType] = h
}

// OnScanner registers the handler every "scanner:<name>" job type dispatches
// to, regardless of which scanner it names (spec §9: registry-of-descriptors
// redesign — one handler, parameterized by job type string).
func (p *Pool) OnScanner(h Handler) {
	p.scannerHandler = h
}

// LeasedCount reports how many jobs this pool has leased, for metrics.
func (p *Pool) LeasedCount() int64 {
	return atomic.LoadInt64(&p.leasedCount)
}

// Run starts WorkerCount worker loops plus the lease-reaping janitor, and
// blocks until ctx is cancelled or a worker returns a non-context error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		g.Go(func() error { return p.workerLoop(ctx, workerID) })
	}
	g.Go(func() error { return p.janitorLoop(ctx) })
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) error {
	pollInterval := pollMin
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, err := p.q.Lease(ctx, workerID, p.cfg.Limits)
		if err != nil {
			p.log.Error().Err(err).Str("worker_id", workerID).Msg("lease failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollMax):
			}
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
			pollInterval *= 2
			if pollInterval > pollMax {
				pollInterval = pollMax
			}
			continue
		}
		pollInterval = pollMin
		atomic.AddInt64(&p.leasedCount, 1)
		p.execute(ctx, workerID, job)
	}
}

// execute dispatches a leased job, heartbeating its lease until the handler
// returns, then completes or fails it.
func (p *Pool) execute(ctx context.Context, workerID string, job *domain.Job) {
	handler := p.dispatch(job.Type)
	if handler == nil {
		p.log.Error().Str("job_type", string(job.Type)).Msg("no handler registered")
		_ = p.q.Fail(ctx, job.ID, workerID, "no handler registered for job type", p.cfg.BackoffBase)
		return
	}

	done := make(chan error, 1)
	go func() {
		// A panicking handler fails the job with its stack instead of
		// crashing the process.
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("handler panic: %v\n%s", rec, debug.Stack())
			}
		}()
		done <- handler(ctx, job)
	}()

	leaseDuration := domain.LeaseDurationFor(job.Type)
	ticker := time.NewTicker(leaseDuration / heartbeatFraction)
	defer ticker.Stop()

	var handlerErr error
	for {
		select {
		case handlerErr = <-done:
			if handlerErr != nil {
				p.log.Warn().Err(handlerErr).Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("job failed")
				if errors.Is(handlerErr, errs.ErrScopeDenied) {
					p.failScopeDenied(ctx, workerID, job, handlerErr)
					return
				}
				_ = p.q.Fail(ctx, job.ID, workerID, handlerErr.Error(), p.cfg.BackoffBase)
				return
			}
			if err := p.q.Complete(ctx, job.ID, workerID); err != nil {
				p.log.Warn().Err(err).Str("job_id", job.ID).Msg("complete failed")
			}
			return
		case <-ticker.C:
			if err := p.q.Heartbeat(ctx, job.ID, workerID); err != nil {
				p.log.Warn().Err(err).Str("job_id", job.ID).Msg("heartbeat failed, lease likely lost")
			}
		case <-ctx.Done():
			// Shutting down: let the handler's own ctx cancellation unwind it;
			// still wait for it so the job is reported rather than orphaned.
			handlerErr = <-done
			if handlerErr != nil {
				if errors.Is(handlerErr, errs.ErrScopeDenied) {
					p.failScopeDenied(context.Background(), workerID, job, handlerErr)
				} else {
					_ = p.q.Fail(context.Background(), job.ID, workerID, handlerErr.Error(), p.cfg.BackoffBase)
				}
			} else {
				_ = p.q.Complete(context.Background(), job.ID, workerID)
			}
			return
		}
	}
}

// failScopeDenied fails a job terminally (no retry) and records an audit
// event for it. A scope denial is never transient, so retrying it would
// only waste attempts re-confirming the same policy decision (spec §4.2/§7,
// E2E scenario #4: "fatal to the job (not retried) and audited").
func (p *Pool) failScopeDenied(ctx context.Context, workerID string, job *domain.Job, handlerErr error) {
	if err := p.q.FailTerminal(ctx, job.ID, workerID, handlerErr.Error()); err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID).Msg("fail terminal (scope denied) failed")
	}
	if p.st == nil || job.RunID == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{"job_id": job.ID, "reason": handlerErr.Error()})
	if err != nil {
		p.log.Warn().Err(err).Msg("marshal scope denial event payload")
		return
	}
	ev := &domain.RunEvent{
		ID:       uuid.NewString(),
		RunID:    *job.RunID,
		TargetID: job.TargetID,
		Kind:     domain.EventScopeDenied,
		Payload:  payload,
	}
	if err := p.st.RecordRunEvent(ctx, ev); err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID).Msg("record scope denied event")
	}
}

func (p *Pool) dispatch(jobType domain.JobType) Handler {
	if h, ok := p.handlers[jobType]; ok {
		return h
	}
	if strings.HasPrefix(string(jobType), "scanner:") {
		return p.scannerHandler
	}
	return nil
}

func (p *Pool) janitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.q.ReapExpiredLeases(ctx)
			if err != nil {
				p.log.Error().Err(err).Msg("reap expired leases")
				continue
			}
			if n > 0 {
				p.log.Info().Int64("count", n).Msg("reaped expired leases")
			}
		}
	}
}
