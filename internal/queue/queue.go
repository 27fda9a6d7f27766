// Package queue implements the durable, database-backed job queue (C5):
// SKIP LOCKED dequeue, heartbeat-based lease extension, completion/retry
// with exponential backoff, and cooperative cancellation (spec §4.5).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
)

// Queue wraps the pgx pool with the queue's transactional operations.
type Queue struct {
	pool *pgxpool.Pool
}

// New constructs a Queue over an existing pool (shared with internal/store
// so the queue and the inventory upserts can share a connection when a
// handler needs to do both in one transaction).
func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// EnqueueOptions customizes a single Enqueue call.
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
	AvailableAt time.Time
	RunID       *string
	ParentJobID *string
}

// Enqueue inserts a job in status=queued (spec §4.5).
func (q *Queue) Enqueue(ctx context.Context, targetID string, jobType domain.JobType, payload any, opts EnqueueOptions) (*domain.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal payload: %w", err)
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = domain.DefaultMaxAttempts
	}
	if opts.AvailableAt.IsZero() {
		opts.AvailableAt = time.Now()
	}
	const ins = `
		INSERT INTO jobs (id, type, status, payload, attempts, max_attempts, priority,
			available_at, target_id, run_id, parent_job_id, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, 'queued', $2, 0, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id, created_at, updated_at`
	var j domain.Job
	row := q.pool.QueryRow(ctx, ins, jobType, body, opts.MaxAttempts, opts.Priority,
		opts.AvailableAt, targetID, opts.RunID, opts.ParentJobID)
	if err := row.Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	j.Type, j.Status, j.Payload, j.MaxAttempts, j.Priority = jobType, domain.JobQueued, body, opts.MaxAttempts, opts.Priority
	j.TargetID, j.AvailableAt, j.RunID, j.ParentJobID = targetID, opts.AvailableAt, opts.RunID, opts.ParentJobID
	return &j, nil
}

// Limits gates concurrency at dequeue time (spec §4.6).
type Limits struct {
	GlobalMax    int
	PerTargetMax int
}

// leaseLockKey is the pg_advisory_xact_lock key serializing the
// count-then-claim sequence in Lease. The global/per-target running counts
// below are read by plain SELECTs under READ COMMITTED, which on their own
// let two concurrent Lease calls both observe a pre-commit count and both
// pass the cap check (spec §8's concurrency invariant, scenario #6). Taking
// this lock before counting makes every Lease call serialize against every
// other one for the duration of its count+claim, so the cap check and the
// claim that follows it are effectively atomic.
const leaseLockKey = 0x5155455545 // "QUEUE" in hex, arbitrary fixed key

// Lease dequeues and leases the single highest-priority, oldest-available,
// queued job not blocked by concurrency limits, using
// `FOR UPDATE SKIP LOCKED` so many workers can dequeue concurrently without
// a central broker (spec §4.5). Returns (nil, nil) when no job qualifies;
// callers treat a nil job as "nothing to do".
func (q *Queue) Lease(ctx context.Context, workerID string, limits Limits) (*domain.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: begin lease tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(leaseLockKey)); err != nil {
		return nil, fmt.Errorf("queue: lease advisory lock: %w", err)
	}

	// The per-target cap is LEAST($2, override): a target's scope policy may
	// tighten its own concurrency below the global per-target max but never
	// raise it above that max (domain.ScopePolicy.MaxConcurrentOverride).
	const selectQ = `
		SELECT jobs.id, type, max_attempts, priority
		FROM jobs
		JOIN targets ON targets.id = jobs.target_id
		WHERE status = 'queued'
		  AND available_at <= now()
		  AND (
		  	SELECT count(*) FROM jobs running WHERE running.status = 'running'
		  ) < $1
		  AND (
		  	SELECT count(*) FROM jobs running
		  	WHERE running.status = 'running' AND running.target_id = jobs.target_id
		  ) < LEAST($2, COALESCE((targets.scope->>'max_concurrent_override')::int, $2))
		ORDER BY priority DESC, available_at ASC, jobs.id
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	var id string
	var jobType domain.JobType
	var maxAttempts, priority int
	row := tx.QueryRow(ctx, selectQ, limits.GlobalMax, limits.PerTargetMax)
	if err := row.Scan(&id, &jobType, &maxAttempts, &priority); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: select for lease: %w", err)
	}

	leaseDuration := domain.LeaseDurationFor(jobType)
	const updateQ = `
		UPDATE jobs SET status='running', lease_owner=$2, lease_expires_at=now()+$3,
			attempts=attempts+1, updated_at=now()
		WHERE id=$1
		RETURNING id, type, status, payload, attempts, max_attempts, priority, available_at,
			lease_owner, lease_expires_at, target_id, run_id, parent_job_id,
			COALESCE(last_error,''), cancel_requested, created_at, updated_at`
	var j domain.Job
	row = tx.QueryRow(ctx, updateQ, id, workerID, leaseDuration)
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.Priority,
		&j.AvailableAt, &j.LeaseOwner, &j.LeaseExpiresAt, &j.TargetID, &j.RunID, &j.ParentJobID,
		&j.LastError, &j.CancelRequested, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, fmt.Errorf("queue: lease update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: commit lease: %w", err)
	}
	return &j, nil
}

// Heartbeat extends a running job's lease. Called at ~1/3 of the lease
// duration by the worker holding it (spec §4.5).
func (q *Queue) Heartbeat(ctx context.Context, jobID, workerID string) error {
	// Read the job's type back to compute the correct per-type lease window.
	var jobType domain.JobType
	if err := q.pool.QueryRow(ctx, `SELECT type FROM jobs WHERE id=$1 AND lease_owner=$2 AND status='running'`, jobID, workerID).Scan(&jobType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrLeaseExpired
		}
		return fmt.Errorf("queue: heartbeat lookup: %w", err)
	}
	leaseDuration := domain.LeaseDurationFor(jobType)
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET lease_expires_at=now()+$3, updated_at=now()
		WHERE id=$1 AND lease_owner=$2 AND status='running'`, jobID, workerID, leaseDuration)
	if err != nil {
		return fmt.Errorf("queue: heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrLeaseExpired
	}
	return nil
}

// Complete transitions running->completed (spec §4.5).
func (q *Queue) Complete(ctx context.Context, jobID, workerID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status='completed', lease_owner=NULL, lease_expires_at=NULL, updated_at=now()
		WHERE id=$1 AND lease_owner=$2 AND status='running'`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrLeaseExpired
	}
	return nil
}

// Fail transitions to failed if attempts>=max_attempts, else re-queues with
// exponential backoff: available_at = now + base*2^(attempts-1) + jitter
// (spec §4.5).
func (q *Queue) Fail(ctx context.Context, jobID, workerID string, reason string, backoffBase time.Duration) error {
	var attempts, maxAttempts int
	err := q.pool.QueryRow(ctx, `
		SELECT attempts, max_attempts FROM jobs WHERE id=$1 AND lease_owner=$2 AND status='running'`,
		jobID, workerID).Scan(&attempts, &maxAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrLeaseExpired
		}
		return fmt.Errorf("queue: fail lookup: %w", err)
	}

	if attempts >= maxAttempts {
		_, err = q.pool.Exec(ctx, `
			UPDATE jobs SET status='failed', last_error=$3, lease_owner=NULL, lease_expires_at=NULL, updated_at=now()
			WHERE id=$1 AND lease_owner=$2`, jobID, workerID, reason)
		if err != nil {
			return fmt.Errorf("queue: fail terminal: %w", err)
		}
		return nil
	}

	backoff := backoffOf(backoffBase, attempts)
	_, err = q.pool.Exec(ctx, `
		UPDATE jobs SET status='queued', available_at=now()+$3, last_error=$4,
			lease_owner=NULL, lease_expires_at=NULL, updated_at=now()
		WHERE id=$1 AND lease_owner=$2`, jobID, workerID, backoff, reason)
	if err != nil {
		return fmt.Errorf("queue: fail requeue: %w", err)
	}
	return nil
}

// FailTerminal fails a job immediately regardless of remaining attempts,
// for handler errors that are never worth retrying (spec §4.2/§7: a scope
// denial is "fatal to the job, not retried").
func (q *Queue) FailTerminal(ctx context.Context, jobID, workerID, reason string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status='failed', last_error=$3, lease_owner=NULL, lease_expires_at=NULL, updated_at=now()
		WHERE id=$1 AND lease_owner=$2 AND status='running'`, jobID, workerID, reason)
	if err != nil {
		return fmt.Errorf("queue: fail terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrLeaseExpired
	}
	return nil
}

func backoffOf(base time.Duration, attempts int) time.Duration {
	mult := math.Pow(2, float64(attempts-1))
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return time.Duration(float64(base)*mult) + jitter
}

// Cancel requests cancellation. From queued it is immediate; from running it
// sets a cooperative flag the handler must poll (spec §4.5).
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status='cancelled', updated_at=now() WHERE id=$1 AND status='queued'`, jobID)
	if err != nil {
		return fmt.Errorf("queue: cancel queued: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	tag, err = q.pool.Exec(ctx, `
		UPDATE jobs SET cancel_requested=true, updated_at=now() WHERE id=$1 AND status='running'`, jobID)
	if err != nil {
		return fmt.Errorf("queue: cancel running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// CancelChildren cancels all queued children of a parent job and flags
// running children cooperatively, used when a run/pipeline is discarded
// (spec §5 Cancellation).
func (q *Queue) CancelChildren(ctx context.Context, parentJobID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status='cancelled', updated_at=now() WHERE parent_job_id=$1 AND status='queued'`, parentJobID)
	if err != nil {
		return fmt.Errorf("queue: cancel queued children: %w", err)
	}
	_, err = q.pool.Exec(ctx, `
		UPDATE jobs SET cancel_requested=true, updated_at=now() WHERE parent_job_id=$1 AND status='running'`, parentJobID)
	if err != nil {
		return fmt.Errorf("queue: cancel running children: %w", err)
	}
	return nil
}

// IsCancelRequested polls the cooperative cancel flag (spec §5).
func (q *Queue) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag bool
	err := q.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id=$1`, jobID).Scan(&flag)
	if err != nil {
		return false, fmt.Errorf("queue: poll cancel flag: %w", err)
	}
	return flag, nil
}

// ReapExpiredLeases is the janitor sweep: any running job whose lease has
// expired is reverted to queued without incrementing attempts (spec §4.5 —
// "only completion attempts count, so a crashed worker costs one attempt
// via the original dequeue").
func (q *Queue) ReapExpiredLeases(ctx context.Context) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status='queued', lease_owner=NULL, lease_expires_at=NULL, updated_at=now()
		WHERE status='running' AND lease_expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("queue: reap expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByRunID fetches the top-level job for a run (the pipeline or
// verification job originally enqueued against it), used by the discard
// endpoint to find what to cancel.
func (q *Queue) GetByRunID(ctx context.Context, runID string) (*domain.Job, error) {
	const sel = `
		SELECT id, type, status, payload, attempts, max_attempts, priority, available_at,
			lease_owner, lease_expires_at, target_id, run_id, parent_job_id,
			COALESCE(last_error,''), cancel_requested, created_at, updated_at
		FROM jobs WHERE run_id=$1 AND parent_job_id IS NULL
		ORDER BY created_at LIMIT 1`
	var j domain.Job
	row := q.pool.QueryRow(ctx, sel, runID)
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.Priority,
		&j.AvailableAt, &j.LeaseOwner, &j.LeaseExpiresAt, &j.TargetID, &j.RunID, &j.ParentJobID,
		&j.LastError, &j.CancelRequested, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("queue: get job by run id: %w", err)
	}
	return &j, nil
}

// Get fetches a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*domain.Job, error) {
	const sel = `
		SELECT id, type, status, payload, attempts, max_attempts, priority, available_at,
			lease_owner, lease_expires_at, target_id, run_id, parent_job_id,
			COALESCE(last_error,''), cancel_requested, created_at, updated_at
		FROM jobs WHERE id=$1`
	var j domain.Job
	row := q.pool.QueryRow(ctx, sel, id)
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.Priority,
		&j.AvailableAt, &j.LeaseOwner, &j.LeaseExpiresAt, &j.TargetID, &j.RunID, &j.ParentJobID,
		&j.LastError, &j.CancelRequested, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("queue: get job: %w", err)
	}
	return &j, nil
}
