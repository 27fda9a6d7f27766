package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates the job kinds the queue dispatches. Scanner jobs are
// parameterized by name (e.g. "scanner:subfinder") rather than having one
// Go type per scanner, per the registry-of-descriptors redesign (spec §9).
type JobType string

const (
	JobPipeline     JobType = "pipeline"
	JobVerifyAsset  JobType = "verify_asset"
	JobVerifyService JobType = "verify_service"
)

// ScannerJobType builds the job type string for a named scanner stage.
func ScannerJobType(scanner string) JobType {
	return JobType("scanner:" + scanner)
}

// JobStatus is the lifecycle state of a Job (spec §3).
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Default job tuning, overridable per job type at enqueue time.
const (
	DefaultMaxAttempts             = 3
	DefaultLeaseDuration           = 300 * time.Second
	PipelineLeaseDuration          = 2 * time.Hour
	DefaultBackoffBase             = 5 * time.Second
	VerificationPriorityOverPipeline = 10
	DefaultPriority                = 0
)

// Job is one unit of work on the durable queue (spec §4.5).
type Job struct {
	ID              string          `json:"id" db:"id"`
	Type            JobType         `json:"type" db:"type"`
	Status          JobStatus       `json:"status" db:"status"`
	Payload         json.RawMessage `json:"payload" db:"payload"`
	Attempts        int             `json:"attempts" db:"attempts"`
	MaxAttempts     int             `json:"max_attempts" db:"max_attempts"`
	Priority        int             `json:"priority" db:"priority"`
	AvailableAt     time.Time       `json:"available_at" db:"available_at"`
	LeaseOwner      *string         `json:"lease_owner,omitempty" db:"lease_owner"`
	LeaseExpiresAt  *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	TargetID        string          `json:"target_id" db:"target_id"`
	RunID           *string         `json:"run_id,omitempty" db:"run_id"`
	ParentJobID     *string         `json:"parent_job_id,omitempty" db:"parent_job_id"`
	LastError       string          `json:"last_error,omitempty" db:"last_error"`
	CancelRequested bool            `json:"cancel_requested" db:"cancel_requested"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// LeaseDurationFor returns the job-type-specific lease duration (spec §4.5:
// "Lease duration is job-type-specific (default 300 s; pipeline jobs 2 h)").
func LeaseDurationFor(t JobType) time.Duration {
	if t == JobPipeline {
		return PipelineLeaseDuration
	}
	return DefaultLeaseDuration
}

// IsLeased reports the invariant status=running <=> lease fields set.
func (j *Job) IsLeased() bool {
	return j.Status == JobRunning && j.LeaseOwner != nil && j.LeaseExpiresAt != nil
}
