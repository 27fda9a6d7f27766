package domain

import "time"

// RunTrigger identifies what caused a Run to be created.
type RunTrigger string

const (
	TriggerManual       RunTrigger = "manual"
	TriggerScheduled    RunTrigger = "scheduled"
	TriggerVerification RunTrigger = "verification"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunDiscarded RunStatus = "discarded"
)

// IsTerminal reports whether status can no longer transition.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunDiscarded:
		return true
	default:
		return false
	}
}

// RunConfig is the config snapshot taken at run creation time (spec §3).
type RunConfig struct {
	MaxHosts        int `json:"max_hosts"`
	MaxHTTPTargets  int `json:"max_http_targets"`
}

// DefaultRunConfig returns sane defaults used when a caller omits config.
func DefaultRunConfig() RunConfig {
	return RunConfig{MaxHosts: 256, MaxHTTPTargets: 512}
}

// Run is one end-to-end (pipeline) or verification execution for a target.
type Run struct {
	ID          string     `json:"id" db:"id"`
	TargetID    string     `json:"target_id" db:"target_id"`
	Trigger     RunTrigger `json:"trigger" db:"trigger"`
	Status      RunStatus  `json:"status" db:"status"`
	Config      RunConfig  `json:"config" db:"-"`
	ConfigJSON  []byte     `json:"-" db:"config"`
	StagesRun   []string   `json:"stages_run" db:"-"`
	FailureSummary string  `json:"failure_summary,omitempty" db:"failure_summary"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// StagesCompleted reports whether the named stage has already run
// successfully during this Run, used by the orchestrator to skip
// predecessors on restart.
func (r *Run) StagesCompleted(name string) bool {
	for _, s := range r.StagesRun {
		if s == name {
			return true
		}
	}
	return false
}
