package domain

import "time"

// ArtifactStatus is the shared lifecycle enum for assets and services
// (spec §3 Lifecycle summary); edges carry no status.
type ArtifactStatus string

const (
	StatusActive     ArtifactStatus = "active"
	StatusStale      ArtifactStatus = "stale"
	StatusClosed     ArtifactStatus = "closed"
	StatusUnresolved ArtifactStatus = "unresolved"
)

// AssetType enumerates the kinds of asset the normalizer can produce.
type AssetType string

const (
	AssetSubdomain AssetType = "subdomain"
	AssetHost      AssetType = "host"
	AssetIP        AssetType = "ip"
	AssetURL       AssetType = "url"
)

// Provenance tracks first/last observation and verification timestamps,
// embedded identically in Asset, Service, and Edge.
type Provenance struct {
	FirstSeenRunID string     `json:"first_seen_run_id" db:"first_seen_run_id"`
	LastSeenRunID  string     `json:"last_seen_run_id" db:"last_seen_run_id"`
	FirstSeenAt    time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt     time.Time  `json:"last_seen_at" db:"last_seen_at"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty" db:"verified_at"`
}

// Asset is a discovered subdomain, host, IP, or URL (spec §3). The unique
// key is (TargetID, Type, Normalized).
type Asset struct {
	ID           string         `json:"id" db:"id"`
	TargetID     string         `json:"target_id" db:"target_id"`
	Type         AssetType      `json:"type" db:"type"`
	Raw          string         `json:"raw" db:"raw"`
	Normalized   string         `json:"normalized" db:"normalized"`
	Status       ArtifactStatus `json:"status" db:"status"`
	StatusReason string         `json:"status_reason,omitempty" db:"status_reason"`
	Provenance
}

// Proto is the transport protocol a Service listens on.
type Proto string

const (
	ProtoTCP Proto = "tcp"
	ProtoUDP Proto = "udp"
)

// Service is a (host/ip asset, port, proto) tuple observed open (spec §3).
// The unique key is (TargetID, AssetID, Port, Proto).
type Service struct {
	ID           string         `json:"id" db:"id"`
	TargetID     string         `json:"target_id" db:"target_id"`
	AssetID      string         `json:"asset_id" db:"asset_id"`
	Port         int            `json:"port" db:"port"`
	Proto        Proto          `json:"proto" db:"proto"`
	Name         string         `json:"name,omitempty" db:"name"`
	Product      string         `json:"product,omitempty" db:"product"`
	Version      string         `json:"version,omitempty" db:"version"`
	Status       ArtifactStatus `json:"status" db:"status"`
	StatusReason string         `json:"status_reason,omitempty" db:"status_reason"`
	Provenance
}

// IsHTTPLike reports whether the service looks like an HTTP(S) endpoint,
// per the httpx stage-selection rule (spec §4.7): well-known HTTP(S) ports,
// or any service whose fingerprinted name matches "http*".
func (s *Service) IsHTTPLike() bool {
	switch s.Port {
	case 80, 443, 8080, 8443:
		return true
	}
	return len(s.Name) >= 4 && s.Name[:4] == "http"
}

// EdgeRelType enumerates directed relationships between two assets.
type EdgeRelType string

const (
	RelResolvesTo EdgeRelType = "resolves_to"
	RelServes     EdgeRelType = "serves"
	RelRedirectsTo EdgeRelType = "redirects_to"
	RelCNAME      EdgeRelType = "cname"
	RelAlias      EdgeRelType = "alias"
)

// Edge is a directed relationship between two assets in the ReconGraph
// (spec §3). The unique key is (FromAssetID, ToAssetID, RelType).
type Edge struct {
	ID          string      `json:"id" db:"id"`
	TargetID    string      `json:"target_id" db:"target_id"`
	FromAssetID string      `json:"from_asset_id" db:"from_asset_id"`
	ToAssetID   string      `json:"to_asset_id" db:"to_asset_id"`
	RelType     EdgeRelType `json:"rel_type" db:"rel_type"`
	Provenance
}

// Severity is the finding severity enum (spec §3).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Finding is a vulnerability or misconfiguration surfaced by a scan.
type Finding struct {
	ID          string    `json:"id" db:"id"`
	TargetID    string    `json:"target_id" db:"target_id"`
	RunID       string    `json:"run_id" db:"run_id"`
	ScanID      string    `json:"scan_id" db:"scan_id"`
	AssetID     *string   `json:"asset_id,omitempty" db:"asset_id"`
	ServiceID   *string   `json:"service_id,omitempty" db:"service_id"`
	Severity    Severity  `json:"severity" db:"severity"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	Impact      string    `json:"impact,omitempty" db:"impact"`
	Remediation string    `json:"remediation,omitempty" db:"remediation"`
	CVE         string    `json:"cve,omitempty" db:"cve"`
	CVSS        float64   `json:"cvss,omitempty" db:"cvss"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RunEventKind enumerates the audit-log event kinds (spec §3/§4.11).
type RunEventKind string

const (
	EventRunStarted        RunEventKind = "run_started"
	EventRunCompleted      RunEventKind = "run_completed"
	EventScanStarted       RunEventKind = "scan_started"
	EventScanCompleted     RunEventKind = "scan_completed"
	EventFindingDiscovered RunEventKind = "finding_discovered"
	EventAssetStateChanged RunEventKind = "asset_state_changed"
	EventScopeDenied       RunEventKind = "scope_denied"
	EventNormalizationFailed RunEventKind = "normalization_failed"
	EventJobLeased         RunEventKind = "job_leased"
	EventVerificationResolved RunEventKind = "verification_resolved"
)

// RunEvent is an append-only audit row (spec §3).
type RunEvent struct {
	ID       string       `json:"id" db:"id"`
	RunID    string       `json:"run_id" db:"run_id"`
	TargetID string       `json:"target_id" db:"target_id"`
	Kind     RunEventKind `json:"kind" db:"kind"`
	Payload  []byte       `json:"payload,omitempty" db:"payload"`
	Ts       time.Time    `json:"ts" db:"ts"`
}

// Schedule is a per-target recurring pipeline trigger (spec §3/§4.10).
type Schedule struct {
	ID             string    `json:"id" db:"id"`
	TargetID       string    `json:"target_id" db:"target_id"`
	IntervalSeconds int      `json:"interval_seconds" db:"interval_seconds"`
	CronExpr       string    `json:"cron_expr,omitempty" db:"cron_expr"`
	Enabled        bool      `json:"enabled" db:"enabled"`
	PipelineConfig RunConfig `json:"pipeline_config" db:"-"`
	PipelineConfigJSON []byte `json:"-" db:"pipeline_config"`
	NextRunAt      time.Time `json:"next_run_at" db:"next_run_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
}
