// Package domain holds the recon engine's core entities: targets, runs,
// jobs, scans, and the inventory (assets, services, edges, findings) that
// ingestion maintains for each target.
package domain

import "time"

// ScopeEntryKind enumerates the three allow-list categories a ScopePolicy
// may hold.
type ScopeEntryKind string

const (
	ScopeDNSSuffix  ScopeEntryKind = "dns_suffix"
	ScopeIPCIDR     ScopeEntryKind = "ip_cidr"
	ScopeURLPrefix  ScopeEntryKind = "url_prefix"
)

// ScopeEntry is a single allow-list entry within a ScopePolicy.
type ScopeEntry struct {
	Kind  ScopeEntryKind `json:"kind" db:"kind"`
	Value string         `json:"value" db:"value"`
}

// ScopePolicy is the ordered union of allow-lists that gates every scan
// target string for a Target (spec §4.2). There are no deny rules; the
// world is closed and a candidate must match at least one entry.
type ScopePolicy struct {
	Entries []ScopeEntry `json:"entries"`

	// AllowPrivateIPs permits RFC1918/loopback IP candidates that would
	// otherwise be rejected outright by the normalizer.
	AllowPrivateIPs bool `json:"allow_private_ips"`

	// MaxConcurrentOverride, when set, caps running jobs for this target
	// below MAX_CONCURRENT_JOBS_PER_TARGET (never above it).
	MaxConcurrentOverride *int `json:"max_concurrent_override,omitempty"`
}

// Target is the root of provenance: every artifact, run, job, scan, and
// finding is owned by exactly one target.
type Target struct {
	ID          string      `json:"id" db:"id"`
	DisplayName string      `json:"display_name" db:"display_name"`
	RootDomain  string      `json:"root_domain" db:"root_domain"`
	Scope       ScopePolicy `json:"scope" db:"-"`
	ScopeJSON   []byte      `json:"-" db:"scope"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the target so it can be safely shared across
// goroutines (e.g. handed to a scanner runner while the scope enforcer also
// reads it concurrently).
func (t *Target) Clone() *Target {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Scope.Entries = append([]ScopeEntry(nil), t.Scope.Entries...)
	if t.Scope.MaxConcurrentOverride != nil {
		v := *t.Scope.MaxConcurrentOverride
		clone.Scope.MaxConcurrentOverride = &v
	}
	return &clone
}
