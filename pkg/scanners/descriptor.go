// Package scanners holds the scanner descriptor registry: the argv
// template, timeout, and output parser for each scanner the pipeline
// orchestrator dispatches (spec §6 "Scanner descriptors").
package scanners

import (
	"time"

	"github.com/shadowpulse/reconengine/internal/domain"
)

// ArtifactKind enumerates what a parser may emit.
type ArtifactKind string

const (
	KindAsset   ArtifactKind = "asset"
	KindService ArtifactKind = "service"
	KindEdge    ArtifactKind = "edge"
	KindFinding ArtifactKind = "finding"
)

// ParsedAsset is a parser's asset output, pre-normalization.
type ParsedAsset struct {
	Type domain.AssetType
	Raw  string
}

// ParsedService is a parser's service output, pre-normalization.
type ParsedService struct {
	HostRaw string
	Port    string
	Proto   string
	Name    string
	Product string
	Version string
}

// ParsedEdge is a parser's edge output, referencing assets by raw value
// rather than id (the caller resolves ids during ingestion).
type ParsedEdge struct {
	FromRaw string
	ToRaw   string
	RelType domain.EdgeRelType
}

// ParsedFinding is a parser's finding output, referencing an asset or
// service by raw value.
type ParsedFinding struct {
	AssetRaw   string
	Severity   domain.Severity
	Title      string
	Description string
	CVE        string
	CVSS       float64
}

// ParseResult is everything a parser extracted from one scan's raw output.
type ParseResult struct {
	Assets   []ParsedAsset
	Services []ParsedService
	Edges    []ParsedEdge
	Findings []ParsedFinding
	// Warnings holds non-fatal parse issues (spec §4.4: "non-zero exit with
	// parseable output -> completed with recorded warnings").
	Warnings []string
}

// Parser turns raw scanner stdout into a ParseResult.
type Parser func(rawOutput string) (ParseResult, error)

// Descriptor is one scanner's static contract (spec §6).
type Descriptor struct {
	Name           string
	ArgvTemplate   []string // e.g. []string{"subfinder", "-d", "{{.Target}}", "-json"}
	TimeoutSeconds int
	Parser         Parser
	Kinds          []ArtifactKind
}

// Timeout returns the descriptor's timeout as a time.Duration.
func (d Descriptor) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// TemplateArgs is substituted into a Descriptor's ArgvTemplate.
type TemplateArgs struct {
	Target string
	Port   string
}
