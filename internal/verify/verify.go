// Package verify implements the Verification Subsystem (C9, spec §4.9):
// targeted re-probes that resolve a candidate-stale artifact's fate.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
	"github.com/shadowpulse/reconengine/internal/store"
)

// Resolvers are the independent DNS resolvers consulted for verify_asset
// consensus (spec §4.9: "perform DNS resolution via >=2 independent
// resolvers"). Overridable in tests.
var Resolvers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// ProbeDialTimeout bounds each verification network call.
const ProbeDialTimeout = 5 * time.Second

// Subsystem executes verify_asset/verify_service jobs.
type Subsystem struct {
	store *store.Store
	log   zerolog.Logger
}

// New constructs a Subsystem.
func New(st *store.Store, log zerolog.Logger) *Subsystem {
	return &Subsystem{store: st, log: log.With().Str("component", "verify").Logger()}
}

type assetPayload struct {
	AssetID string `json:"asset_id"`
}

type servicePayload struct {
	ServiceID string `json:"service_id"`
}

// VerifyAsset resolves a candidate-stale subdomain/host via every resolver
// in Resolvers and applies the consensus rule (spec §4.9):
//   - all resolvers NXDOMAIN -> unresolved
//   - any resolver returns an address -> active, re-ingest the resolution
//   - mixed/timeout -> remain stale (return errs.ErrVerificationInconclusive
//     so the queue retries with backoff up to max_attempts)
func (s *Subsystem) VerifyAsset(ctx context.Context, job *domain.Job) error {
	var p assetPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("verify: unmarshal payload: %w", err)
	}
	asset, err := s.getAssetByID(ctx, p.AssetID)
	if err != nil {
		return fmt.Errorf("verify: get asset: %w", err)
	}

	var resolvedIPs []string
	nxdomainCount, errCount := 0, 0
	for _, resolver := range Resolvers {
		ips, err := resolveFunc(ctx, resolver, asset.Normalized)
		switch classifyProbe(ips, err) {
		case outcomeResolved:
			resolvedIPs = append(resolvedIPs, ips...)
		case outcomeNXDomain:
			nxdomainCount++
		default:
			errCount++
		}
	}

	switch verdictFor(len(resolvedIPs), nxdomainCount, len(Resolvers)) {
	case verdictActive:
		runID, err := s.ensureVerificationRun(ctx, job)
		if err != nil {
			return err
		}
		if err := s.store.TransitionAssetStatus(ctx, asset.ID, domain.StatusActive, ""); err != nil {
			return fmt.Errorf("verify: revive asset: %w", err)
		}
		for _, ip := range resolvedIPs {
			ipAsset, err := s.store.UpsertAssetSeen(ctx, nil, job.TargetID, runID, domain.AssetIP, ip, ip)
			if err != nil {
				return fmt.Errorf("verify: upsert resolved ip: %w", err)
			}
			if _, err := s.store.UpsertEdgeSeen(ctx, nil, job.TargetID, runID, asset.ID, ipAsset.ID, domain.RelResolvesTo); err != nil {
				return fmt.Errorf("verify: upsert resolution edge: %w", err)
			}
		}
		s.recordTerminalEvent(ctx, job.TargetID, runID, domain.EventVerificationResolved,
			map[string]string{"asset_id": asset.ID, "result": "active"})
		return nil
	case verdictUnresolved:
		runID, err := s.ensureVerificationRun(ctx, job)
		if err != nil {
			return err
		}
		if err := s.store.TransitionAssetStatus(ctx, asset.ID, domain.StatusUnresolved, "nxdomain on all resolvers"); err != nil {
			return fmt.Errorf("verify: mark unresolved: %w", err)
		}
		s.recordTerminalEvent(ctx, job.TargetID, runID, domain.EventVerificationResolved,
			map[string]string{"asset_id": asset.ID, "result": "unresolved"})
		return nil
	default:
		return fmt.Errorf("%w: mixed/timeout verifying %s (nxdomain=%d err=%d)",
			errs.ErrVerificationInconclusive, asset.Normalized, nxdomainCount, errCount)
	}
}

// probeOutcome classifies a single resolver's answer for the consensus
// tally below.
type probeOutcome int

const (
	outcomeResolved probeOutcome = iota
	outcomeNXDomain
	outcomeErr
)

func classifyProbe(ips []string, err error) probeOutcome {
	switch {
	case err == nil && len(ips) > 0:
		return outcomeResolved
	case isNXDomain(err):
		return outcomeNXDomain
	default:
		return outcomeErr
	}
}

// verdict is the multi-resolver consensus result (spec §4.9).
type verdict int

const (
	verdictActive verdict = iota
	verdictUnresolved
	verdictInconclusive
)

// verdictFor applies the consensus rule: any resolver answering wins over
// NXDOMAIN from the rest; all-NXDOMAIN means the name is gone; anything
// else (mixed errors, timeouts) is inconclusive and left for a retry.
func verdictFor(resolvedCount, nxdomainCount, totalResolvers int) verdict {
	switch {
	case resolvedCount > 0:
		return verdictActive
	case nxdomainCount == totalResolvers:
		return verdictUnresolved
	default:
		return verdictInconclusive
	}
}

// VerifyService probes a single (host, port) over TCP (spec §4.9: "single-
// port TCP (or UDP-probe) check"). Closed/refused/filtered beyond timeout
// -> closed. Open -> active, re-ingest service record.
func (s *Subsystem) VerifyService(ctx context.Context, job *domain.Job) error {
	var p servicePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("verify: unmarshal payload: %w", err)
	}
	svc, err := s.getServiceByID(ctx, p.ServiceID)
	if err != nil {
		return fmt.Errorf("verify: get service: %w", err)
	}
	asset, err := s.getAssetByID(ctx, svc.AssetID)
	if err != nil {
		return fmt.Errorf("verify: get owning asset: %w", err)
	}

	addr := net.JoinHostPort(asset.Normalized, fmt.Sprintf("%d", svc.Port))
	conn, dialErr := net.DialTimeout(string(svc.Proto), addr, ProbeDialTimeout)
	open := dialErr == nil
	if conn != nil {
		conn.Close()
	}

	runID, err := s.ensureVerificationRun(ctx, job)
	if err != nil {
		return err
	}
	if open {
		if err := s.store.TransitionServiceStatus(ctx, svc.ID, domain.StatusActive, ""); err != nil {
			return fmt.Errorf("verify: revive service: %w", err)
		}
		if _, err := s.store.UpsertServiceSeen(ctx, nil, job.TargetID, runID, svc.AssetID, svc.Port, svc.Proto, svc.Name, svc.Product, svc.Version); err != nil {
			return fmt.Errorf("verify: re-ingest service: %w", err)
		}
		s.recordTerminalEvent(ctx, job.TargetID, runID, domain.EventVerificationResolved,
			map[string]string{"service_id": svc.ID, "result": "active"})
		return nil
	}
	if err := s.store.TransitionServiceStatus(ctx, svc.ID, domain.StatusClosed, dialErrReason(dialErr)); err != nil {
		return fmt.Errorf("verify: mark closed: %w", err)
	}
	s.recordTerminalEvent(ctx, job.TargetID, runID, domain.EventVerificationResolved,
		map[string]string{"service_id": svc.ID, "result": "closed"})
	return nil
}

func dialErrReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// resolveFunc is resolveVia by default; tests substitute a fake so the
// consensus logic above can be exercised without a live resolver.
var resolveFunc = resolveVia

func resolveVia(ctx context.Context, resolverAddr, host string) ([]string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: ProbeDialTimeout}
			return d.DialContext(ctx, network, resolverAddr)
		},
	}
	probeCtx, cancel := context.WithTimeout(ctx, ProbeDialTimeout)
	defer cancel()
	addrs, err := r.LookupHost(probeCtx, host)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

func isNXDomain(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}

// ensureVerificationRun lazily creates the verification Run a re-probe's
// ingestion attaches to (spec §3: "verification runs may overlap with
// pipelines on different targets but never mutate inventory for a target
// during that target's active pipeline" — callers are expected to have
// already confirmed no active pipeline holds this target).
func (s *Subsystem) ensureVerificationRun(ctx context.Context, job *domain.Job) (string, error) {
	if job.RunID != nil {
		return *job.RunID, nil
	}
	run := &domain.Run{
		ID:       uuid.NewString(),
		TargetID: job.TargetID,
		Trigger:  domain.TriggerVerification,
		Status:   domain.RunRunning,
		Config:   domain.DefaultRunConfig(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("verify: create verification run: %w", err)
	}
	return run.ID, nil
}

func (s *Subsystem) recordTerminalEvent(ctx context.Context, targetID, runID string, kind domain.RunEventKind, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal verification event payload")
		return
	}
	ev := &domain.RunEvent{ID: uuid.NewString(), RunID: runID, TargetID: targetID, Kind: kind, Payload: body}
	if err := s.store.RecordRunEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("record verification event")
	}
}

func (s *Subsystem) getAssetByID(ctx context.Context, id string) (*domain.Asset, error) {
	return s.store.GetAssetByID(ctx, id)
}

func (s *Subsystem) getServiceByID(ctx context.Context, id string) (*domain.Service, error) {
	return s.store.GetServiceByID(ctx, id)
}
