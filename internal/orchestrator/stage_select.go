package orchestrator

import (
	"context"
	"fmt"

	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/store"
)

// selectStageTargets picks the input target strings for one DAG stage (spec
// §4.7). Each stage reads what the previous stage deposited into inventory
// this run, rather than the orchestrator threading scanner output directly
// from stage to stage.
func (o *Orchestrator) selectStageTargets(ctx context.Context, run *domain.Run, target *domain.Target, stage string) ([]string, error) {
	switch stage {
	case "subfinder":
		return []string{target.RootDomain}, nil

	case "dns_resolve":
		subs, err := o.store.AssetsSeenInRun(ctx, run.TargetID, run.ID, domain.AssetSubdomain)
		if err != nil {
			return nil, fmt.Errorf("select dns_resolve targets: %w", err)
		}
		if len(subs) == 0 {
			// subfinder turned up nothing: fall back to the root host alone
			// so the rest of the DAG still has something to work with
			// (spec §4.7 "subfinder empty -> continue with root host only").
			return []string{target.RootDomain}, nil
		}
		out := make([]string, len(subs))
		for i, a := range subs {
			out[i] = a.Normalized
		}
		return out, nil

	case "nmap":
		hosts, err := o.store.CandidateNmapHosts(ctx, run.TargetID, run.ID, run.Config.MaxHosts)
		if err != nil {
			return nil, fmt.Errorf("select nmap targets: %w", err)
		}
		out := make([]string, len(hosts))
		for i, a := range hosts {
			out[i] = a.Normalized
		}
		return out, nil

	case "httpx":
		svcs, err := o.store.HTTPLikeServicesSeenInRun(ctx, run.TargetID, run.ID, run.Config.MaxHTTPTargets)
		if err != nil {
			return nil, fmt.Errorf("select httpx targets: %w", err)
		}
		out := make([]string, len(svcs))
		for i, hp := range svcs {
			out[i] = httpTargetString(hp)
		}
		return out, nil

	case "nuclei":
		urls, err := o.store.AssetsSeenInRun(ctx, run.TargetID, run.ID, domain.AssetURL)
		if err != nil {
			return nil, fmt.Errorf("select nuclei targets: %w", err)
		}
		out := make([]string, len(urls))
		for i, a := range urls {
			out[i] = a.Normalized
		}
		return out, nil

	default:
		return nil, fmt.Errorf("orchestrator: unknown stage %q", stage)
	}
}

// httpTargetString renders a (host, port) pair the way httpx expects a
// target: https://host:port for 443 and 8443, http://host for 80, and
// http://host:port for any other port.
func httpTargetString(hp store.HostPort) string {
	switch hp.Port {
	case 443, 8443:
		return fmt.Sprintf("https://%s:%d", hp.Host, hp.Port)
	case 80:
		return fmt.Sprintf("http://%s", hp.Host)
	default:
		return fmt.Sprintf("http://%s:%d", hp.Host, hp.Port)
	}
}
