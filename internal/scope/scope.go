// Package scope evaluates a target's scope policy against candidate
// strings before any scan job is dispatched (spec §4.2).
package scope

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
)

// Decision is the outcome of evaluating a candidate against a policy.
type Decision struct {
	Allowed bool
	Reason  string
	// MatchedEntry is the policy entry that allowed the candidate, empty on
	// deny.
	MatchedEntry domain.ScopeEntry
}

// Check evaluates candidate against policy's ordered allow-lists. The
// world is closed: a candidate is allowed iff at least one entry matches;
// there are no deny rules (spec §4.2).
func Check(policy domain.ScopePolicy, candidate string) Decision {
	for _, entry := range policy.Entries {
		switch entry.Kind {
		case domain.ScopeDNSSuffix:
			if matchesDNSSuffix(candidate, entry.Value) {
				return Decision{Allowed: true, MatchedEntry: entry, Reason: "matched dns suffix " + entry.Value}
			}
		case domain.ScopeIPCIDR:
			if matchesCIDR(candidate, entry.Value) {
				return Decision{Allowed: true, MatchedEntry: entry, Reason: "matched cidr " + entry.Value}
			}
		case domain.ScopeURLPrefix:
			if matchesURLPrefix(candidate, entry.Value) {
				return Decision{Allowed: true, MatchedEntry: entry, Reason: "matched url prefix " + entry.Value}
			}
		}
	}
	return Decision{Allowed: false, Reason: "no scope entry matched " + candidate}
}

// Enforce is the Check wrapper the runner calls before each scanner run: it
// returns errs.ErrScopeDenied on deny so callers can treat it as
// fatal-not-retryable (spec §4.4 step 1). The verification probes in
// internal/verify do not call it.
func Enforce(policy domain.ScopePolicy, candidate string) error {
	d := Check(policy, candidate)
	if !d.Allowed {
		return fmt.Errorf("%w: %s", errs.ErrScopeDenied, d.Reason)
	}
	return nil
}

// matchesDNSSuffix implements exact dot-label suffix matching: "a.b.c"
// matches suffix "b.c" but not the non-label suffix "bc" (spec §4.2).
func matchesDNSSuffix(candidate, suffix string) bool {
	host := strings.ToLower(strings.TrimSuffix(candidate, "."))
	suffix = strings.ToLower(strings.TrimSuffix(suffix, "."))
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
}

// matchesCIDR reports whether candidate parses as an IP within cidr.
func matchesCIDR(candidate, cidr string) bool {
	ip := net.ParseIP(strings.TrimSpace(candidate))
	if ip == nil {
		return false
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipnet.Contains(ip)
}

// matchesURLPrefix reports whether candidate, parsed and lowercased on
// scheme+host, shares prefix with the policy entry.
func matchesURLPrefix(candidate, prefix string) bool {
	c := strings.ToLower(candidate)
	p := strings.ToLower(prefix)
	if strings.HasPrefix(c, p) {
		return true
	}
	cu, err1 := url.Parse(candidate)
	pu, err2 := url.Parse(prefix)
	if err1 != nil || err2 != nil {
		return false
	}
	return cu.Scheme == pu.Scheme && strings.HasSuffix(cu.Host, pu.Host) && strings.HasPrefix(cu.Path, pu.Path)
}
