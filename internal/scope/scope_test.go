package scope

import (
	"errors"
	"testing"

	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
)

func policy() domain.ScopePolicy {
	return domain.ScopePolicy{
		Entries: []domain.ScopeEntry{
			{Kind: domain.ScopeDNSSuffix, Value: "example.com"},
			{Kind: domain.ScopeIPCIDR, Value: "10.0.0.0/8"},
			{Kind: domain.ScopeURLPrefix, Value: "https://partner.example.org/public"},
		},
	}
}

func TestCheckDNSSuffix(t *testing.T) {
	p := policy()
	if d := Check(p, "api.example.com"); !d.Allowed {
		t.Errorf("expected api.example.com allowed, got %+v", d)
	}
	if d := Check(p, "example.com"); !d.Allowed {
		t.Errorf("expected exact-match example.com allowed")
	}
	if d := Check(p, "evilexample.com"); d.Allowed {
		t.Errorf("expected evilexample.com denied (no dot-label boundary), got allowed")
	}
	if d := Check(p, "notexample.com"); d.Allowed {
		t.Errorf("expected notexample.com denied")
	}
}

func TestCheckCIDR(t *testing.T) {
	p := policy()
	if d := Check(p, "10.1.2.3"); !d.Allowed {
		t.Errorf("expected 10.1.2.3 allowed")
	}
	if d := Check(p, "11.1.2.3"); d.Allowed {
		t.Errorf("expected 11.1.2.3 denied")
	}
}

func TestCheckURLPrefix(t *testing.T) {
	p := policy()
	if d := Check(p, "https://partner.example.org/public/api"); !d.Allowed {
		t.Errorf("expected url prefix match allowed")
	}
	if d := Check(p, "https://partner.example.org/private"); d.Allowed {
		t.Errorf("expected non-matching path denied")
	}
}

func TestEnforceReturnsScopeDenied(t *testing.T) {
	p := policy()
	err := Enforce(p, "attacker.net")
	if !errors.Is(err, errs.ErrScopeDenied) {
		t.Errorf("expected errs.ErrScopeDenied, got %v", err)
	}
	if err := Enforce(p, "api.example.com"); err != nil {
		t.Errorf("expected nil error for allowed candidate, got %v", err)
	}
}

func TestNoWildcards(t *testing.T) {
	p := domain.ScopePolicy{Entries: []domain.ScopeEntry{{Kind: domain.ScopeDNSSuffix, Value: "b.c"}}}
	if d := Check(p, "a.b.c"); !d.Allowed {
		t.Errorf("expected a.b.c to match suffix b.c")
	}
	if d := Check(p, "xb.c"); d.Allowed {
		t.Errorf("expected xb.c denied: suffix matching is label-boundary, not substring")
	}
}
