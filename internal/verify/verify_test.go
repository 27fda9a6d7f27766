package verify

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestClassifyProbe(t *testing.T) {
	nxdomainErr := &net.DNSError{Err: "no such host", Name: "example.com", IsNotFound: true}
	timeoutErr := &net.DNSError{Err: "i/o timeout", Name: "example.com", IsTimeout: true}

	cases := []struct {
		name string
		ips  []string
		err  error
		want probeOutcome
	}{
		{"resolved single ip", []string{"10.0.0.1"}, nil, outcomeResolved},
		{"resolved multiple ips", []string{"10.0.0.1", "10.0.0.2"}, nil, outcomeResolved},
		{"nxdomain", nil, nxdomainErr, outcomeNXDomain},
		{"timeout is not nxdomain", nil, timeoutErr, outcomeErr},
		{"generic error", nil, errors.New("boom"), outcomeErr},
		{"nil error empty ips is not resolved", nil, nil, outcomeErr},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classifyProbe(c.ips, c.err)
			if got != c.want {
				t.Errorf("classifyProbe(%v, %v) = %v, want %v", c.ips, c.err, got, c.want)
			}
		})
	}
}

func TestVerdictFor(t *testing.T) {
	cases := []struct {
		name                         string
		resolvedCount, nxdomainCount int
		totalResolvers               int
		want                         verdict
	}{
		{"any resolver answering wins", 1, 1, 2, verdictActive},
		{"all resolvers answering", 2, 0, 2, verdictActive},
		{"unanimous nxdomain", 0, 2, 2, verdictUnresolved},
		{"mixed nxdomain and error is inconclusive", 0, 1, 2, verdictInconclusive},
		{"all errors is inconclusive", 0, 0, 2, verdictInconclusive},
		{"single resolver nxdomain", 0, 1, 1, verdictUnresolved},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := verdictFor(c.resolvedCount, c.nxdomainCount, c.totalResolvers)
			if got != c.want {
				t.Errorf("verdictFor(%d, %d, %d) = %v, want %v",
					c.resolvedCount, c.nxdomainCount, c.totalResolvers, got, c.want)
			}
		})
	}
}

func TestIsNXDomain(t *testing.T) {
	if isNXDomain(nil) {
		t.Error("isNXDomain(nil) should be false")
	}
	if isNXDomain(errors.New("plain error")) {
		t.Error("isNXDomain(non-DNS error) should be false")
	}
	notFound := &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}
	if !isNXDomain(notFound) {
		t.Error("isNXDomain(IsNotFound DNSError) should be true")
	}
	timeout := &net.DNSError{Err: "i/o timeout", Name: "x", IsTimeout: true}
	if isNXDomain(timeout) {
		t.Error("isNXDomain(timeout DNSError) should be false")
	}
}

func TestDialErrReason(t *testing.T) {
	if got := dialErrReason(nil); got != "" {
		t.Errorf("dialErrReason(nil) = %q, want empty", got)
	}
	err := errors.New("connection refused")
	if got := dialErrReason(err); got != "connection refused" {
		t.Errorf("dialErrReason(err) = %q, want %q", got, "connection refused")
	}
}

// TestResolveFuncConsensusAllNXDomain drives the full per-resolver loop used
// by VerifyAsset (minus the store-backed side effects) through resolveFunc,
// confirming a unanimous NXDOMAIN across every configured resolver reaches
// verdictUnresolved without ever touching a live resolver.
func TestResolveFuncConsensusAllNXDomain(t *testing.T) {
	orig := resolveFunc
	defer func() { resolveFunc = orig }()
	resolveFunc = func(ctx context.Context, resolverAddr, host string) ([]string, error) {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	resolvers := []string{"r1:53", "r2:53", "r3:53"}
	var resolvedIPs []string
	nxdomainCount := 0
	for _, r := range resolvers {
		ips, err := resolveFunc(context.Background(), r, "stale.example.com")
		switch classifyProbe(ips, err) {
		case outcomeResolved:
			resolvedIPs = append(resolvedIPs, ips...)
		case outcomeNXDomain:
			nxdomainCount++
		}
	}
	if got := verdictFor(len(resolvedIPs), nxdomainCount, len(resolvers)); got != verdictUnresolved {
		t.Errorf("verdict = %v, want verdictUnresolved", got)
	}
}
