package orchestrator

import (
	"testing"

	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/store"
)

func TestAssetBatchLookupByHost(t *testing.T) {
	batch := assetBatch{}
	batch[assetKey(domain.AssetSubdomain, "api.example.com")] = &domain.Asset{ID: "a1", Normalized: "api.example.com"}

	got, ok := batch.lookup("API.Example.com")
	if !ok || got.ID != "a1" {
		t.Fatalf("expected case-insensitive host match, got %v ok=%v", got, ok)
	}
}

func TestAssetBatchLookupByURL(t *testing.T) {
	batch := assetBatch{}
	batch[assetKey(domain.AssetURL, "https://api.example.com")] = &domain.Asset{ID: "a2"}

	got, ok := batch.lookup("HTTPS://API.Example.com:443")
	if !ok || got.ID != "a2" {
		t.Fatalf("expected url match after scheme/host lowercasing and default-port elision, got %v ok=%v", got, ok)
	}
}

func TestAssetBatchLookupMiss(t *testing.T) {
	batch := assetBatch{}
	if _, ok := batch.lookup("nothing.example.com"); ok {
		t.Fatal("expected no match against empty batch")
	}
}

func TestNormalizeAssetByType(t *testing.T) {
	scope := domain.ScopePolicy{}
	if _, err := normalizeAsset(domain.AssetIP, "8.8.8.8", scope); err != nil {
		t.Fatalf("unexpected error normalizing public ip: %v", err)
	}
	if _, err := normalizeAsset(domain.AssetIP, "127.0.0.1", scope); err == nil {
		t.Fatal("expected loopback ip to be rejected without AllowPrivateIPs")
	}
	if _, err := normalizeAsset(domain.AssetURL, "not a url", scope); err == nil {
		t.Fatal("expected invalid url to fail normalization")
	}
	if got, err := normalizeAsset(domain.AssetHost, "Sub.Example.COM", scope); err != nil || got != "sub.example.com" {
		t.Fatalf("expected lowercased host, got %q err=%v", got, err)
	}
}

func TestHTTPTargetStringPortMapping(t *testing.T) {
	cases := []struct {
		port int
		want string
	}{
		{80, "http://host"},
		{443, "https://host:443"},
		{8443, "https://host:8443"},
		{8080, "http://host:8080"},
	}
	for _, c := range cases {
		got := httpTargetString(store.HostPort{Host: "host", Port: c.port})
		if got != c.want {
			t.Errorf("port %d: got %q, want %q", c.port, got, c.want)
		}
	}
}
