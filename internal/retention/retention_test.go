package retention

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewDefaultsInterval(t *testing.T) {
	sw := New(nil, Config{}, zerolog.Nop())
	if sw.cfg.Interval != defaultInterval {
		t.Errorf("expected default interval %v, got %v", defaultInterval, sw.cfg.Interval)
	}
}

func TestNewKeepsExplicitInterval(t *testing.T) {
	sw := New(nil, Config{Interval: time.Hour}, zerolog.Nop())
	if sw.cfg.Interval != time.Hour {
		t.Errorf("expected explicit interval preserved, got %v", sw.cfg.Interval)
	}
}

func TestSweepSkipsPurgeWhenDaysUnset(t *testing.T) {
	// store is nil: sweep must not dereference it when both day thresholds
	// are zero, proving the purge calls are properly gated.
	sw := New(nil, Config{}, zerolog.Nop())
	sw.sweep(context.Background())
}
