package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCronNextOccurrenceAdvancesPastNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, err := cronNextOccurrence("0 * * * *", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.After(now) {
		t.Fatalf("expected next occurrence after %v, got %v", now, next)
	}
	want := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCronNextOccurrenceInvalidExpr(t *testing.T) {
	if _, err := cronNextOccurrence("not a cron expr", time.Now().UTC()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestNewDefaultsTickInterval(t *testing.T) {
	s := New(nil, nil, Config{}, zerolog.Nop())
	if s.cfg.TickInterval != defaultTick {
		t.Errorf("expected default tick interval %v, got %v", defaultTick, s.cfg.TickInterval)
	}
}
