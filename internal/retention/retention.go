// Package retention runs the periodic purge sweep (C12, spec §4.12): raw
// scanner stdout older than a configured age is blanked, and completed runs
// past their own retention window are deleted outright. Inventory rows
// (assets, services, edges, findings) are never touched by this sweep.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/store"
)

// defaultInterval matches the daily cadence spec §4.12 expects for a purge
// sweep; unlike the scheduler's due-check this isn't latency-sensitive.
const defaultInterval = 24 * time.Hour

// Config tunes one Sweeper.
type Config struct {
	Interval           time.Duration
	RawOutputDays      int
	CompletedRunsDays  int
}

// Sweeper periodically purges aged raw output and completed runs.
type Sweeper struct {
	store *store.Store
	cfg   Config
	log   zerolog.Logger
}

// New constructs a Sweeper.
func New(st *store.Store, cfg Config, log zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Sweeper{store: st, cfg: cfg, log: log.With().Str("component", "retention").Logger()}
}

// Run ticks until ctx is cancelled, sweeping on every tick (including
// immediately on start, so a long-lived process doesn't wait a full
// interval before its first purge).
func (sw *Sweeper) Run(ctx context.Context) error {
	sw.sweep(ctx)

	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	if sw.cfg.RawOutputDays > 0 {
		n, err := sw.store.PurgeRawOutputOlderThan(ctx, sw.cfg.RawOutputDays)
		if err != nil {
			sw.log.Error().Err(err).Msg("purge raw output failed")
		} else if n > 0 {
			sw.log.Info().Int64("count", n).Int("older_than_days", sw.cfg.RawOutputDays).
				Msg("purged raw scan output")
		}
	}
	if sw.cfg.CompletedRunsDays > 0 {
		n, err := sw.store.PurgeCompletedRunsOlderThan(ctx, sw.cfg.CompletedRunsDays)
		if err != nil {
			sw.log.Error().Err(err).Msg("purge completed runs failed")
		} else if n > 0 {
			sw.log.Info().Int64("count", n).Int("older_than_days", sw.cfg.CompletedRunsDays).
				Msg("purged completed runs")
		}
	}
}
