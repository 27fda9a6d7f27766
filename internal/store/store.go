// Package store is the Postgres-backed persistence layer: the inventory
// upserts of §4.3, plus CRUD for targets, runs, scans, findings, schedules,
// and the run_events audit log (§3, §6).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Store wraps a pooled Postgres connection. All operations accept a
// context so callers can bound query time with the same deadlines used for
// job leases.
type Store struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
	log  zerolog.Logger
}

// Config holds the connection parameters for Open.
type Config struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// Open establishes the pgx pool and a parallel sqlx handle over the same
// DSN (sqlx gives us struct-scanning convenience for read paths; pgx gives
// us the pool and transaction control needed for the SKIP LOCKED dequeue in
// internal/queue).
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: sqlx open: %w", err)
	}
	return &Store{pool: pool, db: db, log: log.With().Str("component", "store").Logger()}, nil
}

// Pool exposes the underlying pgx pool for packages (queue) that need raw
// transaction control beyond what Store's methods offer.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases both underlying connections.
func (s *Store) Close() {
	s.pool.Close()
	_ = s.db.Close()
}

// Ping verifies connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
