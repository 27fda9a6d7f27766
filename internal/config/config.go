// Package config loads process configuration from the environment (with
// optional local .env support) and watches that .env file for live reload,
// mirroring the teacher's config.Load()/NewConfigWatcher contract (spec §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// defaultDataDir is a var, not a const, so tests can point it at a tempdir
// the way the teacher's config_load_test.go does.
var defaultDataDir = "/etc/reconengine"

// Config is the process-wide, live-reloadable configuration surface
// (spec §6 "Configuration (environment)").
type Config struct {
	DataPath string

	DatabaseURL string

	MaxConcurrentJobsGlobal     int
	MaxConcurrentJobsPerTarget  int
	RetentionRawOutputDays      int
	RetentionCompletedRunsDays  int
	LeaseDurationSeconds        int
	SchedulerTickSeconds        int

	HTTPPort int
	LogLevel string
	LogFormat string
}

// Load reads Config from the environment, after first loading a local .env
// file (if present) via godotenv, the same precedence the teacher's
// config.Load() uses: .env populates os.Environ() without overriding
// variables already set there.
func Load() (*Config, error) {
	dataPath := os.Getenv("RECONENGINE_DATA_DIR")
	if dataPath == "" {
		dataPath = defaultDataDir
	}

	envFile := envFilePath(dataPath)
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		DataPath:    dataPath,
		DatabaseURL: os.Getenv("DATABASE_URL"),

		MaxConcurrentJobsGlobal:    5,
		MaxConcurrentJobsPerTarget: 2,
		RetentionRawOutputDays:     30,
		RetentionCompletedRunsDays: 90,
		LeaseDurationSeconds:       300,
		SchedulerTickSeconds:       10,

		HTTPPort:  8080,
		LogLevel:  "info",
		LogFormat: "console",
	}

	var err error
	if cfg.MaxConcurrentJobsGlobal, err = envInt("MAX_CONCURRENT_JOBS_GLOBAL", cfg.MaxConcurrentJobsGlobal); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentJobsPerTarget, err = envInt("MAX_CONCURRENT_JOBS_PER_TARGET", cfg.MaxConcurrentJobsPerTarget); err != nil {
		return nil, err
	}
	if cfg.RetentionRawOutputDays, err = envInt("RETENTION_RAW_OUTPUT_DAYS", cfg.RetentionRawOutputDays); err != nil {
		return nil, err
	}
	if cfg.RetentionCompletedRunsDays, err = envInt("RETENTION_COMPLETED_RUNS_DAYS", cfg.RetentionCompletedRunsDays); err != nil {
		return nil, err
	}
	if cfg.LeaseDurationSeconds, err = envInt("LEASE_DURATION_SECONDS", cfg.LeaseDurationSeconds); err != nil {
		return nil, err
	}
	if cfg.SchedulerTickSeconds, err = envInt("SCHEDULER_TICK_SECONDS", cfg.SchedulerTickSeconds); err != nil {
		return nil, err
	}
	if cfg.HTTPPort, err = envInt("PORT", cfg.HTTPPort); err != nil {
		return nil, err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	return cfg, nil
}

func envFilePath(dataPath string) string {
	return dataPath + string(os.PathSeparator) + ".env"
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

// LeaseDuration returns LeaseDurationSeconds as a time.Duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationSeconds) * time.Second
}

// SchedulerTick returns SchedulerTickSeconds as a time.Duration.
func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickSeconds) * time.Second
}
