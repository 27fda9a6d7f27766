package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shadowpulse/reconengine/internal/api"
	"github.com/shadowpulse/reconengine/internal/changes"
	"github.com/shadowpulse/reconengine/internal/config"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/eventbus"
	"github.com/shadowpulse/reconengine/internal/metrics"
	"github.com/shadowpulse/reconengine/internal/orchestrator"
	"github.com/shadowpulse/reconengine/internal/queue"
	"github.com/shadowpulse/reconengine/internal/retention"
	"github.com/shadowpulse/reconengine/internal/runner"
	"github.com/shadowpulse/reconengine/internal/scheduler"
	"github.com/shadowpulse/reconengine/internal/store"
	"github.com/shadowpulse/reconengine/internal/verify"
	"github.com/shadowpulse/reconengine/internal/worker"
	"github.com/shadowpulse/reconengine/pkg/scanners"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "reconengine",
	Short:   "Autonomous recon/attack-surface-monitoring engine",
	Long:    `reconengine discovers, normalizes, and tracks an organization's external attack surface via a scheduled pipeline of scanner subprocesses.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reconengine %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	log.Info().Msg("starting reconengine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, store.Config{DSN: cfg.DatabaseURL, MaxConns: 10}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	q := queue.New(st.Pool())
	bus := eventbus.NewBus()
	hub := eventbus.NewHub(bus, log.Logger)
	go hub.Run(bus.Subscribe())

	mtr := metrics.New(Version, log.Logger)
	if err := mtr.Start("127.0.0.1:9464"); err != nil {
		log.Warn().Err(err).Msg("failed to start metrics server")
	}
	defer mtr.Shutdown(context.Background())

	registry := scanners.NewRegistry()
	rn := runner.New(cfg.DataPath, bus, log.Logger)
	detector := changes.New(st, q, bus, log.Logger)
	orch := orchestrator.New(st, q, bus, detector, registry, rn, log.Logger)
	verifier := verify.New(st, log.Logger)

	pool := worker.New(q, st, worker.Config{
		Limits: queue.Limits{
			GlobalMax:    cfg.MaxConcurrentJobsGlobal,
			PerTargetMax: cfg.MaxConcurrentJobsPerTarget,
		},
	}, log.Logger)
	pool.On(domain.JobPipeline, orch.RunPipeline)
	pool.On(domain.JobVerifyAsset, verifier.VerifyAsset)
	pool.On(domain.JobVerifyService, verifier.VerifyService)
	pool.OnScanner(orch.RunScannerJob)

	sched := scheduler.New(st, q, scheduler.Config{TickInterval: cfg.SchedulerTick()}, log.Logger)
	sweeper := retention.New(st, retention.Config{
		RawOutputDays:     cfg.RetentionRawOutputDays,
		CompletedRunsDays: cfg.RetentionCompletedRunsDays,
	}, log.Logger)

	go func() {
		if err := pool.Run(ctx); err != nil {
			log.Error().Err(err).Msg("worker pool stopped")
		}
	}()
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Error().Err(err).Msg("retention sweeper stopped")
		}
	}()

	apiServer := api.NewServer(st, q, bus, hub, log.Logger)
	router := api.NewRouter(apiServer, []string{"*"})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	configWatcher, err := config.NewConfigWatcher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create config watcher, .env changes will require restart")
	} else {
		if err := configWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start config watcher")
		}
		defer configWatcher.Stop()
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("received SIGHUP, reloading configuration")
			if configWatcher != nil {
				configWatcher.ReloadConfig()
			}
		case <-sigChan:
			log.Info().Msg("shutting down")
			goto shutdown
		}
	}

shutdown:
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	cancel()
	log.Info().Msg("server stopped")
}
