// Package metrics exposes Prometheus instrumentation for the job queue,
// worker pool, and pipeline/scan outcomes, following the teacher's
// ProxyMetrics pattern: one registry, nil-receiver-safe recording methods,
// a dedicated HTTP server separate from the API surface.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every Prometheus collector this process registers.
type Metrics struct {
	jobsLeased      *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	workersActive   prometheus.Gauge
	leasesReaped    prometheus.Counter
	scansCompleted  *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	findingsTotal   *prometheus.CounterVec
	runsCompleted   *prometheus.CounterVec
	buildInfo       *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
	log      zerolog.Logger
}

// New creates and registers every collector.
func New(version string, log zerolog.Logger) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		jobsLeased: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconengine_jobs_leased_total",
				Help: "Total jobs leased by job type.",
			},
			[]string{"job_type"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconengine_jobs_completed_total",
				Help: "Total jobs completed successfully by job type.",
			},
			[]string{"job_type"},
		),
		jobsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconengine_jobs_failed_total",
				Help: "Total jobs failed (retryable or terminal) by job type.",
			},
			[]string{"job_type", "terminal"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconengine_job_duration_seconds",
				Help:    "Handler execution time per job type.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"job_type"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconengine_queue_depth",
				Help: "Jobs currently queued or leased.",
			},
		),
		workersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconengine_workers_active",
				Help: "Worker goroutines currently executing a job.",
			},
		),
		leasesReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reconengine_leases_reaped_total",
				Help: "Expired leases reclaimed by the janitor sweep.",
			},
		),
		scansCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconengine_scans_completed_total",
				Help: "Scanner subprocess completions by scanner name and outcome.",
			},
			[]string{"scanner", "outcome"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconengine_scan_duration_seconds",
				Help:    "Scanner subprocess wall-clock duration by scanner name.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"scanner"},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconengine_findings_total",
				Help: "Findings recorded by severity.",
			},
			[]string{"severity"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconengine_runs_completed_total",
				Help: "Pipeline/verification runs completed by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reconengine_build_info",
				Help: "Build metadata.",
			},
			[]string{"version"},
		),
		registry: reg,
		log:      log.With().Str("component", "metrics").Logger(),
	}

	reg.MustRegister(
		m.jobsLeased, m.jobsCompleted, m.jobsFailed, m.jobDuration,
		m.queueDepth, m.workersActive, m.leasesReaped,
		m.scansCompleted, m.scanDuration, m.findingsTotal, m.runsCompleted,
		m.buildInfo,
	)
	m.buildInfo.WithLabelValues(version).Set(1)

	return m
}

// Start serves /metrics on addr. Safe to call on a nil *Metrics (no-op),
// matching the teacher's nil-receiver-safe recording methods.
func (m *Metrics) Start(addr string) error {
	if m == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped unexpectedly")
		}
	}()
	m.log.Info().Str("addr", addr).Msg("metrics server started")
	return nil
}

// Shutdown gracefully stops the metrics HTTP server.
func (m *Metrics) Shutdown(ctx context.Context) {
	if m == nil || m.server == nil {
		return
	}
	_ = m.server.Shutdown(ctx)
}

func (m *Metrics) RecordJobLeased(jobType string) {
	if m == nil {
		return
	}
	m.jobsLeased.WithLabelValues(jobType).Inc()
}

func (m *Metrics) RecordJobCompleted(jobType string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsCompleted.WithLabelValues(jobType).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) RecordJobFailed(jobType string, terminal bool) {
	if m == nil {
		return
	}
	label := "false"
	if terminal {
		label = "true"
	}
	m.jobsFailed.WithLabelValues(jobType, label).Inc()
}

func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) IncWorkersActive() {
	if m == nil {
		return
	}
	m.workersActive.Inc()
}

func (m *Metrics) DecWorkersActive() {
	if m == nil {
		return
	}
	m.workersActive.Dec()
}

func (m *Metrics) RecordLeasesReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.leasesReaped.Add(float64(n))
}

func (m *Metrics) RecordScanCompleted(scanner, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scansCompleted.WithLabelValues(scanner, outcome).Inc()
	m.scanDuration.WithLabelValues(scanner).Observe(d.Seconds())
}

func (m *Metrics) RecordFinding(severity string) {
	if m == nil {
		return
	}
	m.findingsTotal.WithLabelValues(severity).Inc()
}

func (m *Metrics) RecordRunCompleted(trigger, outcome string) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(trigger, outcome).Inc()
}
