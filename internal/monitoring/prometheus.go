package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsExporter provides Prometheus metrics export functionality
type MetricsExporter struct {
	logger   *zap.Logger
	config   MetricsConfig
	server   *http.Server
	registry *prometheus.Registry

	// Job metrics
	jobsStarted    prometheus.Counter
	jobsPreempted  prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	jobThreads     prometheus.Gauge
	bestDifficulty prometheus.Gauge
	hashes         prometheus.Counter
	workerFailures prometheus.Counter

	// API metrics
	requests *prometheus.CounterVec
}

// MetricsConfig defines metrics exporter configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path"`
	Namespace   string `yaml:"namespace"`
}

// DefaultMetricsConfig returns the default exporter configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:     false,
		ListenAddr:  ":9090",
		MetricsPath: "/metrics",
		Namespace:   "ore",
	}
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(logger *zap.Logger, config MetricsConfig) *MetricsExporter {
	defaults := DefaultMetricsConfig()
	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}
	if config.Namespace == "" {
		config.Namespace = defaults.Namespace
	}

	me := &MetricsExporter{
		logger:   logger,
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	me.initializeMetrics()

	return me
}

func (me *MetricsExporter) initializeMetrics() {
	ns := me.config.Namespace

	me.jobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "jobs", Name: "started_total",
		Help: "Jobs admitted to the worker pool.",
	})
	me.jobsPreempted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "jobs", Name: "preempted_total",
		Help: "Running jobs cancelled by a newer admission.",
	})
	me.jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "jobs", Name: "finished_total",
		Help: "Finished jobs by overall outcome.",
	}, []string{"outcome"})
	me.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "jobs", Name: "duration_seconds",
		Help:    "Wall clock time from admission to reduction.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	me.jobThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "jobs", Name: "threads",
		Help: "Worker count of the most recently started job.",
	})
	me.bestDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "jobs", Name: "best_difficulty",
		Help: "Best difficulty of the most recently finished job.",
	})
	me.hashes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "workers", Name: "hashes_total",
		Help: "Oracle evaluations performed.",
	})
	me.workerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "workers", Name: "failures_total",
		Help: "Workers that failed or panicked and contributed no candidate.",
	})
	me.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "api", Name: "requests_total",
		Help: "API requests by route and status code.",
	}, []string{"route", "code"})

	me.registry.MustRegister(
		me.jobsStarted,
		me.jobsPreempted,
		me.jobsFinished,
		me.jobDuration,
		me.jobThreads,
		me.bestDifficulty,
		me.hashes,
		me.workerFailures,
		me.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry returns the exporter's registry.
func (me *MetricsExporter) Registry() *prometheus.Registry {
	return me.registry
}

// Handler returns the HTTP handler serving the registry.
func (me *MetricsExporter) Handler() http.Handler {
	return promhttp.HandlerFor(me.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Start serves metrics until ctx is done.
func (me *MetricsExporter) Start(ctx context.Context) error {
	if !me.config.Enabled {
		me.logger.Info("Metrics exporter disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(me.config.MetricsPath, me.Handler())

	me.server = &http.Server{
		Addr:              me.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		me.logger.Info("Starting metrics exporter",
			zap.String("address", me.config.ListenAddr),
			zap.String("path", me.config.MetricsPath),
		)

		if err := me.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			me.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return me.Stop()
}

// Stop halts metrics export
func (me *MetricsExporter) Stop() error {
	if me.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := me.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metrics server: %w", err)
		}
	}

	me.logger.Info("Metrics exporter stopped")
	return nil
}

// JobStarted implements mining.Recorder.
func (me *MetricsExporter) JobStarted(threads int) {
	me.jobsStarted.Inc()
	me.jobThreads.Set(float64(threads))
}

// JobFinished implements mining.Recorder.
func (me *MetricsExporter) JobFinished(result mining.JobResult) {
	me.jobsFinished.WithLabelValues(result.JobOutcome()).Inc()
	me.jobDuration.Observe(result.Elapsed.Seconds())
	me.bestDifficulty.Set(float64(result.Difficulty))
	me.hashes.Add(float64(result.TotalHashes))
}

// JobPreempted implements mining.Recorder.
func (me *MetricsExporter) JobPreempted() {
	me.jobsPreempted.Inc()
}

// WorkerFailed implements mining.Recorder.
func (me *MetricsExporter) WorkerFailed() {
	me.workerFailures.Inc()
}

// RecordRequest counts an API request.
func (me *MetricsExporter) RecordRequest(route string, code int) {
	me.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
