package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/api"
	"github.com/andupopescu/ore-cli-extended-stats/internal/config"
	"github.com/andupopescu/ore-cli-extended-stats/internal/hardware"
	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/andupopescu/ore-cli-extended-stats/internal/monitoring"
	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proof-of-work compute service",
	Long: `serve starts the HTTP service. POST /mine runs a search job on the local
worker pool and answers with the best solution found. A new job preempts the
one in flight.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "override the service listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := rootLogger
	cfg := appConfig
	if listenAddr != "" {
		cfg.Service.ListenAddr = listenAddr
	}

	if cfgFile != "" {
		manager, err := config.NewManager(logger, cfgFile)
		if err != nil {
			return err
		}
		manager.OnChange(func(c *config.Config) {
			level := c.LogConfig().Level
			if err := logFactory.SetLevel(level); err != nil {
				logger.Warn("Ignoring log level from reloaded config", zap.String("level", level), zap.Error(err))
				return
			}
			logger.Info("Log level updated", zap.String("level", level))
		})
		if err := manager.Watch(); err != nil {
			logger.Warn("Config hot reload unavailable", zap.Error(err))
		}
		defer manager.Close()
	}

	detector := hardware.NewDetector(logFactory.GetLogger("hardware"))
	host := detector.Detect()
	logger.Info("Host detected",
		zap.String("cpu", host.Model),
		zap.Int("logical_cpus", host.LogicalCPUs),
		zap.Int("physical_cores", host.PhysicalCores),
		zap.String("memory", humanize.IBytes(host.TotalMemory)),
	)

	drill, err := oracle.NewDrill(cfg.Mining.Oracle)
	if err != nil {
		return fmt.Errorf("invalid oracle config: %w", err)
	}

	metrics := monitoring.NewMetricsExporter(logFactory.GetLogger("metrics"), cfg.Monitoring)

	pool := mining.NewPool(logFactory.GetLogger("pool"), drill, cfg.Mining)
	pool.SetRecorder(metrics)
	ctrl := mining.NewController(logFactory.GetLogger("controller"), pool, cfg.Mining.GracePeriod)

	server, err := api.NewServer(cfg.Service, logFactory.GetLogger("api"), api.Options{
		Miner: ctrl,
		Host:  detector,
		Limits: api.Limits{
			MaxThreads:     cfg.Mining.MaxThreads,
			ScratchSize:    drill.ScratchSize(),
			MemoryFraction: cfg.Mining.MemoryFraction,
		},
		OracleName: drill.Name(),
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	reporters := mining.MultiReporter{mining.NewLogReporter(logFactory.GetLogger("progress"), 5*time.Second)}
	if hub := server.Hub(); hub != nil {
		reporters = append(reporters, hub)
		ctrl.AddObserver(hub)
	}
	ctrl.SetProgress(reporters)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsErr := make(chan error, 1)
	go func() { metricsErr <- metrics.Start(ctx) }()

	if err := server.Start(); err != nil {
		return err
	}
	logger.Info("Compute service started",
		zap.String("version", Version),
		zap.String("listen_addr", cfg.Service.ListenAddr),
		zap.String("oracle", drill.Name()),
		zap.String("scratch_per_worker", humanize.IBytes(uint64(drill.ScratchSize()))),
	)

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("api server: %w", err))
	}
	if err := <-metricsErr; err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}

	logger.Info("Compute service stopped")
	return errors.Join(errs...)
}
