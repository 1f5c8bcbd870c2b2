package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trmlabs/connpool/pkg/config"
	"github.com/trmlabs/connpool/pkg/events"
	"github.com/trmlabs/connpool/pkg/factory"
	"github.com/trmlabs/connpool/pkg/pool"
	"github.com/trmlabs/connpool/pkg/resilience"
	"github.com/trmlabs/connpool/pkg/telemetry"
)

var (
	// Global flags
	configFile    string
	logLevel      string
	logFormat     string
	target        string
	workers       int
	holdTime      time.Duration
	statsInterval time.Duration

	// Build info (set by build system)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "poolmon",
		Short: "Adaptive connection pool monitor",
		Long: `poolmon runs an adaptively scaled connection pool against a backend
target and drives it with a synthetic acquire/release workload, logging pool
events and periodic statistics. It is the reference harness for the connpool
library.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    runPool,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "", "log format (json, text, console)")
	rootCmd.PersistentFlags().StringVarP(&target, "target", "t", "", "backend target (host:port or database path)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 8, "synthetic workload goroutines")
	rootCmd.Flags().DurationVar(&holdTime, "hold", 100*time.Millisecond, "mean connection hold time per acquisition")
	rootCmd.Flags().DurationVar(&statsInterval, "stats-interval", 10*time.Second, "pool statistics logging interval")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPool(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override config with command line flags
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if target != "" {
		cfg.Pool.Target = target
	}

	logger, err := setupLogging(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", date).
		Str("target", cfg.Pool.Target).
		Str("factory", cfg.Factory.Kind).
		Int("min_pool_size", cfg.Pool.MinSize).
		Int("max_pool_size", cfg.Pool.MaxSize).
		Msg("Starting poolmon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	tracing, err := telemetry.NewManager(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}()

	// Event bus, optionally backed by SQLite
	var persistence events.Persistence
	if cfg.Events.DatabasePath != "" {
		persistence, err = events.NewSQLitePersistence(cfg.Events.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		defer persistence.Close()
		if err := persistence.CleanupOldEvents(cfg.Events.Retention); err != nil {
			logger.Warn().Err(err).Msg("Event store cleanup failed")
		}
	}
	bus := events.NewBus("poolmon", cfg.Events.BufferSize, persistence)
	defer bus.Stop()

	bus.Subscribe(logEventHandler(logger), events.SeverityFilter(events.SeverityWarning, events.SeverityError))
	if cfg.Telemetry.Enabled {
		bus.Subscribe(telemetry.EventHandler(tracing.Tracer()), nil)
	}

	// Pool
	opts := []pool.Option{
		pool.WithLogger(logger),
		pool.WithEmitter(bus),
	}
	if cfg.Retry.Enabled {
		retryCfg := cfg.Retry.Config
		opts = append(opts, pool.WithRetrier(resilience.New(&retryCfg)))
	}

	p, err := pool.New(cfg.Pool, newFactory(cfg.Factory), opts...)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize pool: %w", err)
	}

	// Synthetic workload
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, p, id, logger)
		}(i)
	}

	// Periodic stats
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logStats(logger, p.Stats())
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	cancel()
	wg.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer drainCancel()
	if err := p.Drain(drainCtx); err != nil {
		logger.Error().Err(err).Msg("Drain failed")
	}
	if err := p.CloseAll(); err != nil {
		logger.Error().Err(err).Msg("Close failed")
	}

	logStats(logger, p.Stats())
	logger.Info().Msg("Shutdown complete")
	return nil
}

// runWorker acquires, holds, and releases connections in a loop. A small
// fraction of uses report an error so scaling and health behavior stay
// exercised.
func runWorker(ctx context.Context, p *pool.Pool, id int, logger zerolog.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := p.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug().Err(err).Int("worker", id).Msg("Acquire failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(holdTime):
			}
			continue
		}

		hold := time.Duration(rng.Int63n(int64(2 * holdTime)))
		select {
		case <-ctx.Done():
		case <-time.After(hold):
		}

		if rng.Float64() < 0.01 {
			p.ReportError(conn, fmt.Errorf("synthetic backend error"))
		}
		if err := p.Release(conn); err != nil {
			logger.Warn().Err(err).Int("worker", id).Msg("Release failed")
		}
	}
}

func logStats(logger zerolog.Logger, s pool.Stats) {
	logger.Info().
		Int("size", s.Size).
		Int("active", s.Active).
		Int("idle", s.Idle).
		Int("queue_depth", s.QueueDepth).
		Float64("utilization", s.Utilization()).
		Int64("acquires_total", s.AcquiresTotal).
		Int64("acquires_timed_out", s.AcquiresTimedOut).
		Int64("scale_ups", s.ScaleUps).
		Int64("scale_downs", s.ScaleDowns).
		Dur("avg_acquire_latency", s.AvgAcquireLatency).
		Msg("Pool statistics")
}

func logEventHandler(logger zerolog.Logger) events.Handler {
	return func(e events.Event) error {
		evt := logger.Warn()
		if e.Severity == events.SeverityError {
			evt = logger.Error()
		}
		evt.Str("event_type", e.Type).
			Str("connection_id", e.ConnectionID).
			Fields(e.Fields).
			Msg(e.Message)
		return nil
	}
}

func newFactory(cfg config.FactoryConfig) pool.ConnectionFactory {
	switch cfg.Kind {
	case "sqlite":
		return factory.NewSQLiteFactory()
	default:
		return factory.NewTCPFactory(cfg.DialTimeout)
	}
}

func setupLogging(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	var output *os.File
	if cfg.OutputFile != "" {
		logDir := filepath.Dir(cfg.OutputFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	} else {
		output = os.Stderr
	}

	var logger zerolog.Logger
	switch cfg.Format {
	case "console":
		logger = log.Output(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339})
	default:
		logger = zerolog.New(output).With().Timestamp().Logger()
	}

	return logger, nil
}

func newConfigCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()

			if outputPath == "" {
				outputPath = "poolmon.yaml"
			}

			if err := cfg.SaveConfig(outputPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Generated default configuration: %s\n", outputPath)
			return nil
		},
	}
	generateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Printf("Configuration is valid\n")
			fmt.Printf("Target: %s\n", cfg.Pool.Target)
			fmt.Printf("Factory: %s\n", cfg.Factory.Kind)
			fmt.Printf("Pool size: %d-%d\n", cfg.Pool.MinSize, cfg.Pool.MaxSize)

			return nil
		},
	}

	cmd.AddCommand(generateCmd)
	cmd.AddCommand(validateCmd)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("poolmon\n")
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", date)
		},
	}
}
