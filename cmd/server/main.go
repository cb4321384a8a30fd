package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/me/jobsys/internal/config"
	"github.com/me/jobsys/internal/jobs"
	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/internal/logging"
	"github.com/me/jobsys/internal/metrics"
	"github.com/me/jobsys/internal/server"
	"github.com/me/jobsys/internal/sink"
	"github.com/me/jobsys/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		logLevel   string
		logFormat  string
		dbPath     string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "jobsys-server",
		Short: "Run the jobsys scheduler daemon and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			if flags.Changed("db") {
				cfg.Store.DBPath = dbPath
			}
			if debug {
				cfg.Log.Level = "debug"
			}
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file (default ./jobsys.yaml or ~/.jobsys/jobsys.yaml)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Result archive database path; empty disables the archive")
	cmd.Flags().BoolVar(&debug, "debug", false, "Shorthand for --log-level=debug")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, level, err := logging.NewDynamic(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	// Worker names and masks are checked before anything is started.
	pool, err := cfg.WorkerPool()
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []jobsystem.Option{
		jobsystem.WithMetrics(metrics.New(reg)),
		jobsystem.WithIdleBackoff(cfg.Scheduler.IdleMin, cfg.Scheduler.IdleMax),
		jobsystem.WithRetireTimeout(cfg.Scheduler.RetireTimeout),
		jobsystem.WithStrictDependencies(cfg.Scheduler.StrictDependencies),
	}
	serverOpts := []server.Option{
		server.WithGatherer(reg),
		server.WithLevelVar(level),
	}

	if cfg.Store.DBPath != "" {
		st, err := store.NewSQLiteStore(cfg.Store.DBPath, "", logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("result archive ready", "path", cfg.Store.DBPath, "run_id", st.RunID())
		opts = append(opts, jobsystem.WithSink(st))
		serverOpts = append(serverOpts, server.WithResultStore(st))
	}

	if s3cfg := cfg.Sink.S3; s3cfg.Enabled {
		s3sink, err := sink.New(ctx, sink.Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			Profile:         s3cfg.Profile,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			ForcePathStyle:  s3cfg.ForcePathStyle,
		}, logger)
		if err != nil {
			return fmt.Errorf("s3 sink: %w", err)
		}
		logger.Info("s3 result sink ready", "bucket", s3cfg.Bucket, "prefix", s3cfg.Prefix)
		opts = append(opts, jobsystem.WithSink(s3sink))
	}

	sys := jobsystem.New(logger, opts...)
	if err := jobs.Register(sys, jobs.Config{
		WorkDir:     cfg.Jobs.WorkDir,
		DataDir:     cfg.Jobs.DataDir,
		MakeCommand: cfg.Jobs.MakeCommand,
	}); err != nil {
		return fmt.Errorf("register job types: %w", err)
	}
	for _, w := range pool {
		if _, err := sys.CreateWorker(w.Name, w.Mask); err != nil {
			_ = sys.Shutdown(context.Background())
			return fmt.Errorf("start worker %s: %w", w.Name, err)
		}
	}
	logger.Info("worker pool started", "workers", len(pool), "types", sys.Types())

	srv := server.New(cfg.Server, sys, logger, serverOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown(httpServer, sys, logger)
	})
	return g.Wait()
}

// shutdown stops accepting requests, stops the workers once their current
// jobs finish, then retires everything that completed.
func shutdown(httpServer *http.Server, sys *jobsystem.System, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := sys.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	sys.RetireAll(ctx)
	if queued, running, completed := sys.Pending(); queued+running+completed > 0 {
		logger.Warn("jobs left unfinished", "queued", queued, "running", running, "completed", completed)
	}
	logger.Info("server stopped")
	return errors.Join(errs...)
}
