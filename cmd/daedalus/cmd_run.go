package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	natsconn "github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/config"
	"github.com/wehubfusion/Daedalus/pkg/filesvc"
	"github.com/wehubfusion/Daedalus/pkg/jobfile"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/observe"
	"github.com/wehubfusion/Daedalus/pkg/pool"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

var runFlags struct {
	args        []string
	exit        bool
	onlyFailing bool
}

var runCmd = &cobra.Command{
	Use:   "run <job-file>...",
	Short: "Initialize and run job files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, files []string) error {
		return runJobs(cmd.Context(), files, runFlags.exit)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <job-file>...",
	Short: "Initialize job files without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, files []string) error {
		return runJobs(cmd.Context(), files, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringArrayVar(&runFlags.args, "arg", nil, "Job argument key=value, overrides the job file")
	}
	runCmd.Flags().BoolVar(&runFlags.exit, "exit", false, "Stop after initialization")
	runCmd.Flags().BoolVar(&runFlags.onlyFailing, "only-failing", true, "Publish only failed task results to NATS")
}

// parseArgs turns key=value pairs into job arguments. A bare key sets a
// nil argument, which removes its placeholders.
func parseArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if k == "" {
			return nil, fmt.Errorf("bad argument %q, expected key=value", p)
		}
		if !ok {
			args[k] = nil
			continue
		}
		args[k] = v
	}
	return args, nil
}

func runJobs(ctx context.Context, files []string, exit bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Exit = cfg.Exit || exit

	args, err := parseArgs(runFlags.args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.String("version", version), zap.Stringer("config", cfg))

	// GOMAXPROCS follows the container CPU quota.
	if undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("failed to set maxprocs", zap.Error(err))
	} else {
		defer undo()
	}

	shutdown, err := tracing.Setup(ctx, tracing.DefaultConfig(cfg.OTLPEndpoint), logger)
	if err != nil {
		return err
	}
	defer func() { _ = tracing.Shutdown(shutdown, logger) }()

	observer, closeObservers, err := buildObserver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeObservers()

	fs, err := buildFileService(cfg, logger)
	if err != nil {
		return err
	}

	pools := pool.NewRegistry(logger)
	defer pools.Close()

	if cfg.Metrics {
		stop := serveMetrics(cfg.MetricsAddr, logger)
		defer stop()
	}

	opts := runtime.Options{
		Factory:        nodes.DefaultFactory(),
		Pools:          pools,
		Files:          fs,
		Observer:       observer,
		Logger:         logger,
		DefaultThreads: cfg.DefaultThreads,
		DefaultService: cfg.DefaultService,
	}
	jobs, err := loadJobs(files, args, opts)
	if err != nil {
		return err
	}
	return runtime.RunAll(ctx, jobs, runtime.RunOptions{Exit: cfg.Exit})
}

// loadJobs decodes and initializes every file. One bad file fails the run
// before anything executes.
func loadJobs(files []string, args map[string]any, opts runtime.Options) ([]*runtime.Job, error) {
	jobs := make([]*runtime.Job, 0, len(files))
	for _, f := range files {
		spec, err := jobfile.Load(f)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 && spec.Arguments == nil {
			spec.Arguments = make(map[string]any, len(args))
		}
		for k, v := range args {
			spec.Arguments[k] = v
		}

		j, err := runtime.NewJob(spec, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		if err := j.Init(); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func buildObserver(ctx context.Context, cfg *config.RunConfig, logger *zap.Logger) (observe.Observer, func(), error) {
	observers := []observe.Observer{observe.NewLogObserver(logger)}
	var closers []func()

	if cfg.NatsURL != "" {
		conn, err := natsconn.Connect(ctx, natsconn.DefaultConnectionConfig(cfg.NatsURL), logger)
		if err != nil {
			return nil, nil, err
		}
		observers = append(observers, observe.NewNatsObserver(conn, cfg.NatsSubject, runFlags.onlyFailing, logger))
		closers = append(closers, func() {
			if err := natsconn.Close(conn); err != nil {
				logger.Warn("failed to close nats connection", zap.Error(err))
			}
		})
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Release: version}); err != nil {
			return nil, nil, fmt.Errorf("failed to init sentry: %w", err)
		}
		observers = append(observers, observe.NewSentryObserver(sentry.CurrentHub()))
		closers = append(closers, func() { sentry.Flush(2 * time.Second) })
	}

	return observe.Multi(observers...), func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func buildFileService(cfg *config.RunConfig, logger *zap.Logger) (filesvc.Service, error) {
	if cfg.FileService == "blob" {
		b, err := filesvc.NewBlob(cfg.BlobConnection, cfg.BlobContainer, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return filesvc.NewLocal(logger), nil
}

func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
