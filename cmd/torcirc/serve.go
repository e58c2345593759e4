package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/torcirc/torcirc/internal/api"
	"github.com/torcirc/torcirc/internal/config"
	"github.com/torcirc/torcirc/internal/database"
	"github.com/torcirc/torcirc/internal/fetch"
	"github.com/torcirc/torcirc/internal/health"
	"github.com/torcirc/torcirc/internal/log"
	"github.com/torcirc/torcirc/internal/model"
	"github.com/torcirc/torcirc/internal/policy"
	"github.com/torcirc/torcirc/internal/pool"
	"github.com/torcirc/torcirc/internal/runtime"
	"github.com/torcirc/torcirc/internal/scheduler"
)

// drainTimeout bounds the pool drain after the serve loop exits.
const drainTimeout = 30 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the circuit pool and job dispatch daemon",
		Long: `Serve starts the circuit pool, health monitor, dispatch workers, and
the job-intake HTTP API.

The pool is pre-warmed to its minimum size and grows lazily up to the
maximum under load. Each circuit is probed periodically; identities that
fail probes are rotated via NEWNYM, and circuits that keep failing are
torn down and replaced.

Examples:
  # Serve with embedded Tor circuits and defaults
  torcirc serve

  # One Tor container per circuit
  torcirc serve --runtime docker --docker-image torcirc/circuit:latest

  # Larger pool, custom intake address
  torcirc serve --pool-min 4 --pool-max 10 --listen 0.0.0.0:8315

  # Use a custom configuration file
  torcirc serve -c myconfig.yml`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .torcirc.yml in current or home directory)")
	cmd.Flags().StringP("runtime", "r", string(config.RuntimeEmbedded),
		`Circuit runtime: "embedded" or "docker"`)
	cmd.Flags().StringP("listen", "l", config.DefaultListenAddr,
		"Job-intake HTTP address (empty disables intake)")
	cmd.Flags().Int("pool-min", config.DefaultPoolMinSize,
		"Circuits started at boot and maintained while serving")
	cmd.Flags().Int("pool-max", config.DefaultPoolMaxSize,
		"Upper bound for lazy pool growth")
	cmd.Flags().IntP("workers", "w", config.DefaultDispatchWorkers,
		"Number of concurrent dispatch workers")
	cmd.Flags().String("probe-url", config.DefaultProbeURL,
		"Known-reachable target for health probes and exit-IP discovery")
	cmd.Flags().Duration("probe-interval", config.DefaultProbeInterval,
		"Per-circuit health probe period")
	cmd.Flags().DurationP("timeout", "t", config.DefaultRequestTimeout,
		"Timeout for each outbound scrape request")
	cmd.Flags().String("docker-image", config.DefaultDockerImage,
		"Per-circuit container image (docker runtime only)")
	cmd.Flags().String("db-dir", config.DefaultDBDir(),
		"Directory for the run database")
	cmd.Flags().Bool("no-db", false,
		"Disable run persistence")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildServeConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.New(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, draining...")
		cancel()
	}()

	return runServe(ctx, cfg, logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildServeConfig assembles the configuration in precedence order:
// defaults, then the YAML file, then explicitly set CLI flags.
func buildServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.New()

	explicit, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicitly named file must exist; the default lookup may come
	// up empty without complaint.
	if path := config.FindConfigFile(explicit); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if explicit != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, explicit)
	}

	// Flags override file values only when the user set them.
	flags := cmd.Flags()
	if flags.Changed("runtime") {
		kind, err := flags.GetString("runtime")
		if err != nil {
			return nil, err
		}
		cfg.Runtime = config.RuntimeKind(kind)
	}
	if flags.Changed("listen") {
		if cfg.ListenAddr, err = flags.GetString("listen"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("pool-min") {
		if cfg.PoolMinSize, err = flags.GetInt("pool-min"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("pool-max") {
		if cfg.PoolMaxSize, err = flags.GetInt("pool-max"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("workers") {
		if cfg.DispatchWorkers, err = flags.GetInt("workers"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("probe-url") {
		if cfg.ProbeURL, err = flags.GetString("probe-url"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("probe-interval") {
		if cfg.ProbeInterval, err = flags.GetDuration("probe-interval"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		if cfg.RequestTimeout, err = flags.GetDuration("timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("docker-image") {
		if cfg.DockerImage, err = flags.GetString("docker-image"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return nil, err
		}
	}
	if noDB, err := flags.GetBool("no-db"); err != nil {
		return nil, err
	} else if noDB {
		cfg.DBDir = ""
	}

	cfg.Verbose = getVerboseFlag(cmd)

	return cfg, nil
}

// newCircuitRuntime selects the runtime implementation from the config.
func newCircuitRuntime(cfg *config.Config, logger *slog.Logger) runtime.Runtime {
	if cfg.Runtime == config.RuntimeDocker {
		return runtime.NewDockerRuntime(cfg.DockerImage,
			runtime.WithDockerLogger(logger),
			runtime.WithPortRange(cfg.PortRangeMin, cfg.PortRangeMax),
		)
	}
	return runtime.NewEmbeddedRuntime(runtime.WithEmbeddedLogger(logger))
}

// runServe wires the pool, monitor, scheduler, and API together and runs
// them until the context is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rt := newCircuitRuntime(cfg, logger)
	rotator := runtime.NewControlRotator(runtime.WithControlLogger(logger))

	pol := policy.NewThresholdPolicy(policy.Thresholds{
		MaxAge:            cfg.MaxCircuitAge,
		FailureThreshold:  cfg.FailureThreshold,
		RetireThreshold:   cfg.RetireThreshold,
		QuarantineCeiling: cfg.QuarantineCeiling,
	})

	fetcher := fetch.New(
		fetch.WithTimeout(cfg.RequestTimeout),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
	)

	var store *database.Store
	if cfg.DBDir != "" {
		var err error
		store, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open run database: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close run database", "error", err)
			}
		}()
	}

	poolOpts := []pool.Option{
		pool.WithLogger(logger),
		pool.WithRotator(rotator),
		pool.WithProbe(func(ctx context.Context, node model.ExitNode) error {
			_, err := fetcher.Do(ctx, node.ProxyAddr, cfg.ProbeURL)
			return err
		}),
	}
	if store != nil {
		poolOpts = append(poolOpts, pool.WithRecorder(database.NewRecorder(store, logger)))
	}

	p := pool.New(rt, pol, pool.Config{
		MinSize:         cfg.PoolMinSize,
		MaxSize:         cfg.PoolMaxSize,
		CheckoutTimeout: cfg.CheckoutTimeout,
		GrowCooldown:    cfg.GrowCooldown,
		StartupTimeout:  cfg.StartupTimeout,
	}, poolOpts...)

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger)}
	if store != nil {
		schedOpts = append(schedOpts, scheduler.WithSink(database.NewSinkRecorder(store, logger, nil)))
	}

	sched := scheduler.New(p, fetcher, scheduler.Config{
		Workers:        cfg.DispatchWorkers,
		BackoffBase:    cfg.BackoffBase,
		BackoffCap:     cfg.BackoffCap,
		BackoffJitter:  cfg.BackoffJitter,
		ExhaustedDelay: cfg.BackoffBase,
	}, schedOpts...)

	mon := health.New(p, pol, fetcher, cfg.ProbeURL, cfg.ProbeInterval,
		health.WithLogger(logger))

	p.Start()
	logger.Info("circuit pool started",
		"runtime", string(cfg.Runtime),
		"min", cfg.PoolMinSize,
		"max", cfg.PoolMaxSize,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		if err := mon.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.ListenAddr != "" {
		srv := api.NewServer(sched, p, logger)
		g.Go(func() error {
			return srv.Run(gctx, cfg.ListenAddr)
		})
		logger.Info("job intake listening", "addr", cfg.ListenAddr)
	}

	err := g.Wait()

	// Leased nodes get their checkins back before teardown; a hung
	// runtime cannot stall shutdown past the drain timeout.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if drainErr := p.Drain(drainCtx); drainErr != nil {
		logger.Warn("pool drain incomplete", "error", drainErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
