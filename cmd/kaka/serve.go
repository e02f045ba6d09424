package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kaka.lopezb.com/internal/kaka/config"
	"kaka.lopezb.com/internal/kaka/engine"
	"kaka.lopezb.com/internal/kaka/syncstore"
)

func newServeCmd(gf *globalFlags) *cobra.Command {
	var addr string
	var noPersist bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RESP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if noPersist {
				cfg.Server.SnapshotPath = ""
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override server.addr")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "Run in memory only, without loading or saving snapshots")
	return cmd
}

// runServer wires the engine, persistence, metrics and sync loop around the
// listener and blocks until ctx is cancelled.
//
// Startup order: build the engine, restore the snapshot, start the metrics
// and sync goroutines, then accept clients. Shutdown runs in reverse, ending
// with a final save.
func runServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e, err := engine.New(cfg.EngineConfig(), engine.WithLogger(logger), engine.WithRegisterer(reg))
	if err != nil {
		return err
	}

	m := NewMetrics()
	app := newApplication(serverConfig{
		addr:            cfg.Server.Addr,
		maxConnections:  cfg.Server.MaxConnections,
		idleTimeout:     cfg.Server.IdleTimeout,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		snapshotPath:    cfg.Server.SnapshotPath,
	}, e, logger, m)
	m.Register(reg, func() float64 { return float64(len(app.connLimiter)) })

	if path := cfg.Server.SnapshotPath; path != "" {
		start := time.Now()
		loaded, err := loadSnapshotFile(e, path)
		if err != nil {
			return err
		}
		if loaded {
			logger.Info().Str("path", path).Dur("duration", time.Since(start)).Msg("snapshot restored")
		}
	} else {
		logger.Info().Msg("persistence disabled, running in memory-only mode")
	}

	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	if cfg.Metrics.Addr != "" {
		srv, ln, err := serveMetrics(cfg.Metrics.Addr, reg)
		if err != nil {
			return err
		}
		logger.Info().Str("address", ln.Addr().String()).Msg("metrics listening")
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	var syncDone chan struct{}
	if cfg.Sync.RedisURL != "" {
		kv, err := syncstore.NewRedisProvider(ctx, cfg.Sync.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = kv.Close() }()

		s := syncstore.New(kv, cfg.Sync.KeyPrefix, cfg.Sync.NodeID,
			syncstore.WithTTL(cfg.Sync.TTL), syncstore.WithLogger(logger))
		if _, err := s.Sync(ctx, e); err != nil {
			logger.Warn().Err(err).Msg("initial sync failed")
		}
		syncDone = make(chan struct{})
		go func() {
			defer close(syncDone)
			s.Run(bg, e, cfg.Sync.Interval)
		}()
		logger.Info().Str("node", s.NodeID()).Dur("interval", cfg.Sync.Interval).Msg("snapshot sync enabled")
	}

	if cfg.Server.SnapshotPath != "" && cfg.Server.SnapshotInterval > 0 {
		go app.runSaver(bg, cfg.Server.SnapshotInterval)
	}

	serveErr := app.serve(ctx)

	cancelBG()
	if syncDone != nil {
		<-syncDone
	}
	if cfg.Server.SnapshotPath != "" {
		logger.Info().Msg("saving final snapshot")
		for !app.isSaving.CompareAndSwap(false, true) {
			time.Sleep(10 * time.Millisecond)
		}
		if err := app.saveSnapshot(); err != nil {
			logger.Error().Err(err).Msg("final save failed")
			if serveErr == nil {
				serveErr = err
			}
		}
		app.isSaving.Store(false)
	}
	return serveErr
}

func init() {
	// zerolog's default time format drops sub-second precision.
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
