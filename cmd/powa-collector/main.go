package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/powa-collector/internal/api"
	"github.com/livinlefevreloca/powa-collector/internal/config"
	"github.com/livinlefevreloca/powa-collector/internal/db"
	"github.com/livinlefevreloca/powa-collector/internal/latch"
	"github.com/livinlefevreloca/powa-collector/internal/metrics"
	"github.com/livinlefevreloca/powa-collector/internal/scheduler"
	"github.com/livinlefevreloca/powa-collector/internal/stats"
	"github.com/livinlefevreloca/powa-collector/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "config_file", *configFile)
		return 1
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	// Initialize structured logger. The level can be lowered to debug on reload.
	level := new(slog.LevelVar)
	applyLevel(level, cfg.Logging.Level, cfg.Powa.Debug)
	logger := newLogger(cfg.Logging.Format, level)
	slog.SetDefault(logger)

	logger.Info("starting powa collector", "config_file", *configFile)

	// Terminate on SIGINT/SIGTERM or when the supervisor goes away
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, release := supervisor.NewWatcher(supervisor.DefaultPollInterval, logger).Watch(ctx)
	defer release()

	// Open database connection with pool settings
	dbConfig, snapshotConfig, err := resolveDatabase(cfg)
	if err != nil {
		logger.Error("invalid database configuration", "error", err)
		return 1
	}

	logger.Info("connecting to database", "driver", dbConfig.Driver)
	database, err := db.OpenWithConfig(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err, "driver", dbConfig.Driver)
		return 1
	}
	defer database.Close()

	if !database.IsPostgres() {
		logger.Info("using local dry-run schema", "driver", dbConfig.Driver)
		if err := database.EnsureDryRunSchema(); err != nil {
			logger.Error("failed to create dry-run schema", "error", err)
			return 1
		}
	}

	// Snapshot trigger
	snapshotter := db.NewSnapshotter(database, snapshotConfig, logger.With("component", "snapshotter"))
	snapshotter.SetKnobs(cfg.Powa.Knobs())
	defer snapshotter.Close()

	// Statistics exporter
	reader := db.NewCounterReader(database, logger.With("component", "counters"))
	defer reader.Close()

	home, err := reader.CurrentDatabase(ctx)
	if err != nil {
		logger.Error("failed to resolve current database", "error", err)
		return 1
	}

	m := metrics.New()

	cache := stats.NewCounterCache(stats.NewDBAdapter(reader), stats.Namespace(home))
	exporter := stats.NewExporter(cache, cfg.Stats, logger.With("component", "exporter"))
	exporter.SetObserver(m)

	// Snapshot worker
	settings, err := cfg.Powa.Settings()
	if err != nil {
		logger.Error("invalid collector settings", "error", err)
		return 1
	}

	wake := latch.New(logger.With("component", "latch"))

	reconf := scheduler.NewReconfigurer(config.NewFileSource(*configFile), wake, logger.With("component", "reconfigure"))
	reconf.SetObserver(m)
	reconf.OnReload(func(s scheduler.Settings) {
		snapshotter.SetKnobs(s.Knobs)
		applyLevel(level, cfg.Logging.Level, s.Debug)
	})

	worker := scheduler.NewWorker(
		scheduler.NewSchedulerContext(settings),
		reconf,
		snapshotter,
		wake,
		scheduler.SystemClock{},
		logger.With("component", "worker"),
	)
	worker.SetObserver(m)
	m.SetFrequency(settings.Frequency)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(gctx)
	})

	// SIGHUP only raises the reload flag; the worker applies it
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("received SIGHUP, reloading configuration")
				reconf.Notify()
			}
		}
	})

	if cfg.HTTP.Enabled {
		srv := newServer(cfg.HTTP.Address, cfg.HTTP.Port, api.NewServer(exporter, worker, logger.With("component", "api")))
		logger.Info("http api enabled", "address", srv.Addr)
		g.Go(func() error {
			return serve(gctx, srv)
		})
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := newServer(cfg.Metrics.Address, cfg.Metrics.Port, mux)
		logger.Info("metrics enabled", "address", srv.Addr)
		g.Go(func() error {
			return serve(gctx, srv)
		})
	}

	logger.Info("powa collector is running")

	if err := g.Wait(); err != nil {
		logger.Error("powa collector stopped", "error", err)
		return 1
	}

	logger.Info("shut down gracefully", "cause", context.Cause(ctx))
	return 0
}

// resolveDatabase points the connection at the configured PoWA database and
// picks the dry-run snapshot statement on SQLite
func resolveDatabase(cfg *config.Config) (db.Config, db.SnapshotConfig, error) {
	dbConfig := cfg.Database
	snapshotConfig := cfg.Snapshot

	if dbConfig.Driver == "postgres" {
		if cfg.Powa.Database != "" {
			dsn, err := db.RewriteDSN(dbConfig.DSN, cfg.Powa.Database)
			if err != nil {
				return db.Config{}, db.SnapshotConfig{}, err
			}
			dbConfig.DSN = dsn
		}
		return dbConfig, snapshotConfig, nil
	}

	if snapshotConfig.Query == db.DefaultSnapshotQuery {
		snapshotConfig.Query = db.DryRunSnapshotQuery
	}
	return dbConfig, snapshotConfig, nil
}

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func applyLevel(level *slog.LevelVar, configured string, debug bool) {
	if debug {
		level.Set(slog.LevelDebug)
		return
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(configured)); err != nil {
		l = slog.LevelInfo
	}
	level.Set(l)
}

func newServer(address string, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(address, strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serve runs srv until ctx is done, then shuts it down
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
