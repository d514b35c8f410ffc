// Command scheduler runs the panel schedule engine and offers maintenance
// subcommands for managing schedules in the shared store.
//
//	scheduler -config panel.yaml run             start the firing loop
//	scheduler -config panel.yaml add ...         create a schedule
//	scheduler -config panel.yaml list ...        list schedules
//	scheduler test -expr "..."                   dry-run an expression
//	scheduler hash-password                      hash an admin password
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/panel-scheduler/internal/application"
	"github.com/example/panel-scheduler/internal/config"
	"github.com/example/panel-scheduler/internal/engine"
	"github.com/example/panel-scheduler/internal/logging"
	"github.com/example/panel-scheduler/internal/persistence"
	"github.com/example/panel-scheduler/internal/persistence/memory"
	"github.com/example/panel-scheduler/internal/persistence/postgres"
	"github.com/example/panel-scheduler/internal/persistence/sqlite"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("scheduler", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to the YAML config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	command := flags.Arg(0)
	if command == "" {
		command = "run"
	}
	rest := flags.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		return runEngine(ctx, cfg, *configPath, logger)
	case "add":
		return runAdd(ctx, cfg, rest, logger)
	case "list":
		return runList(ctx, cfg, rest, logger)
	case "test":
		return runTest(rest)
	case "hash-password":
		return runHashPassword(rest)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runEngine(ctx context.Context, cfg config.Config, configPath string, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	executor := engine.NewRateLimitedExecutor(
		&engine.LogExecutor{Logger: logger},
		cfg.Executor.RatePerSecond,
		cfg.Executor.Burst,
	)
	loop := engine.New(store, executor, engine.Config{
		TickInterval:     cfg.Engine.TickInterval,
		ClaimTTL:         cfg.Engine.ClaimTTL,
		Workers:          cfg.Engine.Workers,
		OverdueThreshold: cfg.Engine.OverdueThreshold,
	}, time.Now, logger)

	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	if configPath != "" {
		watcher := config.NewWatcher(configPath, cfg, func(updated config.Config) {
			if err := loop.Apply(ctx, engine.Config{
				TickInterval:     updated.Engine.TickInterval,
				ClaimTTL:         updated.Engine.ClaimTTL,
				Workers:          updated.Engine.Workers,
				OverdueThreshold: updated.Engine.OverdueThreshold,
			}); err != nil {
				logger.Error("applying engine config", "error", err)
			}
		}, logger)
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	server := healthServer(cfg.HTTPPort, loop)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health endpoint stopped", "error", err)
		}
	}()

	logger.Info("scheduler running", "store", cfg.Store, "tick_interval", cfg.Engine.TickInterval)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// healthServer exposes the engine health for monitoring. Unhealthy reads as
// 503 so probes need not parse the body.
func healthServer(port int, loop *engine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := loop.Health()
		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

// openStore builds the configured store backend and returns its close hook.
func openStore(ctx context.Context, cfg config.Config) (persistence.ScheduleStore, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func newScheduleService(store persistence.ScheduleStore, logger *slog.Logger) *application.ScheduleService {
	return application.NewScheduleServiceWithLogger(store, allowAllZones{}, uuid.NewString, time.Now, logger)
}

// allowAllZones accepts every zone ID. The zone hierarchy lives in the panel
// core; this deployment trusts it to validate zone references.
type allowAllZones struct{}

func (allowAllZones) ZoneExists(ctx context.Context, zoneID string) (bool, error) {
	return true, nil
}
