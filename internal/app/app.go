// Package app provides the top-level lifecycle of the arbitrage engine. It
// wires the venue clients and optional infrastructure, runs the pre-flight
// checks and starts the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// modeFunc runs one operating mode against wired dependencies.
type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"trade":   (*App).TradeMode,
	"monitor": (*App).MonitorMode,
	"merge":   (*App).MergeMode,
}

// App owns the configuration, the logger and the cleanup of whatever Run
// wired.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	cleanup []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies for the configured mode and blocks until the mode
// returns or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return domain.E(domain.KindStartup, "app: run", fmt.Errorf("unsupported mode %q", a.cfg.Mode))
	}

	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.Bool("dry_run", a.cfg.Trading.DryRun),
		slog.Bool("postgres", a.cfg.Supabase.Enabled),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cleanup = append(a.cleanup, cleanup)
	a.mu.Unlock()

	return run(a, ctx, deps)
}

// Close releases everything Run wired, newest first. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	fns := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	a.logger.Info("shutting down")
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
