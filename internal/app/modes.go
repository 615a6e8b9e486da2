package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/book"
	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/engine"
	"github.com/alanyoungcy/polyarb/internal/executor"
	"github.com/alanyoungcy/polyarb/internal/server"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
	"github.com/alanyoungcy/polyarb/internal/server/ws"
	"github.com/alanyoungcy/polyarb/internal/service"
)

const shutdownTimeout = 10 * time.Second

// TradeMode runs the engine with live order submission. With dry_run set it
// behaves like MonitorMode.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	if a.cfg.Trading.DryRun {
		a.logger.WarnContext(ctx, "dry_run set; orders will not be submitted")
		return a.runEngine(ctx, deps, true)
	}
	if err := a.preflight(ctx, deps); err != nil {
		return err
	}
	return a.runEngine(ctx, deps, false)
}

// MonitorMode runs discovery and evaluation without ever submitting an
// order.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.runEngine(ctx, deps, true)
}

// MergeMode performs a single settlement for the configured condition and
// returns.
func (a *App) MergeMode(ctx context.Context, deps *Dependencies) error {
	if deps.Merger == nil {
		return domain.E(domain.KindStartup, "app: merge", errors.New("settlement needs rpc_url and safe_address"))
	}
	if err := deps.Merger.Ping(ctx); err != nil {
		return domain.E(domain.KindStartup, "app: merge", err)
	}

	req := mergeRequest(a.cfg)
	log := a.logger.With(slog.String("condition_id", req.ConditionID), slog.Bool("neg_risk", req.NegRisk))
	if req.Amount == nil {
		log.InfoContext(ctx, "merging full matched balance")
	} else {
		log.InfoContext(ctx, "merging", slog.String("amount_units", req.Amount.String()))
	}

	res, err := deps.Merger.Merge(ctx, req)
	if err != nil {
		return domain.E(domain.KindSettlement, "app: merge", err)
	}

	detail := map[string]any{
		"condition_id": req.ConditionID,
		"success":      res.Success,
		"tx_hash":      res.TxHash,
		"reason":       res.Reason,
	}
	if res.Amount != nil {
		detail["amount_units"] = res.Amount.String()
	}
	if deps.Audit != nil {
		if err := deps.Audit.Log(ctx, "manual_merge", detail); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if !res.Success {
		_ = deps.Notifier.Notify(ctx, executor.EventSettlement, "Merge failed", fmt.Sprintf("%s: %s", req.ConditionID, res.Reason))
		return domain.E(domain.KindSettlement, "app: merge", fmt.Errorf("merge unsuccessful: %s", res.Reason))
	}
	log.InfoContext(ctx, "merge complete", slog.String("tx_hash", res.TxHash))
	_ = deps.Notifier.Notify(ctx, executor.EventSettlement, "Merge complete", fmt.Sprintf("%s tx %s", req.ConditionID, res.TxHash))
	return nil
}

// preflight readies the account for live trading: venue credentials, the
// settlement RPC and the Safe's approvals.
func (a *App) preflight(ctx context.Context, deps *Dependencies) error {
	p := a.cfg.Polymarket
	if p.ApiKey != "" {
		deps.Clob.SetCredentials(crypto.Credentials{Key: p.ApiKey, Secret: p.ApiSecret, Passphrase: p.ApiPassphrase})
		a.logger.InfoContext(ctx, "using configured api credentials")
	} else {
		creds, err := deps.Clob.DeriveAPIKey(ctx)
		if err != nil {
			return domain.E(domain.KindStartup, "app: derive api key", err)
		}
		deps.Clob.SetCredentials(creds)
		a.logger.InfoContext(ctx, "api credentials derived", slog.String("credentials", creds.String()))
	}

	if deps.Merger == nil {
		a.logger.WarnContext(ctx, "settlement disabled; matched pairs will stay unmerged")
		return nil
	}
	if err := deps.Merger.Ping(ctx); err != nil {
		return domain.E(domain.KindStartup, "app: rpc", err)
	}
	allowances, err := deps.Merger.CheckAllowances(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "allowance check failed", slog.String("error", err.Error()))
		return nil
	}
	for _, al := range allowances {
		if al.Low {
			a.logger.WarnContext(ctx, "allowance missing or low",
				slog.String("token", al.Token),
				slog.String("spender", al.Spender.Hex()),
			)
		}
	}
	return nil
}

// runEngine assembles the engine and runs it alongside the operator server
// until ctx is cancelled or a component fails.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, dryRun bool) error {
	logger := a.logger
	m := deps.Prometheus.Metrics

	halt := executor.NewHalt()
	traded := executor.NewTradedSet(deps.Traded, logger)
	if n, err := traded.Load(ctx); err != nil {
		logger.WarnContext(ctx, "traded set load failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.InfoContext(ctx, "traded set restored", slog.Int("markets", n))
	}

	dcfg, err := discoveryConfig(a.cfg)
	if err != nil {
		return err
	}
	markets := service.NewMarketService(deps.Gamma, deps.Markets, dcfg, logger)

	var trader engine.Trader
	if !dryRun {
		xdeps := executor.Deps{
			Placer:  deps.Clob,
			Gate:    deps.Gate,
			Traded:  traded,
			Halt:    halt,
			Records: deps.Executions,
			Audit:   deps.Audit,
			Journal: deps.Journal,
			Bus:     deps.Bus,
			Metrics: m,
			Logger:  logger,
		}
		if deps.Merger != nil {
			xdeps.Settler = deps.Merger
		}
		if deps.Notifier.Enabled() {
			xdeps.Alerts = deps.Notifier
		}
		trader = executor.New(executorConfig(a.cfg), xdeps)
	}

	edeps := engine.Deps{
		Markets:   markets,
		Books:     deps.Clob,
		Gate:      deps.Gate,
		Evaluator: book.NewEvaluator(a.cfg.Trading.DepthSufficiency),
		Sizer:     arbitrage.NewSizer(sizerConfig(a.cfg)),
		Trader:    trader,
		Traded:    traded,
		Halt:      halt,
		Stream:    deps.Stream,
		Metrics:   m,
		Logger:    logger,
	}
	if deps.Merger != nil {
		edeps.Balances = deps.Merger
	}
	eng := engine.New(engineConfig(a.cfg, dryRun), edeps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(eng, ws.Config{
			Interval:       a.cfg.Server.WSInterval.Duration,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		}, logger)
		handlers := server.Handlers{
			Health:  handler.NewHealthHandler(time.Now()),
			Status:  handler.NewStatusHandler(eng, eng, logger),
			Metrics: deps.Prometheus.Handler(),
			Hub:     hub,
		}
		if deps.Executions != nil {
			handlers.Executions = handler.NewExecutionHandler(deps.Executions, logger)
		}
		if deps.Audit != nil {
			handlers.Audit = handler.NewAuditHandler(deps.Audit, logger)
		}
		srv := server.NewServer(server.Config{
			Port:              a.cfg.Server.Port,
			CORSOrigins:       a.cfg.Server.CORSOrigins,
			APIKey:            a.cfg.Server.APIKey,
			RequestsPerSecond: a.cfg.Server.RequestsPerSecond,
			Burst:             a.cfg.Server.Burst,
		}, handlers, logger)

		g.Go(func() error {
			_ = hub.Run(gctx)
			return nil
		})
		g.Go(func() error { return srv.Run(gctx, shutdownTimeout) })
	}

	logger.InfoContext(ctx, "engine starting",
		slog.Bool("dry_run", dryRun),
		slog.String("scan_mode", string(dcfg.Mode)),
		slog.Bool("server", a.cfg.Server.Enabled),
	)
	if err := g.Wait(); err != nil {
		return err
	}
	if halt.Halted() {
		logger.Error("engine stopped while halted", slog.String("reason", halt.Reason()))
	}
	return nil
}
