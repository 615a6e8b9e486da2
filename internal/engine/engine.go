// Package engine schedules market evaluation. It owns the market list, the
// per-market evaluation state and the aggregate statistics, and drives the
// refresh, stream and poll supervisors under one errgroup.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/book"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/executor"
	"github.com/alanyoungcy/polyarb/internal/feed"
	"github.com/alanyoungcy/polyarb/internal/metrics"
	"github.com/alanyoungcy/polyarb/internal/service"
)

// MarketSource produces the current list of tradable markets.
type MarketSource interface {
	Refresh(ctx context.Context) ([]domain.Market, error)
	Mode() service.ScanMode
}

// BookSource fetches a fresh order book for one token.
type BookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error)
}

// Trader runs a paired order to a terminal state.
type Trader interface {
	Execute(ctx context.Context, opp domain.ArbitrageOpportunity) (domain.ExecutionRecord, error)
	Halted() bool
}

// BalanceSource reports the collateral available to the trading account.
type BalanceSource interface {
	USDCBalance(ctx context.Context) (decimal.Decimal, error)
}

// Config holds the scheduling parameters.
type Config struct {
	DryRun          bool
	Workers         int
	PollInterval    time.Duration
	RefreshInterval time.Duration
	RecentChecks    int
	// StreamFreshness is how recent the last price change must be for the
	// stream to be reported as connected.
	StreamFreshness time.Duration
	ReconnectDelay  time.Duration
}

// DefaultConfig mirrors the production schedule.
func DefaultConfig() Config {
	return Config{
		Workers:         10,
		PollInterval:    time.Second,
		RefreshInterval: 60 * time.Second,
		RecentChecks:    10,
		StreamFreshness: 2 * time.Minute,
		ReconnectDelay:  feed.DefaultReconnectDelay,
	}
}

// Deps are the collaborators of an Engine. Stream, Balances, Traded and Halt
// may be nil, and Trader may be nil in dry-run; everything else is required.
type Deps struct {
	Markets   MarketSource
	Books     BookSource
	Gate      executor.Gate
	Evaluator book.Evaluator
	Sizer     *arbitrage.Sizer
	Trader    Trader
	Traded    *executor.TradedSet
	Halt      *executor.Halt
	Stream    feed.Stream
	Balances  BalanceSource
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine evaluates every known market on each poll sweep and on each stream
// notification for one of its tokens. Evaluations of different markets run
// concurrently, bounded by the worker count; one market is never evaluated
// twice at the same time.
type Engine struct {
	cfg       Config
	source    MarketSource
	books     BookSource
	gate      executor.Gate
	evaluator book.Evaluator
	sizer     *arbitrage.Sizer
	trader    Trader
	traded    *executor.TradedSet
	halt      *executor.Halt
	balances  BalanceSource
	stream    *feed.StreamSupervisor
	metrics   *metrics.Metrics
	logger    *slog.Logger

	sem      *semaphore.Weighted
	inflight sync.WaitGroup
	running  atomic.Bool

	mu         sync.Mutex
	markets    []domain.Market
	byToken    map[string]domain.Market
	lastSpread map[string]decimal.Decimal
	busy       map[string]struct{}

	stats *statsLoop
	now   func() time.Time
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.RecentChecks <= 0 {
		cfg.RecentChecks = def.RecentChecks
	}
	if cfg.StreamFreshness <= 0 {
		cfg.StreamFreshness = def.StreamFreshness
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	logger := deps.Logger.With(slog.String("component", "engine"))

	e := &Engine{
		cfg:        cfg,
		source:     deps.Markets,
		books:      deps.Books,
		gate:       deps.Gate,
		evaluator:  deps.Evaluator,
		sizer:      deps.Sizer,
		trader:     deps.Trader,
		traded:     deps.Traded,
		halt:       deps.Halt,
		balances:   deps.Balances,
		metrics:    m,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		byToken:    make(map[string]domain.Market),
		lastSpread: make(map[string]decimal.Decimal),
		busy:       make(map[string]struct{}),
		stats:      newStatsLoop(cfg.RecentChecks, cfg.StreamFreshness),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if deps.Stream != nil {
		e.stream = feed.NewStreamSupervisor(deps.Stream, e.AssetIDs, e.onPriceChange, m.StreamReconnects, deps.Logger)
		if cfg.ReconnectDelay > 0 {
			e.stream.SetReconnectDelay(cfg.ReconnectDelay)
		}
	}
	return e
}

// Run refreshes the market list once, then supervises the refresh, stream
// and poll activities until ctx is cancelled. Evaluations still in flight at
// shutdown, including any unwind they started, are waited for.
func (e *Engine) Run(ctx context.Context) error {
	e.stats.start()
	defer e.stats.stop()
	e.running.Store(true)
	defer e.running.Store(false)

	mode := "trade"
	if e.cfg.DryRun {
		mode = "monitor"
	}
	e.logger.Info("engine started",
		slog.String("mode", mode),
		slog.Int("workers", e.cfg.Workers),
		slog.Duration("poll_interval", e.cfg.PollInterval),
		slog.Duration("refresh_interval", e.cfg.RefreshInterval),
	)

	e.refresh(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.refreshLoop(gctx) })
	g.Go(func() error { return e.pollLoop(gctx) })
	if e.stream != nil {
		g.Go(func() error { return e.stream.Run(gctx) })
	}
	err := g.Wait()

	e.inflight.Wait()
	e.logger.Info("engine stopped")
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Halt engages the process-wide halt signal.
func (e *Engine) Halt(reason string) bool {
	if e.halt == nil {
		return false
	}
	engaged := e.halt.Engage(reason)
	if engaged {
		e.metrics.Halted.Set(1)
		e.logger.Error("trading halted", slog.String("reason", reason))
	}
	return engaged
}

// Markets returns a copy of the current market list.
func (e *Engine) Markets() []domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Market(nil), e.markets...)
}

// AssetIDs returns every outcome token of the current markets.
func (e *Engine) AssetIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, 2*len(e.markets))
	for _, m := range e.markets {
		ids = append(ids, m.TokenIDs[0], m.TokenIDs[1])
	}
	return ids
}

// LastSpread returns the most recent spread observed for conditionID.
func (e *Engine) LastSpread(conditionID string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.lastSpread[conditionID]
	return s, ok
}

// Snapshot returns a read-only copy of the engine state.
func (e *Engine) Snapshot() domain.EngineSnapshot {
	snap := e.stats.query()
	snap.Running = e.running.Load()
	snap.Mode = "trade"
	if e.cfg.DryRun {
		snap.Mode = "monitor"
	}
	if e.halt != nil {
		snap.Halted = e.halt.Halted()
		snap.HaltReason = e.halt.Reason()
	}
	if e.traded != nil {
		snap.TradedMarkets = e.traded.Len()
	}
	return snap
}

func (e *Engine) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

// refresh reloads the market list and the balance. A failed reload keeps
// the previous list.
func (e *Engine) refresh(ctx context.Context) {
	markets, err := e.source.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("market refresh failed, keeping previous list",
				slog.String("error", err.Error()),
				slog.Int("markets", len(e.Markets())),
			)
		}
	} else if e.setMarkets(markets) && e.stream != nil {
		e.stream.Resubscribe()
	}

	count := len(e.Markets())
	mode := string(e.source.Mode())
	e.metrics.Markets.Set(float64(count))
	e.stats.record(func(s *stats) {
		s.markets = count
		s.scanMode = mode
		s.lastUpdate = e.now()
	})

	if e.balances == nil {
		return
	}
	bal, err := e.balances.USDCBalance(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("balance refresh failed", slog.String("error", err.Error()))
		}
		return
	}
	e.stats.record(func(s *stats) { s.balance = bal })
}

// setMarkets replaces the market list and reports whether the token set
// changed.
func (e *Engine) setMarkets(markets []domain.Market) bool {
	byToken := make(map[string]domain.Market, 2*len(markets))
	for _, m := range markets {
		byToken[m.TokenIDs[0]] = m
		byToken[m.TokenIDs[1]] = m
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	changed := len(byToken) != len(e.byToken)
	if !changed {
		for token := range byToken {
			if _, ok := e.byToken[token]; !ok {
				changed = true
				break
			}
		}
	}
	e.markets = append([]domain.Market(nil), markets...)
	e.byToken = byToken
	live := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		live[m.ConditionID] = struct{}{}
	}
	for id := range e.lastSpread {
		if _, ok := live[id]; !ok {
			delete(e.lastSpread, id)
		}
	}
	if changed {
		e.logger.Info("market list updated", slog.Int("markets", len(markets)))
	}
	return changed
}

func (e *Engine) pollLoop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		e.sweep(ctx)
		timer.Reset(e.cfg.PollInterval)
	}
}

// sweep evaluates every known market once, waiting for a free worker for
// each, and returns when all of them are done.
func (e *Engine) sweep(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range e.Markets() {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		e.inflight.Add(1)
		go func(m domain.Market) {
			defer e.inflight.Done()
			defer wg.Done()
			defer e.sem.Release(1)
			e.evaluate(ctx, m)
		}(m)
	}
	wg.Wait()
}

// onPriceChange evaluates the market owning the changed token. When every
// worker is busy the notification is dropped; the next sweep covers it.
func (e *Engine) onPriceChange(ctx context.Context, pc domain.PriceChange) {
	at := e.now()
	e.stats.record(func(s *stats) { s.lastStream = at })

	e.mu.Lock()
	m, ok := e.byToken[pc.AssetID]
	e.mu.Unlock()
	if !ok || ctx.Err() != nil {
		return
	}
	if !e.sem.TryAcquire(1) {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer e.sem.Release(1)
		e.evaluate(ctx, m)
	}()
}

func (e *Engine) claim(conditionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.busy[conditionID]; ok {
		return false
	}
	e.busy[conditionID] = struct{}{}
	return true
}

func (e *Engine) release(conditionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, conditionID)
}
