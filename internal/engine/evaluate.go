package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/book"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// evaluate fetches both books of m, sizes an opportunity and, unless the
// engine is in monitor mode or halted, executes it. Venue errors end the
// evaluation; the next sweep or notification retries.
func (e *Engine) evaluate(ctx context.Context, m domain.Market) {
	if !e.claim(m.ConditionID) {
		return
	}
	defer e.release(m.ConditionID)

	if e.traded != nil && e.traded.Blocked(m.ConditionID) {
		return
	}

	log := e.logger.With(
		slog.String("condition_id", m.ConditionID),
		slog.String("coin", m.Coin),
		slog.String("timeframe", m.Timeframe),
	)

	yesBook, err := e.fetch(ctx, m.TokenYes())
	if err != nil {
		e.fetchFailed(ctx, log, m.TokenYes(), err)
		return
	}
	noBook, err := e.fetch(ctx, m.TokenNo())
	if err != nil {
		e.fetchFailed(ctx, log, m.TokenNo(), err)
		return
	}

	yesNotional, noNotional := e.legNotionals(yesBook, noBook)
	yes := e.evaluator.Evaluate(yesBook, yesNotional)
	no := e.evaluator.Evaluate(noBook, noNotional)
	dec := e.sizer.Consider(m, yes, no)

	e.metrics.Checks.Inc()
	e.recordCheck(m, yes, no)

	if !dec.OK() {
		log.Debug("no opportunity",
			slog.String("reason", string(dec.Reason)),
			slog.String("spread", dec.Spread.String()),
		)
		return
	}

	opp := dec.Opportunity
	e.metrics.Opportunities.Inc()
	e.stats.record(func(s *stats) { s.opportunities++ })
	log.Info("opportunity",
		slog.String("question", m.Question),
		slog.String("price_yes", opp.PriceYes.String()),
		slog.String("price_no", opp.PriceNo.String()),
		slog.String("spread", opp.Spread.String()),
		slog.String("shares", opp.TargetShares.String()),
		slog.String("expected_profit", opp.ExpectedProfit.String()),
		slog.Bool("dry_run", e.cfg.DryRun),
	)

	if e.cfg.DryRun || e.trader == nil {
		return
	}
	if e.trader.Halted() {
		log.Warn("opportunity skipped, trading halted")
		return
	}

	rec, err := e.trader.Execute(ctx, opp)
	e.recordExecution(rec)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyTraded):
		log.Debug("opportunity skipped, market already traded")
	case errors.Is(err, domain.ErrHalted):
		log.Warn("opportunity skipped, trading halted")
	case domain.KindOf(err) == domain.KindUnwindExhausted:
		e.metrics.Halted.Set(1)
		log.Error("execution left an open position, trading halted", slog.String("error", err.Error()))
	default:
		log.Warn("execution failed", slog.String("error", err.Error()))
	}
}

// legNotionals sizes each leg's walk to what the pair would actually buy:
// the shares the budget affords at the combined best asks, priced down
// each ladder. A book without asks gets a zero notional and evaluates as
// insufficient.
func (e *Engine) legNotionals(yesBook, noBook domain.OrderBookSnapshot) (decimal.Decimal, decimal.Decimal) {
	bestYes, okYes := book.BestAsk(yesBook.Asks)
	bestNo, okNo := book.BestAsk(noBook.Asks)
	if !okYes || !okNo {
		return decimal.Zero, decimal.Zero
	}
	shares := arbitrage.TargetShares(e.sizer.Config().NotionalBudget, bestYes.Price.Add(bestNo.Price))
	return book.SharesCost(yesBook, shares), book.SharesCost(noBook, shares)
}

// fetch waits at the gate, then requests one book.
func (e *Engine) fetch(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error) {
	if err := e.gate.Acquire(ctx); err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	return e.books.GetOrderBook(ctx, tokenID)
}

func (e *Engine) fetchFailed(ctx context.Context, log *slog.Logger, tokenID string, err error) {
	if ctx.Err() != nil {
		return
	}
	attrs := []any{slog.String("token_id", tokenID), slog.String("error", err.Error())}
	if domain.IsTransient(err) || errors.Is(err, domain.ErrNotFound) {
		log.Debug("book fetch failed, skipping cycle", attrs...)
		return
	}
	log.Warn("book fetch failed", attrs...)
}

func (e *Engine) recordCheck(m domain.Market, yes, no domain.EvaluatedPrice) {
	total := yes.EffectivePrice.Add(no.EffectivePrice)
	sufficient := yes.Sufficient && no.Sufficient
	if sufficient {
		e.mu.Lock()
		e.lastSpread[m.ConditionID] = total
		e.mu.Unlock()
	}

	check := domain.CheckSummary{
		Question:  m.Question,
		Up:        yes.EffectivePrice,
		Down:      no.EffectivePrice,
		Total:     total,
		Coin:      m.Coin,
		Timeframe: m.Timeframe,
		At:        e.now(),
	}
	e.stats.record(func(s *stats) {
		s.checks++
		s.addCheck(check)
		if sufficient && (!s.hasBest || total.LessThan(s.bestSpread)) {
			s.bestSpread = total
			s.hasBest = true
		}
		s.lastUpdate = check.At
	})
}

func (e *Engine) recordExecution(rec domain.ExecutionRecord) {
	if len(rec.States) == 0 {
		return
	}
	e.stats.record(func(s *stats) {
		switch rec.Result.Outcome {
		case domain.OutcomeBothFilled:
			s.trades++
		case domain.OutcomeOneLegFilled:
			s.unwinds++
		}
		if rec.Settlement == domain.SettlementMerged {
			s.merges++
		}
	})
}
