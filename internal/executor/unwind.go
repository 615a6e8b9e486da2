package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// unwind sells the naked leg back at the floor price. Each attempt is a GTC
// order; a fill or a resting order id ends the loop. Exhausting every attempt
// halts the executor.
func (e *Executor) unwind(ctx context.Context, log *slog.Logger, rec *domain.ExecutionRecord, leg domain.LegOrder, filled decimal.Decimal) error {
	e.transition(rec, domain.StateUnwindInProgress)
	size := filled.Truncate(e.cfg.SizeDecimals)
	rec.UnwindTokenID = leg.TokenID
	rec.UnwindSize = size

	if !size.IsPositive() {
		log.WarnContext(ctx, "filled size below venue lot, nothing to unwind",
			slog.String("filled_shares", filled.String()),
		)
		e.transition(rec, domain.StateUnwindSucceeded)
		return nil
	}

	sell := domain.LegOrder{
		TokenID: leg.TokenID,
		Side:    domain.OrderSideSell,
		Price:   e.cfg.UnwindPrice,
		Size:    size,
		Type:    domain.OrderTypeGTC,
		NegRisk: leg.NegRisk,
	}
	for attempt := 1; attempt <= e.cfg.UnwindAttempts; attempt++ {
		rec.UnwindAttempts = attempt
		e.metrics.UnwindAttempts.Inc()
		fill, err := e.submit(ctx, log, sell)
		if err == nil && (fill.Filled() || fill.Resting()) {
			rec.UnwindOrderID = fill.OrderID
			log.WarnContext(ctx, "unwind accepted",
				slog.Int("attempt", attempt),
				slog.String("token_id", sell.TokenID),
				slog.String("size", size.String()),
				slog.String("order_id", fill.OrderID),
				slog.String("status", string(fill.Status)),
			)
			e.transition(rec, domain.StateUnwindSucceeded)
			return nil
		}
		reason := fill.ErrorMsg
		if err != nil {
			reason = err.Error()
		}
		log.ErrorContext(ctx, "unwind attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.cfg.UnwindAttempts),
			slog.String("token_id", sell.TokenID),
			slog.String("size", size.String()),
			slog.String("reason", reason),
			slog.Any("response", fill.Raw),
		)
		if attempt < e.cfg.UnwindAttempts {
			_ = e.sleep(ctx, e.cfg.UnwindDelay)
		}
	}

	e.transition(rec, domain.StateUnwindFailedFatal)
	reason := fmt.Sprintf("unwind exhausted after %d attempts: token %s size %s side SELL",
		e.cfg.UnwindAttempts, sell.TokenID, size)
	if e.halt.Engage(reason) {
		e.metrics.Halted.Set(1)
	}
	log.ErrorContext(ctx, "trading halted", slog.String("reason", reason))
	if e.alerts != nil {
		msg := fmt.Sprintf("%s\ncondition %s\n%s", rec.Question, rec.ConditionID, reason)
		if err := e.alerts.NotifyAll(ctx, "FATAL: unwind failed, trading halted", msg); err != nil {
			log.ErrorContext(ctx, "fatal alert failed", slog.String("error", err.Error()))
		}
	}
	return domain.E(domain.KindUnwindExhausted, "executor: unwind", fmt.Errorf("%s: %w", reason, domain.ErrHalted))
}
