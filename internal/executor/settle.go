package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// settle waits for the fills to reach finality and merges the pair. Merge
// failures are recoverable: the tokens stay redeemable and are never unwound.
func (e *Executor) settle(ctx context.Context, log *slog.Logger, rec *domain.ExecutionRecord) {
	if e.settler == nil {
		return
	}
	rec.Settlement = domain.SettlementPending
	run := context.WithoutCancel(ctx)

	if err := e.sleep(ctx, e.cfg.SettlementDelay); err != nil {
		rec.Settlement = domain.SettlementSkipped
		log.WarnContext(run, "settlement skipped before merge", slog.String("error", err.Error()))
		e.updateSettlement(run, log, rec)
		return
	}

	res, err := e.settler.Merge(run, domain.MergeRequest{
		ConditionID: rec.ConditionID,
		TokenIDs:    [2]string{rec.TokenYes, rec.TokenNo},
		NegRisk:     rec.NegRisk,
	})
	switch {
	case err != nil:
		err = domain.E(domain.KindSettlement, "executor: merge", err)
		rec.Settlement = domain.SettlementFailed
		e.metrics.MergesFailed.Inc()
		log.ErrorContext(run, "settlement failed, position left for a later merge", slog.String("error", err.Error()))
	case !res.Success:
		rec.Settlement = domain.SettlementFailed
		rec.SettlementTx = res.TxHash
		e.metrics.MergesFailed.Inc()
		log.ErrorContext(run, "settlement reverted, position left for a later merge",
			slog.String("tx", res.TxHash),
			slog.String("reason", res.Reason),
		)
	default:
		rec.Settlement = domain.SettlementMerged
		rec.SettlementTx = res.TxHash
		e.metrics.MergesSucceeded.Inc()
		amount := ""
		if res.Amount != nil {
			amount = res.Amount.String()
		}
		log.InfoContext(run, "settlement merged",
			slog.String("tx", res.TxHash),
			slog.String("amount", amount),
		)
	}
	e.updateSettlement(run, log, rec)

	if e.alerts != nil {
		msg := fmt.Sprintf("%s\nmerge %s tx %s", rec.Question, rec.Settlement, rec.SettlementTx)
		if err := e.alerts.Notify(run, EventSettlement, "Settlement", msg); err != nil {
			log.WarnContext(run, "alert failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) updateSettlement(ctx context.Context, log *slog.Logger, rec *domain.ExecutionRecord) {
	if e.records == nil {
		return
	}
	if err := e.records.UpdateSettlement(ctx, rec.ID, rec.Settlement, rec.SettlementTx); err != nil {
		log.WarnContext(ctx, "settlement status update failed", slog.String("error", err.Error()))
	}
}
