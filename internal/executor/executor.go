// Package executor runs the paired-order state machine: it submits both legs
// of an arbitrage, interprets the fills, unwinds a naked leg when the pair
// breaks, and hands matched pairs to settlement.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// OrderPlacer submits a single signed order to the venue.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order domain.LegOrder) (domain.LegFill, error)
}

// BatchPlacer is optional. When the placer implements it and batch orders are
// enabled, both legs go out in one request.
type BatchPlacer interface {
	PlaceOrders(ctx context.Context, orders []domain.LegOrder) ([]domain.LegFill, error)
}

// Gate throttles outbound venue calls.
type Gate interface {
	Acquire(ctx context.Context) error
}

// Settler merges a matched pair back into collateral.
type Settler interface {
	Merge(ctx context.Context, req domain.MergeRequest) (domain.MergeResult, error)
}

// Alerter surfaces events to an operator channel.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// Alert event names passed to Alerter.Notify.
const (
	EventBothFilled   = "both_filled"
	EventOneLegFilled = "one_leg_filled"
	EventSettlement   = "settlement"
)

// ExecutionsChannel is the event bus channel that carries finished records.
const ExecutionsChannel = "polyarb:executions"

// Config holds the execution parameters.
type Config struct {
	BatchOrders     bool
	UnwindAttempts  int
	UnwindDelay     time.Duration
	UnwindPrice     decimal.Decimal // floor price that crosses any bid
	SettlementDelay time.Duration
	SizeDecimals    int32
}

// DefaultConfig mirrors the production parameters.
func DefaultConfig() Config {
	return Config{
		BatchOrders:     true,
		UnwindAttempts:  10,
		UnwindDelay:     3 * time.Second,
		UnwindPrice:     decimal.RequireFromString("0.01"),
		SettlementDelay: 10 * time.Second,
		SizeDecimals:    2,
	}
}

// Deps are the collaborators of an Executor. Placer, Gate, Traded and Halt
// are required; the rest may be nil.
type Deps struct {
	Placer  OrderPlacer
	Gate    Gate
	Settler Settler
	Traded  *TradedSet
	Halt    *Halt
	Records domain.ExecutionStore
	Audit   domain.AuditStore
	Journal domain.JournalWriter
	Bus     domain.EventBus
	Alerts  Alerter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Executor drives one paired order per call to Execute. Calls for different
// markets may run concurrently; the traded set keeps a market to one
// execution at a time.
type Executor struct {
	cfg     Config
	placer  OrderPlacer
	gate    Gate
	settler Settler
	traded  *TradedSet
	halt    *Halt
	records domain.ExecutionStore
	audit   domain.AuditStore
	journal domain.JournalWriter
	bus     domain.EventBus
	alerts  Alerter
	metrics *metrics.Metrics
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New(cfg Config, deps Deps) *Executor {
	if cfg.UnwindAttempts <= 0 {
		cfg.UnwindAttempts = 1
	}
	if cfg.SizeDecimals == 0 {
		cfg.SizeDecimals = 2
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Executor{
		cfg:     cfg,
		placer:  deps.Placer,
		gate:    deps.Gate,
		settler: deps.Settler,
		traded:  deps.Traded,
		halt:    deps.Halt,
		records: deps.Records,
		audit:   deps.Audit,
		journal: deps.Journal,
		bus:     deps.Bus,
		alerts:  deps.Alerts,
		metrics: m,
		logger:  deps.Logger.With(slog.String("component", "executor")),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Halted reports whether new paired orders are refused.
func (e *Executor) Halted() bool { return e.halt.Halted() }

// Execute submits both legs of opp and drives the state machine to a
// terminal state. Once submission begins, cancelling ctx no longer stops
// the legs or an unwind; it only skips a pending settlement.
//
// A nil error is returned for every designed terminal state, including
// NoneFilled and a successful unwind. Errors are returned when the order is
// refused (halted, already traded, invalid) or when the unwind is exhausted.
func (e *Executor) Execute(ctx context.Context, opp domain.ArbitrageOpportunity) (domain.ExecutionRecord, error) {
	m := opp.Market
	if e.halt.Halted() {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: %s: %w", m.ConditionID, domain.ErrHalted)
	}
	if err := validate(opp); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if !e.traded.Claim(m.ConditionID) {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: %s: %w", m.ConditionID, domain.ErrAlreadyTraded)
	}
	if e.halt.Halted() {
		e.traded.Release(m.ConditionID)
		return domain.ExecutionRecord{}, fmt.Errorf("executor: %s: %w", m.ConditionID, domain.ErrHalted)
	}

	run := context.WithoutCancel(ctx)
	rec := domain.ExecutionRecord{
		ID:              uuid.NewString(),
		ConditionID:     m.ConditionID,
		MarketID:        m.ID,
		Question:        m.Question,
		TokenYes:        m.TokenYes(),
		TokenNo:         m.TokenNo(),
		NegRisk:         m.NegRisk,
		RequestedShares: opp.TargetShares,
		PriceYes:        opp.PriceYes,
		PriceNo:         opp.PriceNo,
		LimitYes:        opp.LimitYes,
		LimitNo:         opp.LimitNo,
		Spread:          opp.Spread,
		ExpectedProfit:  opp.ExpectedProfit,
		Settlement:      domain.SettlementNone,
		StartedAt:       e.now(),
		States:          []domain.ExecState{domain.StateIdle},
	}
	log := e.logger.With(
		slog.String("execution_id", rec.ID),
		slog.String("condition_id", rec.ConditionID),
		slog.String("token_yes", rec.TokenYes),
		slog.String("token_no", rec.TokenNo),
		slog.String("requested_shares", rec.RequestedShares.String()),
	)
	log.InfoContext(ctx, "submitting paired order",
		slog.String("limit_yes", opp.LimitYes.String()),
		slog.String("limit_no", opp.LimitNo.String()),
		slog.String("spread", opp.Spread.String()),
	)

	yes, no := legOrders(opp)
	var (
		unknown bool
		err     error
	)
	if batch, ok := e.placer.(BatchPlacer); ok && e.cfg.BatchOrders {
		unknown, err = e.runBatch(run, log, &rec, batch, yes, no)
	} else {
		unknown, err = e.runSequential(run, log, &rec, yes, no)
	}

	rec.CompletedAt = e.now()
	switch rec.Result.Outcome {
	case domain.OutcomeNoneFilled:
		if unknown {
			// The venue may have matched an order; keep the market blocked.
			e.traded.MarkTraded(run, rec.ConditionID)
		} else {
			e.traded.Release(rec.ConditionID)
		}
		e.metrics.NoneFilled.Inc()
	case domain.OutcomeBothFilled:
		e.traded.MarkTraded(run, rec.ConditionID)
		e.metrics.BothFilled.Inc()
	case domain.OutcomeOneLegFilled:
		e.traded.MarkTraded(run, rec.ConditionID)
		e.metrics.OneLegFilled.Inc()
	}

	e.logTerminal(run, log, rec)
	e.persist(run, log, rec)
	e.notifyTerminal(run, rec)

	if rec.Result.Outcome == domain.OutcomeBothFilled {
		e.settle(ctx, log, &rec)
	}
	return rec, err
}

func validate(opp domain.ArbitrageOpportunity) error {
	m := opp.Market
	switch {
	case m.ConditionID == "" || m.TokenYes() == "" || m.TokenNo() == "":
		return fmt.Errorf("executor: market identity incomplete: %w", domain.ErrInvalidOrder)
	case !opp.TargetShares.IsPositive():
		return fmt.Errorf("executor: target shares %s: %w", opp.TargetShares, domain.ErrInvalidOrder)
	case !opp.LimitYes.IsPositive() || !opp.LimitNo.IsPositive():
		return fmt.Errorf("executor: limit prices %s/%s: %w", opp.LimitYes, opp.LimitNo, domain.ErrInvalidOrder)
	}
	return nil
}

// legOrders builds the two buy legs. Both carry the same size.
func legOrders(opp domain.ArbitrageOpportunity) (yes, no domain.LegOrder) {
	m := opp.Market
	yes = domain.LegOrder{
		TokenID: m.TokenYes(),
		Side:    domain.OrderSideBuy,
		Price:   opp.LimitYes,
		Size:    opp.TargetShares,
		Type:    domain.OrderTypeFOK,
		NegRisk: m.NegRisk,
	}
	no = yes
	no.TokenID = m.TokenNo()
	no.Price = opp.LimitNo
	return yes, no
}

func (e *Executor) transition(rec *domain.ExecutionRecord, s domain.ExecState) {
	rec.States = append(rec.States, s)
}

// errNotSent marks a submission that never left the process.
var errNotSent = errors.New("order not sent")

func (e *Executor) submit(ctx context.Context, log *slog.Logger, order domain.LegOrder) (domain.LegFill, error) {
	if err := e.gate.Acquire(ctx); err != nil {
		return domain.LegFill{}, fmt.Errorf("%w: %w", errNotSent, err)
	}
	fill, err := e.placer.PlaceOrder(ctx, order)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		log.WarnContext(ctx, "order submission failed",
			slog.String("token_id", order.TokenID),
			slog.String("side", string(order.Side)),
			slog.String("error", err.Error()),
		)
		return domain.LegFill{}, err
	}
	e.metrics.OrdersPlaced.Inc()
	return fill, nil
}

// notAccepted reports whether a submission error proves the venue never
// took the order: it was never sent, rejected, or refused at the rate
// limit. Anything else, such as a timeout after the request went out, may
// have matched.
func notAccepted(err error) bool {
	return errors.Is(err, errNotSent) ||
		errors.Is(err, domain.ErrRateLimited) ||
		domain.KindOf(err) == domain.KindRejected
}

// runSequential submits yes then no. The no leg is only sent once the yes
// leg has confirmed. It reports unknown=true when the yes submission failed
// in a way that leaves its venue state unknown.
func (e *Executor) runSequential(ctx context.Context, log *slog.Logger, rec *domain.ExecutionRecord, yes, no domain.LegOrder) (bool, error) {
	e.transition(rec, domain.StateLegAPending)
	fillA, err := e.submit(ctx, log, yes)
	rec.YesFill = fillA
	if err != nil || !fillA.Filled() {
		e.transition(rec, domain.StateLegAFailed)
		e.transition(rec, domain.StateNoneFilled)
		rec.Result = domain.NoneFilled()
		if err != nil && !notAccepted(err) {
			log.ErrorContext(ctx, "yes leg submission failed, venue state unknown",
				slog.String("error", err.Error()),
			)
			return true, nil
		}
		return false, nil
	}
	e.transition(rec, domain.StateLegAConfirmed)

	e.transition(rec, domain.StateLegBPending)
	fillB, err := e.submit(ctx, log, no)
	rec.NoFill = fillB
	if err == nil && fillB.Filled() {
		e.transition(rec, domain.StateBothFilled)
		rec.Result = domain.BothFilled()
		return false, nil
	}
	return false, e.legOpen(ctx, log, rec, domain.LegYes, yes, fillA)
}

// runBatch submits both legs in one request. When exactly one leg fills,
// that leg is treated as leg A and the other as the failed leg B. It reports
// unknown=true when the transport failed and the venue state cannot be read.
func (e *Executor) runBatch(ctx context.Context, log *slog.Logger, rec *domain.ExecutionRecord, batch BatchPlacer, yes, no domain.LegOrder) (bool, error) {
	e.transition(rec, domain.StateLegAPending)
	if err := e.gate.Acquire(ctx); err != nil {
		e.transition(rec, domain.StateLegAFailed)
		e.transition(rec, domain.StateNoneFilled)
		rec.Result = domain.NoneFilled()
		return false, nil
	}
	fills, err := batch.PlaceOrders(ctx, []domain.LegOrder{yes, no})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		log.ErrorContext(ctx, "batch submission failed, venue state unknown",
			slog.String("error", err.Error()),
		)
		e.transition(rec, domain.StateLegAFailed)
		e.transition(rec, domain.StateNoneFilled)
		rec.Result = domain.NoneFilled()
		return true, nil
	}
	for range fills {
		e.metrics.OrdersPlaced.Inc()
	}

	var fy, fn domain.LegFill
	if len(fills) > 0 {
		fy = fills[0]
	}
	if len(fills) > 1 {
		fn = fills[1]
	}
	rec.YesFill, rec.NoFill = fy, fn

	switch {
	case fy.Filled() && fn.Filled():
		e.transition(rec, domain.StateLegAConfirmed)
		e.transition(rec, domain.StateLegBPending)
		e.transition(rec, domain.StateBothFilled)
		rec.Result = domain.BothFilled()
		return false, nil
	case fy.Filled():
		e.transition(rec, domain.StateLegAConfirmed)
		e.transition(rec, domain.StateLegBPending)
		return false, e.legOpen(ctx, log, rec, domain.LegYes, yes, fy)
	case fn.Filled():
		e.transition(rec, domain.StateLegAConfirmed)
		e.transition(rec, domain.StateLegBPending)
		return false, e.legOpen(ctx, log, rec, domain.LegNo, no, fn)
	default:
		e.transition(rec, domain.StateLegAFailed)
		e.transition(rec, domain.StateNoneFilled)
		rec.Result = domain.NoneFilled()
		return false, nil
	}
}

// legOpen handles the danger state: one leg filled, the other did not.
func (e *Executor) legOpen(ctx context.Context, log *slog.Logger, rec *domain.ExecutionRecord, side domain.Leg, order domain.LegOrder, fill domain.LegFill) error {
	e.transition(rec, domain.StateLegBFailedWithALegOpen)
	filled := e.filledSize(ctx, log, order, fill)
	rec.Result = domain.OneLegFilled(side, filled)
	log.ErrorContext(ctx, "leg open without hedge, unwinding",
		slog.String("side", string(side)),
		slog.String("token_id", order.TokenID),
		slog.String("filled_shares", filled.String()),
		slog.Any("yes_response", rec.YesFill.Raw),
		slog.Any("no_response", rec.NoFill.Raw),
	)
	return e.unwind(ctx, log, rec, order, filled)
}

// filledSize reads the quantity the venue reports as filled. A confirmation
// without a size falls back to the requested size.
func (e *Executor) filledSize(ctx context.Context, log *slog.Logger, order domain.LegOrder, fill domain.LegFill) decimal.Decimal {
	if fill.FilledSize.IsPositive() {
		return fill.FilledSize
	}
	log.WarnContext(ctx, "fill confirmation carried no size, assuming requested",
		slog.String("token_id", order.TokenID),
		slog.String("requested_shares", order.Size.String()),
	)
	return order.Size
}

func (e *Executor) logTerminal(ctx context.Context, log *slog.Logger, rec domain.ExecutionRecord) {
	attrs := []any{
		slog.String("state", string(rec.FinalState())),
		slog.String("outcome", string(rec.Result.Outcome)),
		slog.String("yes_status", string(rec.YesFill.Status)),
		slog.String("no_status", string(rec.NoFill.Status)),
		slog.String("yes_filled", rec.YesFill.FilledSize.String()),
		slog.String("no_filled", rec.NoFill.FilledSize.String()),
	}
	switch rec.Result.Outcome {
	case domain.OutcomeOneLegFilled:
		attrs = append(attrs,
			slog.String("side", string(rec.Result.Side)),
			slog.String("filled_shares", rec.Result.FilledSize.String()),
			slog.String("unwind_size", rec.UnwindSize.String()),
			slog.Int("unwind_attempts", rec.UnwindAttempts),
			slog.String("unwind_order_id", rec.UnwindOrderID),
		)
		if rec.OpenRisk() {
			log.ErrorContext(ctx, "execution finished with open risk", attrs...)
			return
		}
		log.WarnContext(ctx, "execution finished after unwind", attrs...)
	case domain.OutcomeNoneFilled:
		attrs = append(attrs,
			slog.Any("yes_response", rec.YesFill.Raw),
			slog.Any("no_response", rec.NoFill.Raw),
		)
		log.InfoContext(ctx, "execution finished, no leg filled", attrs...)
	default:
		log.InfoContext(ctx, "execution finished, both legs filled", attrs...)
	}
}

// persist writes the terminal record everywhere it is configured to go.
// Failures are logged; the state machine has already finished.
func (e *Executor) persist(ctx context.Context, log *slog.Logger, rec domain.ExecutionRecord) {
	if e.records != nil {
		if err := e.records.Save(ctx, rec); err != nil {
			log.ErrorContext(ctx, "execution record save failed", slog.String("error", err.Error()))
		}
	}
	if e.audit != nil {
		detail := map[string]any{
			"execution_id":     rec.ID,
			"condition_id":     rec.ConditionID,
			"state":            string(rec.FinalState()),
			"outcome":          string(rec.Result.Outcome),
			"requested_shares": rec.RequestedShares.String(),
		}
		if rec.Result.Outcome == domain.OutcomeOneLegFilled {
			detail["side"] = string(rec.Result.Side)
			detail["filled_shares"] = rec.Result.FilledSize.String()
		}
		if err := e.audit.Log(ctx, "execution."+string(rec.Result.Outcome), detail); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if e.journal != nil {
		if key, err := e.journal.WriteRecord(ctx, rec); err != nil {
			log.WarnContext(ctx, "journal write failed", slog.String("error", err.Error()))
		} else {
			log.DebugContext(ctx, "execution journaled", slog.String("key", key))
		}
	}
	if e.bus != nil {
		payload, err := json.Marshal(rec)
		if err == nil {
			err = e.bus.Publish(ctx, ExecutionsChannel, payload)
		}
		if err != nil {
			log.WarnContext(ctx, "execution publish failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) notifyTerminal(ctx context.Context, rec domain.ExecutionRecord) {
	if e.alerts == nil {
		return
	}
	var err error
	switch rec.Result.Outcome {
	case domain.OutcomeBothFilled:
		err = e.alerts.Notify(ctx, EventBothFilled, "Arbitrage filled",
			fmt.Sprintf("%s\nshares %s at %s + %s, expected profit %s",
				rec.Question, rec.RequestedShares, rec.LimitYes, rec.LimitNo, rec.ExpectedProfit))
	case domain.OutcomeOneLegFilled:
		if rec.OpenRisk() {
			return
		}
		err = e.alerts.Notify(ctx, EventOneLegFilled, "One leg filled, unwound",
			fmt.Sprintf("%s\n%s leg %s shares sold back (order %s)",
				rec.Question, rec.Result.Side, rec.UnwindSize, rec.UnwindOrderID))
	}
	if err != nil {
		e.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
	}
}
