package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const testCondition = "0x5f65177b394277fd294cd75650044e32ba009a95022d88a0c1d565897d72f8f1"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type placeResp struct {
	fill domain.LegFill
	err  error
}

// fakePlacer answers orders from per token+side queues. An exhausted queue
// repeats its last response.
type fakePlacer struct {
	mu        sync.Mutex
	calls     []domain.LegOrder
	responses map[string][]placeResp
}

func newFakePlacer() *fakePlacer {
	return &fakePlacer{responses: make(map[string][]placeResp)}
}

func key(token string, side domain.OrderSide) string { return token + "/" + string(side) }

func (f *fakePlacer) on(token string, side domain.OrderSide, resps ...placeResp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key(token, side)] = append(f.responses[key(token, side)], resps...)
}

func (f *fakePlacer) PlaceOrder(_ context.Context, o domain.LegOrder) (domain.LegFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, o)
	q := f.responses[key(o.TokenID, o.Side)]
	if len(q) == 0 {
		return domain.LegFill{ErrorMsg: "no response configured"}, nil
	}
	r := q[0]
	if len(q) > 1 {
		f.responses[key(o.TokenID, o.Side)] = q[1:]
	}
	return r.fill, r.err
}

func (f *fakePlacer) Calls() []domain.LegOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LegOrder(nil), f.calls...)
}

func (f *fakePlacer) sells() []domain.LegOrder {
	var out []domain.LegOrder
	for _, c := range f.Calls() {
		if c.Side == domain.OrderSideSell {
			out = append(out, c)
		}
	}
	return out
}

type fakeBatchPlacer struct {
	*fakePlacer
	batchFills []domain.LegFill
	batchErr   error
	batches    int
}

func (f *fakeBatchPlacer) PlaceOrders(_ context.Context, orders []domain.LegOrder) ([]domain.LegFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	f.calls = append(f.calls, orders...)
	return f.batchFills, f.batchErr
}

type countingGate struct {
	mu sync.Mutex
	n  int
}

func (g *countingGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	return ctx.Err()
}

type fakeSettler struct {
	mu       sync.Mutex
	requests []domain.MergeRequest
	result   domain.MergeResult
	err      error
}

func (s *fakeSettler) Merge(_ context.Context, req domain.MergeRequest) (domain.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result, s.err
}

type fakeAlerts struct {
	mu     sync.Mutex
	events []string
	fatal  []string
}

func (a *fakeAlerts) Notify(_ context.Context, event, title, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAlerts) NotifyAll(_ context.Context, title, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fatal = append(a.fatal, title+"\n"+msg)
	return nil
}

type fakeRecords struct {
	mu      sync.Mutex
	saved   []domain.ExecutionRecord
	updates map[string]domain.SettlementStatus
}

func (r *fakeRecords) Save(_ context.Context, rec domain.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, rec)
	return nil
}

func (r *fakeRecords) UpdateSettlement(_ context.Context, id string, status domain.SettlementStatus, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = make(map[string]domain.SettlementStatus)
	}
	r.updates[id] = status
	return nil
}

func (r *fakeRecords) GetByID(context.Context, string) (domain.ExecutionRecord, error) {
	return domain.ExecutionRecord{}, domain.ErrNotFound
}

func (r *fakeRecords) ListRecent(context.Context, int) ([]domain.ExecutionRecord, error) {
	return nil, nil
}

func (r *fakeRecords) ListOpenRisk(context.Context) ([]domain.ExecutionRecord, error) {
	return nil, nil
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	return nil
}

type harness struct {
	exec    *Executor
	placer  *fakePlacer
	gate    *countingGate
	settler *fakeSettler
	alerts  *fakeAlerts
	records *fakeRecords
	bus     *fakeBus
	traded  *TradedSet
	halt    *Halt

	mu     sync.Mutex
	sleeps []time.Duration
}

func (h *harness) Sleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func newHarness(t *testing.T, cfg Config, placer OrderPlacer, fp *fakePlacer) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		placer:  fp,
		gate:    &countingGate{},
		settler: &fakeSettler{result: domain.MergeResult{Success: true, TxHash: "0xmerge", Amount: big.NewInt(5_000_000)}},
		alerts:  &fakeAlerts{},
		records: &fakeRecords{},
		bus:     &fakeBus{},
		traded:  NewTradedSet(nil, logger),
		halt:    NewHalt(),
	}
	h.exec = New(cfg, Deps{
		Placer:  placer,
		Gate:    h.gate,
		Settler: h.settler,
		Traded:  h.traded,
		Halt:    h.halt,
		Records: h.records,
		Bus:     h.bus,
		Alerts:  h.alerts,
		Logger:  logger,
	})
	h.exec.sleep = func(ctx context.Context, dur time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, dur)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func sequentialConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchOrders = false
	return cfg
}

func testOpportunity(conditionID string) domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		Market: domain.Market{
			ID:          "512",
			ConditionID: conditionID,
			Question:    "Bitcoin Up or Down?",
			Outcomes:    [2]string{"Up", "Down"},
			TokenIDs:    [2]string{"tok-yes", "tok-no"},
		},
		PriceYes:       d("0.40"),
		PriceNo:        d("0.55"),
		Spread:         d("0.95"),
		TargetShares:   d("5"),
		LimitYes:       d("0.40"),
		LimitNo:        d("0.55"),
		ExpectedProfit: d("0.25"),
	}
}

func matched(size string) placeResp {
	return placeResp{fill: domain.LegFill{
		Success:    true,
		OrderID:    "0xorder",
		Status:     domain.OrderStatusMatched,
		TxHashes:   []string{"0xtx"},
		FilledSize: d(size),
	}}
}

func killed() placeResp {
	return placeResp{fill: domain.LegFill{
		Success:  true,
		ErrorMsg: "order couldn't be fully filled. FOK orders are fully filled or killed.",
	}}
}

func statesEqual(got, want []domain.ExecState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestExecuteBothFilledSettlesAfterDelay(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, matched("5"))
	fp.on("tok-no", domain.OrderSideBuy, matched("5"))
	h := newHarness(t, sequentialConfig(), fp, fp)

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Result.Outcome != domain.OutcomeBothFilled {
		t.Fatalf("expected both_filled, got %s", rec.Result.Outcome)
	}
	want := []domain.ExecState{
		domain.StateIdle, domain.StateLegAPending, domain.StateLegAConfirmed,
		domain.StateLegBPending, domain.StateBothFilled,
	}
	if !statesEqual(rec.States, want) {
		t.Fatalf("states: got %v, want %v", rec.States, want)
	}

	calls := fp.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(calls))
	}
	for _, c := range calls {
		if !c.Size.Equal(d("5")) || c.Type != domain.OrderTypeFOK || c.Side != domain.OrderSideBuy {
			t.Fatalf("unexpected leg order %+v", c)
		}
	}
	if h.gate.n != 2 {
		t.Fatalf("expected 2 gate acquisitions, got %d", h.gate.n)
	}

	sleeps := h.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 10*time.Second {
		t.Fatalf("expected one settlement delay of 10s, got %v", sleeps)
	}
	if len(h.settler.requests) != 1 || h.settler.requests[0].ConditionID != testCondition {
		t.Fatalf("expected one merge for %s, got %+v", testCondition, h.settler.requests)
	}
	if rec.Settlement != domain.SettlementMerged || rec.SettlementTx != "0xmerge" {
		t.Fatalf("settlement: got %s %s", rec.Settlement, rec.SettlementTx)
	}
	if h.records.updates[rec.ID] != domain.SettlementMerged {
		t.Fatalf("settlement status not persisted: %v", h.records.updates)
	}
	if len(h.records.saved) != 1 || len(h.bus.channels) != 1 || h.bus.channels[0] != ExecutionsChannel {
		t.Fatalf("record not persisted and published: saved=%d published=%v", len(h.records.saved), h.bus.channels)
	}
	if !h.traded.Blocked(testCondition) {
		t.Fatal("filled market should stay blocked")
	}
}

func TestExecuteLegBFailureUnwindsReportedFilledSize(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, matched("3.7"))
	fp.on("tok-no", domain.OrderSideBuy, killed())
	fp.on("tok-yes", domain.OrderSideSell, matched("3.7"))
	h := newHarness(t, sequentialConfig(), fp, fp)

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	sells := fp.sells()
	if len(sells) != 1 {
		t.Fatalf("expected exactly one unwind order, got %d", len(sells))
	}
	s := sells[0]
	if s.TokenID != "tok-yes" || !s.Size.Equal(d("3.7")) {
		t.Fatalf("unwind should sell the reported 3.7 of tok-yes, got %s of %s", s.Size, s.TokenID)
	}
	if !s.Price.Equal(d("0.01")) || s.Type != domain.OrderTypeGTC {
		t.Fatalf("unwind should be a GTC sell at 0.01, got %s %s", s.Type, s.Price)
	}

	if rec.Result.Outcome != domain.OutcomeOneLegFilled || rec.Result.Side != domain.LegYes || !rec.Result.FilledSize.Equal(d("3.7")) {
		t.Fatalf("unexpected result %+v", rec.Result)
	}
	if rec.FinalState() != domain.StateUnwindSucceeded || rec.UnwindAttempts != 1 {
		t.Fatalf("final state %s after %d attempts", rec.FinalState(), rec.UnwindAttempts)
	}
	if len(h.settler.requests) != 0 {
		t.Fatal("one-legged execution must not settle")
	}
	if h.halt.Halted() {
		t.Fatal("successful unwind must not halt")
	}
	if !h.traded.Blocked(testCondition) {
		t.Fatal("market with a fill must stay blocked")
	}
}

func TestExecuteLegAFailureSkipsLegB(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, placeResp{err: domain.E(domain.KindTransient, "clob: post order", domain.ErrRateLimited)})
	h := newHarness(t, sequentialConfig(), fp, fp)

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls := fp.Calls(); len(calls) != 1 {
		t.Fatalf("leg B must not be submitted, got %d calls", len(calls))
	}
	if rec.Result.Outcome != domain.OutcomeNoneFilled || rec.FinalState() != domain.StateNoneFilled {
		t.Fatalf("expected none_filled, got %s / %s", rec.Result.Outcome, rec.FinalState())
	}
	if h.traded.Blocked(testCondition) {
		t.Fatal("none_filled must release the market")
	}
	if len(h.Sleeps()) != 0 {
		t.Fatal("no settlement expected")
	}
}

func TestExecuteLegAErrorKeepsUnknownMarketBlocked(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		blocked bool
	}{
		{"timeout after send", domain.E(domain.KindTransient, "http request",
			&url.Error{Op: "Post", URL: "https://clob.example/order", Err: context.DeadlineExceeded}), true},
		{"server error", domain.E(domain.KindTransient, "HTTP 502", errors.New("bad gateway")), true},
		{"venue rejection", domain.E(domain.KindRejected, "HTTP 400", domain.ErrInvalidOrder), false},
		{"rate limited", domain.E(domain.KindTransient, "HTTP 429", domain.ErrRateLimited), false},
	}
	for _, c := range cases {
		fp := newFakePlacer()
		fp.on("tok-yes", domain.OrderSideBuy, placeResp{err: c.err})
		h := newHarness(t, sequentialConfig(), fp, fp)

		rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
		if err != nil {
			t.Fatalf("%s: Execute: %v", c.name, err)
		}
		if rec.Result.Outcome != domain.OutcomeNoneFilled {
			t.Fatalf("%s: outcome = %s", c.name, rec.Result.Outcome)
		}
		if len(fp.Calls()) != 1 {
			t.Fatalf("%s: leg B submitted", c.name)
		}
		if got := h.traded.Blocked(testCondition); got != c.blocked {
			t.Errorf("%s: blocked = %v, want %v", c.name, got, c.blocked)
		}
	}
}

func TestUnwindExhaustionHaltsTrading(t *testing.T) {
	cfg := sequentialConfig()
	cfg.UnwindAttempts = 3
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, matched("5"))
	fp.on("tok-no", domain.OrderSideBuy, killed())
	fp.on("tok-yes", domain.OrderSideSell, placeResp{fill: domain.LegFill{ErrorMsg: "not enough balance"}})
	h := newHarness(t, cfg, fp, fp)

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if domain.KindOf(err) != domain.KindUnwindExhausted {
		t.Fatalf("expected unwind exhausted, got %v", err)
	}
	if !errors.Is(err, domain.ErrHalted) {
		t.Fatalf("expected ErrHalted in chain, got %v", err)
	}
	if len(fp.sells()) != 3 {
		t.Fatalf("expected 3 unwind attempts, got %d", len(fp.sells()))
	}
	sleeps := h.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 3*time.Second {
		t.Fatalf("expected 2 inter-attempt delays of 3s, got %v", sleeps)
	}
	if rec.FinalState() != domain.StateUnwindFailedFatal || !rec.OpenRisk() {
		t.Fatalf("expected open risk record, got %s", rec.FinalState())
	}
	if !h.halt.Halted() || !h.exec.Halted() {
		t.Fatal("executor should be halted")
	}
	if len(h.alerts.fatal) != 1 {
		t.Fatalf("expected one fatal alert, got %d", len(h.alerts.fatal))
	}

	before := len(fp.Calls())
	_, err = h.exec.Execute(context.Background(), testOpportunity("0x"+strings.Repeat("a", 64)))
	if !errors.Is(err, domain.ErrHalted) {
		t.Fatalf("expected halted refusal, got %v", err)
	}
	if len(fp.Calls()) != before {
		t.Fatal("halted executor must not submit")
	}
}

func TestExecuteRefusesDuplicateEntry(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, matched("5"))
	fp.on("tok-no", domain.OrderSideBuy, matched("5"))
	h := newHarness(t, sequentialConfig(), fp, fp)

	if _, err := h.exec.Execute(context.Background(), testOpportunity(testCondition)); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if !errors.Is(err, domain.ErrAlreadyTraded) {
		t.Fatalf("expected ErrAlreadyTraded, got %v", err)
	}
	if len(fp.Calls()) != 2 {
		t.Fatalf("duplicate must not submit, got %d calls", len(fp.Calls()))
	}

	other := "0x" + strings.Repeat("b", 64)
	if !h.traded.Claim(other) {
		t.Fatal("claim should succeed")
	}
	if _, err := h.exec.Execute(context.Background(), testOpportunity(other)); !errors.Is(err, domain.ErrAlreadyTraded) {
		t.Fatalf("in-flight market should be refused, got %v", err)
	}
}

func TestBatchOneLegFilledUnwindsThatLeg(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-no", domain.OrderSideSell, placeResp{fill: domain.LegFill{Success: true, OrderID: "0xresting", Status: domain.OrderStatusLive}})
	bp := &fakeBatchPlacer{
		fakePlacer: fp,
		batchFills: []domain.LegFill{killed().fill, matched("4.996").fill},
	}
	h := newHarness(t, DefaultConfig(), bp, fp)

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if bp.batches != 1 {
		t.Fatalf("expected one batch request, got %d", bp.batches)
	}
	sells := fp.sells()
	if len(sells) != 1 || sells[0].TokenID != "tok-no" || !sells[0].Size.Equal(d("4.99")) {
		t.Fatalf("expected one sell of 4.99 tok-no, got %+v", sells)
	}
	if rec.Result.Side != domain.LegNo || rec.UnwindOrderID != "0xresting" {
		t.Fatalf("unexpected result %+v order %s", rec.Result, rec.UnwindOrderID)
	}
	if rec.FinalState() != domain.StateUnwindSucceeded {
		t.Fatalf("resting unwind order should succeed, got %s", rec.FinalState())
	}
}

func TestBatchTransportErrorKeepsMarketBlocked(t *testing.T) {
	fp := newFakePlacer()
	bp := &fakeBatchPlacer{fakePlacer: fp, batchErr: errors.New("connection reset")}
	h := newHarness(t, DefaultConfig(), bp, fp)

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Result.Outcome != domain.OutcomeNoneFilled {
		t.Fatalf("expected none_filled, got %s", rec.Result.Outcome)
	}
	if !h.traded.Blocked(testCondition) {
		t.Fatal("unknown venue state should keep the market blocked")
	}
	if len(fp.sells()) != 0 {
		t.Fatal("no unwind expected")
	}
}

type countingCounter struct {
	mu sync.Mutex
	n  int
}

func (c *countingCounter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func TestBatchCountsEachPlacedLeg(t *testing.T) {
	fp := newFakePlacer()
	bp := &fakeBatchPlacer{
		fakePlacer: fp,
		batchFills: []domain.LegFill{matched("5").fill, matched("5").fill},
	}
	h := newHarness(t, DefaultConfig(), bp, fp)
	placed := &countingCounter{}
	h.exec.metrics.OrdersPlaced = placed

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Result.Outcome != domain.OutcomeBothFilled {
		t.Fatalf("outcome = %s", rec.Result.Outcome)
	}
	if placed.n != 2 {
		t.Fatalf("orders placed = %d, want 2", placed.n)
	}
}

func TestSettlementFailureDoesNotUnwind(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, matched("5"))
	fp.on("tok-no", domain.OrderSideBuy, matched("5"))
	h := newHarness(t, sequentialConfig(), fp, fp)
	h.settler.result = domain.MergeResult{Success: false, TxHash: "0xreverted", Reason: "reverted"}

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Settlement != domain.SettlementFailed {
		t.Fatalf("expected settlement failed, got %s", rec.Settlement)
	}
	if len(fp.sells()) != 0 {
		t.Fatal("settlement failure must never unwind")
	}
	if h.halt.Halted() {
		t.Fatal("settlement failure must not halt")
	}
}

func TestCancelledContextFinishesLegsAndSkipsSettlement(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, matched("5"))
	fp.on("tok-no", domain.OrderSideBuy, matched("5"))
	h := newHarness(t, sequentialConfig(), fp, fp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := h.exec.Execute(ctx, testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Result.Outcome != domain.OutcomeBothFilled {
		t.Fatalf("legs should complete despite cancellation, got %s", rec.Result.Outcome)
	}
	if rec.Settlement != domain.SettlementSkipped || len(h.settler.requests) != 0 {
		t.Fatalf("expected skipped settlement, got %s with %d merges", rec.Settlement, len(h.settler.requests))
	}
}

func TestFillWithoutSizeFallsBackToRequested(t *testing.T) {
	fp := newFakePlacer()
	fp.on("tok-yes", domain.OrderSideBuy, placeResp{fill: domain.LegFill{Success: true, Status: domain.OrderStatusMatched}})
	fp.on("tok-no", domain.OrderSideBuy, placeResp{fill: domain.LegFill{Success: false, ErrorMsg: "not filled"}})
	fp.on("tok-yes", domain.OrderSideSell, matched("5"))
	h := newHarness(t, sequentialConfig(), fp, fp)

	rec, err := h.exec.Execute(context.Background(), testOpportunity(testCondition))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !rec.UnwindSize.Equal(d("5")) {
		t.Fatalf("expected unwind of requested 5, got %s", rec.UnwindSize)
	}
}

func TestExecuteRejectsInvalidOpportunity(t *testing.T) {
	fp := newFakePlacer()
	h := newHarness(t, sequentialConfig(), fp, fp)
	opp := testOpportunity(testCondition)
	opp.TargetShares = decimal.Zero

	_, err := h.exec.Execute(context.Background(), opp)
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if h.traded.Blocked(testCondition) {
		t.Fatal("invalid opportunity must not claim the market")
	}
}
