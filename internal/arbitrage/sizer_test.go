package arbitrage

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func priced(price, shares string) domain.EvaluatedPrice {
	return domain.EvaluatedPrice{
		EffectivePrice:  d(price),
		AvailableShares: d(shares),
		Sufficient:      true,
	}
}

func sizerWithBudget(budget string) *Sizer {
	cfg := DefaultConfig()
	cfg.NotionalBudget = d(budget)
	return NewSizer(cfg)
}

func TestConsiderEndToEndScenario(t *testing.T) {
	s := sizerWithBudget("5")
	dec := s.Consider(domain.Market{ConditionID: "c1"}, priced("0.40", "12.5"), priced("0.55", "9.09"))
	if !dec.OK() {
		t.Fatalf("expected an opportunity, got %q", dec.Reason)
	}
	opp := dec.Opportunity
	if !opp.Spread.Equal(d("0.95")) {
		t.Fatalf("spread: got %s", opp.Spread)
	}
	if !opp.TargetShares.Equal(d("5")) {
		t.Fatalf("target shares: got %s", opp.TargetShares)
	}
	if !opp.ExpectedProfit.Equal(d("0.25")) {
		t.Fatalf("expected profit 0.25, got %s", opp.ExpectedProfit)
	}
	if !opp.LimitYes.Equal(d("0.40")) || !opp.LimitNo.Equal(d("0.55")) {
		t.Fatalf("limits: got %s / %s", opp.LimitYes, opp.LimitNo)
	}
	if opp.Market.ConditionID != "c1" {
		t.Fatalf("market not carried through")
	}
}

func TestConsiderThresholdIsExact(t *testing.T) {
	s := sizerWithBudget("10")
	cases := []struct {
		name    string
		yes, no string
		want    Reason
	}{
		{"0.97 triggers", "0.47", "0.50", Accepted},
		{"0.9995 below threshold", "0.4995", "0.5000", ReasonThreshold},
		{"1.00 is not below target", "0.50", "0.50", ReasonNoSpread},
		{"1.02 is not below target", "0.51", "0.51", ReasonNoSpread},
		{"0.999 meets threshold but not after buffering", "0.499", "0.500", ReasonUnprofitable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := s.Consider(domain.Market{}, priced(tc.yes, "1000"), priced(tc.no, "1000"))
			if dec.Reason != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, dec.Reason)
			}
		})
	}
}

func TestConsiderStricterSpreadTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpreadTarget = d("0.95")
	s := NewSizer(cfg)
	if dec := s.Consider(domain.Market{}, priced("0.45", "100"), priced("0.50", "100")); dec.Reason != ReasonNoSpread {
		t.Fatalf("0.95 is not strictly below 0.95, got %q", dec.Reason)
	}
	if dec := s.Consider(domain.Market{}, priced("0.44", "100"), priced("0.50", "100")); !dec.OK() {
		t.Fatalf("0.94 is below 0.95, got %q", dec.Reason)
	}
}

func TestConsiderSizingFloorBoundary(t *testing.T) {
	s := sizerWithBudget("5")
	dec := s.Consider(domain.Market{}, priced("0.49", "100"), priced("0.50", "100"))
	if !dec.OK() {
		t.Fatalf("budget 5 at spread 0.99 gives exactly 5 shares and must pass, got %q", dec.Reason)
	}
	if !dec.Opportunity.TargetShares.Equal(d("5")) {
		t.Fatalf("expected 5 shares, got %s", dec.Opportunity.TargetShares)
	}

	s = sizerWithBudget("4")
	if dec := s.Consider(domain.Market{}, priced("0.45", "100"), priced("0.50", "100")); dec.Reason != ReasonMinSize {
		t.Fatalf("4 shares is below the floor, got %q", dec.Reason)
	}
}

func TestConsiderLiquidityGate(t *testing.T) {
	s := sizerWithBudget("5")
	// target 5, so each side needs 4.75 shares.
	if dec := s.Consider(domain.Market{}, priced("0.40", "100"), priced("0.55", "4.74")); dec.Reason != ReasonLiquidity {
		t.Fatalf("expected liquidity rejection, got %q", dec.Reason)
	}
	if dec := s.Consider(domain.Market{}, priced("0.40", "4.75"), priced("0.55", "4.75")); !dec.OK() {
		t.Fatalf("4.75 shares meets the 95%% buffer, got %q", dec.Reason)
	}
}

func TestConsiderRequiresSufficientBooks(t *testing.T) {
	s := sizerWithBudget("5")
	thin := priced("0.40", "100")
	thin.Sufficient = false
	if dec := s.Consider(domain.Market{}, thin, priced("0.55", "100")); dec.Reason != ReasonDepth {
		t.Fatalf("expected depth rejection, got %q", dec.Reason)
	}
}

func TestLimitPriceRoundsHalfEven(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlippageTolerance = decimal.Zero
	s := NewSizer(cfg)
	if got := s.LimitPrice(d("0.125")); !got.Equal(d("0.12")) {
		t.Fatalf("expected 0.12, got %s", got)
	}
	if got := s.LimitPrice(d("0.135")); !got.Equal(d("0.14")) {
		t.Fatalf("expected 0.14, got %s", got)
	}
	if got := NewSizer(DefaultConfig()).LimitPrice(d("0.4985")); !got.Equal(d("0.50")) {
		t.Fatalf("expected 0.50, got %s", got)
	}
}

func TestTargetShares(t *testing.T) {
	cases := []struct{ budget, spread, want string }{
		{"10", "0.95", "10"},
		{"5", "0.95", "5"},
		{"5", "0.5", "10"},
		{"10", "0.97", "10"},
		{"1", "0", "0"},
	}
	for _, tc := range cases {
		if got := TargetShares(d(tc.budget), d(tc.spread)); !got.Equal(d(tc.want)) {
			t.Fatalf("TargetShares(%s, %s) = %s, want %s", tc.budget, tc.spread, got, tc.want)
		}
	}
}
