// Package arbitrage decides whether a pair of evaluated outcome prices is an
// exploitable YES/NO spread and sizes the paired order. All arithmetic is
// exact decimal; binary floating point never touches a price.
package arbitrage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

var one = decimal.NewFromInt(1)

// Config holds the trigger and sizing parameters.
type Config struct {
	MinSpreadTarget   decimal.Decimal // trade only when yes+no is strictly below this
	ProfitThreshold   decimal.Decimal // minimum 1 - spread per share
	NotionalBudget    decimal.Decimal // USDC spent on one pair of legs
	MinOrderSize      decimal.Decimal // venue share floor
	SlippageTolerance decimal.Decimal // limit = price * (1 + tolerance)
	LiquidityBuffer   decimal.Decimal // each side must show this share of target shares
	PriceDecimals     int32
}

// DefaultConfig mirrors the production parameters.
func DefaultConfig() Config {
	return Config{
		MinSpreadTarget:   decimal.RequireFromString("1.0"),
		ProfitThreshold:   decimal.RequireFromString("0.001"),
		NotionalBudget:    decimal.RequireFromString("10"),
		MinOrderSize:      decimal.RequireFromString("5"),
		SlippageTolerance: decimal.RequireFromString("0.003"),
		LiquidityBuffer:   decimal.RequireFromString("0.95"),
		PriceDecimals:     2,
	}
}

// Reason explains why Consider declined an opportunity.
type Reason string

const (
	Accepted           Reason = ""
	ReasonDepth        Reason = "insufficient_depth"
	ReasonNoSpread     Reason = "spread_not_below_target"
	ReasonThreshold    Reason = "profit_below_threshold"
	ReasonLiquidity    Reason = "liquidity_below_buffer"
	ReasonMinSize      Reason = "below_min_order_size"
	ReasonUnprofitable Reason = "unprofitable_after_slippage"
)

// Decision is the outcome of Consider. Opportunity is only set when OK.
type Decision struct {
	Opportunity domain.ArbitrageOpportunity
	Spread      decimal.Decimal
	Reason      Reason
}

// OK reports whether an opportunity was emitted.
func (d Decision) OK() bool { return d.Reason == Accepted }

// Sizer is the trigger and sizer. It is stateless and safe for concurrent use.
type Sizer struct {
	cfg Config
	now func() time.Time
}

// NewSizer returns a Sizer for cfg.
func NewSizer(cfg Config) *Sizer {
	if cfg.PriceDecimals == 0 {
		cfg.PriceDecimals = 2
	}
	return &Sizer{cfg: cfg, now: time.Now}
}

// Config returns the sizer's parameters.
func (s *Sizer) Config() Config { return s.cfg }

// Consider combines the evaluated yes and no prices of market into an
// opportunity, or explains why there is none.
func (s *Sizer) Consider(market domain.Market, yes, no domain.EvaluatedPrice) Decision {
	if !yes.Sufficient || !no.Sufficient {
		return Decision{Reason: ReasonDepth}
	}

	spread := yes.EffectivePrice.Add(no.EffectivePrice)
	if !spread.LessThan(s.cfg.MinSpreadTarget) {
		return Decision{Spread: spread, Reason: ReasonNoSpread}
	}
	if one.Sub(spread).LessThan(s.cfg.ProfitThreshold) {
		return Decision{Spread: spread, Reason: ReasonThreshold}
	}

	target := TargetShares(s.cfg.NotionalBudget, spread)
	need := target.Mul(s.cfg.LiquidityBuffer)
	if yes.AvailableShares.LessThan(need) || no.AvailableShares.LessThan(need) {
		return Decision{Spread: spread, Reason: ReasonLiquidity}
	}
	if target.LessThan(s.cfg.MinOrderSize) {
		return Decision{Spread: spread, Reason: ReasonMinSize}
	}

	limitYes := s.LimitPrice(yes.EffectivePrice)
	limitNo := s.LimitPrice(no.EffectivePrice)
	profit := target.Sub(limitYes.Add(limitNo).Mul(target))
	if !profit.IsPositive() {
		return Decision{Spread: spread, Reason: ReasonUnprofitable}
	}

	return Decision{
		Spread: spread,
		Opportunity: domain.ArbitrageOpportunity{
			Market:         market,
			PriceYes:       yes.EffectivePrice,
			PriceNo:        no.EffectivePrice,
			Spread:         spread,
			TargetShares:   target,
			LimitYes:       limitYes,
			LimitNo:        limitNo,
			ExpectedProfit: profit,
			DetectedAt:     s.now(),
		},
	}
}

// LimitPrice applies the slippage buffer and rounds half-to-even to the
// venue's price precision.
func (s *Sizer) LimitPrice(price decimal.Decimal) decimal.Decimal {
	return price.Mul(one.Add(s.cfg.SlippageTolerance)).RoundBank(s.cfg.PriceDecimals)
}

// TargetShares is floor(budget / spread). Fractional shares are not
// tradable.
func TargetShares(budget, spread decimal.Decimal) decimal.Decimal {
	if !spread.IsPositive() {
		return decimal.Zero
	}
	return budget.Div(spread).Floor()
}
