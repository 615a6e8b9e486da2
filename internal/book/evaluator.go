// Package book turns raw ask ladders into depth-weighted prices.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// DefaultMinFillRatio is the share of the target notional the whole book
// must cover for a price to be considered sufficient.
var DefaultMinFillRatio = decimal.RequireFromString("0.90")

// Evaluator walks ask ladders. The zero value uses DefaultMinFillRatio.
type Evaluator struct {
	MinFillRatio decimal.Decimal
}

// NewEvaluator returns an Evaluator with the given sufficiency ratio.
func NewEvaluator(minFillRatio decimal.Decimal) Evaluator {
	return Evaluator{MinFillRatio: minFillRatio}
}

// Evaluate uses the default sufficiency ratio.
func Evaluate(snap domain.OrderBookSnapshot, targetNotional decimal.Decimal) domain.EvaluatedPrice {
	return Evaluator{}.Evaluate(snap, targetNotional)
}

// Evaluate walks the asks of snap cheapest-first until targetNotional is
// spent. The last level touched is consumed pro-rata so the cost equals the
// target exactly. The result is a pure function of its inputs; snap is not
// modified.
func (e Evaluator) Evaluate(snap domain.OrderBookSnapshot, targetNotional decimal.Decimal) domain.EvaluatedPrice {
	if !targetNotional.IsPositive() {
		return domain.EvaluatedPrice{}
	}
	ratio := e.MinFillRatio
	if ratio.IsZero() {
		ratio = DefaultMinFillRatio
	}

	levels := ValidAsks(snap.Asks)

	cost := decimal.Zero
	shares := decimal.Zero
	for _, lvl := range levels {
		remaining := targetNotional.Sub(cost)
		levelCost := lvl.Price.Mul(lvl.Size)
		if levelCost.GreaterThanOrEqual(remaining) {
			shares = shares.Add(remaining.Div(lvl.Price))
			cost = targetNotional
			break
		}
		cost = cost.Add(levelCost)
		shares = shares.Add(lvl.Size)
	}

	if shares.IsZero() {
		return domain.EvaluatedPrice{}
	}
	return domain.EvaluatedPrice{
		EffectivePrice:  cost.Div(shares),
		AvailableShares: shares,
		Cost:            cost,
		Sufficient:      cost.GreaterThanOrEqual(targetNotional.Mul(ratio)),
	}
}

// ValidAsks returns a sorted copy of levels with non-positive prices and
// sizes removed.
func ValidAsks(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if !l.Price.IsPositive() || !l.Size.IsPositive() {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// BestAsk returns the cheapest valid ask, if any.
func BestAsk(levels []domain.PriceLevel) (domain.PriceLevel, bool) {
	valid := ValidAsks(levels)
	if len(valid) == 0 {
		return domain.PriceLevel{}, false
	}
	return valid[0], true
}

// SharesCost prices buying shares cheapest-first from the valid asks of
// snap. Shares beyond the book are priced at the last level, so a shallow
// book yields a notional the book cannot cover.
func SharesCost(snap domain.OrderBookSnapshot, shares decimal.Decimal) decimal.Decimal {
	levels := ValidAsks(snap.Asks)
	if len(levels) == 0 || !shares.IsPositive() {
		return decimal.Zero
	}
	cost := decimal.Zero
	left := shares
	for _, lvl := range levels {
		take := decimal.Min(left, lvl.Size)
		cost = cost.Add(take.Mul(lvl.Price))
		left = left.Sub(take)
		if !left.IsPositive() {
			return cost
		}
	}
	return cost.Add(left.Mul(levels[len(levels)-1].Price))
}
