package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookSnapshot is a freshly fetched book for one token. Snapshots are
// owned by the evaluation that fetched them and are never cached.
type OrderBookSnapshot struct {
	TokenID   string
	Asks      []PriceLevel
	Bids      []PriceLevel
	Hash      string
	Timestamp time.Time
}

// EvaluatedPrice is the result of walking an ask ladder up to a target
// notional.
type EvaluatedPrice struct {
	EffectivePrice  decimal.Decimal
	AvailableShares decimal.Decimal
	Cost            decimal.Decimal
	Sufficient      bool
}

// PriceChange is a stream notification that a token's book moved.
type PriceChange struct {
	AssetID   string
	Side      string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}
