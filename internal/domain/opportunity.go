package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArbitrageOpportunity is computed fresh each cycle and never persisted on
// its own.
type ArbitrageOpportunity struct {
	Market         Market
	PriceYes       decimal.Decimal
	PriceNo        decimal.Decimal
	Spread         decimal.Decimal
	TargetShares   decimal.Decimal // integral
	LimitYes       decimal.Decimal
	LimitNo        decimal.Decimal
	ExpectedProfit decimal.Decimal // after the slippage buffer
	DetectedAt     time.Time
}
