package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckSummary is one evaluated market shown on the status surface.
type CheckSummary struct {
	Question  string          `json:"q"`
	Up        decimal.Decimal `json:"up"`
	Down      decimal.Decimal `json:"down"`
	Total     decimal.Decimal `json:"total"`
	Coin      string          `json:"coin"`
	Timeframe string          `json:"timeframe"`
	At        time.Time       `json:"at"`
}

// EngineSnapshot is a read-only copy of engine state for presentation.
type EngineSnapshot struct {
	Running        bool            `json:"running"`
	Halted         bool            `json:"halted"`
	HaltReason     string          `json:"halt_reason,omitempty"`
	Mode           string          `json:"mode"`
	ScanMode       string          `json:"scan_mode"`
	MarketsCount   int             `json:"markets_count"`
	Checks         int64           `json:"checks"`
	Opportunities  int64           `json:"opportunities"`
	TradesExecuted int64           `json:"trades_executed"`
	Unwinds        int64           `json:"unwinds"`
	Merges         int64           `json:"merges"`
	BestSpread     decimal.Decimal `json:"best_spread"`
	Balance        decimal.Decimal `json:"balance"`
	RecentChecks   []CheckSummary  `json:"recent_checks"`
	TradedMarkets  int             `json:"traded_markets"`
	StreamUp       bool            `json:"stream_connected"`
	LastUpdate     time.Time       `json:"last_update"`
}
