package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus is the venue-reported status of a submitted order.
type OrderStatus string

const (
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusLive      OrderStatus = "live"
	OrderStatusDelayed   OrderStatus = "delayed"
	OrderStatusUnmatched OrderStatus = "unmatched"
	OrderStatusFailed    OrderStatus = "failed"
)

// LegOrder is one order to be signed and submitted.
type LegOrder struct {
	TokenID string
	Side    OrderSide
	Price   decimal.Decimal
	Size    decimal.Decimal
	Type    OrderType
	NegRisk bool
}

// LegFill is the venue's answer for one submitted order.
type LegFill struct {
	Success    bool            `json:"success"`
	OrderID    string          `json:"order_id,omitempty"`
	Status     OrderStatus     `json:"status,omitempty"`
	ErrorMsg   string          `json:"error_msg,omitempty"`
	TxHashes   []string        `json:"tx_hashes,omitempty"`
	FilledSize decimal.Decimal `json:"filled_size"` // shares actually received (BUY) or given (SELL)
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Filled reports a confirmed fill: matched status or a settlement
// transaction hash, with no error message attached.
func (f LegFill) Filled() bool {
	if f.ErrorMsg != "" {
		return false
	}
	return f.Status == OrderStatusMatched || len(f.TxHashes) > 0
}

// Resting reports an accepted order that is live on the book.
func (f LegFill) Resting() bool {
	return f.ErrorMsg == "" && f.OrderID != ""
}
