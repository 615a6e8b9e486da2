package domain

import (
	"context"
	"time"
)

// TradedStore mirrors the traded-market set outside the process so a
// restart does not re-enter markets it already executed.
type TradedStore interface {
	Add(ctx context.Context, conditionID string) error
	Members(ctx context.Context) ([]string, error)
}

// MarketCache keeps the last discovered market list.
type MarketCache interface {
	SetMarkets(ctx context.Context, markets []Market, ttl time.Duration) error
	GetMarkets(ctx context.Context) ([]Market, error)
}

// EventBus broadcasts engine events to external listeners.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
