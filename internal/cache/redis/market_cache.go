package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// MarketCache implements domain.MarketCache by storing the whole market list
// as one JSON document with a TTL.
//
// Key schema:
//
//	{prefix}:markets - JSON array of markets
type MarketCache struct {
	rdb *redis.Client
	key string
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.rdb, key: c.key("markets")}
}

// cachedMarket is the stored shape. Markets are re-validated on the way out.
type cachedMarket struct {
	ID          string    `json:"id"`
	ConditionID string    `json:"condition_id"`
	Question    string    `json:"question"`
	Slug        string    `json:"slug,omitempty"`
	EventSlug   string    `json:"event_slug,omitempty"`
	Outcomes    [2]string `json:"outcomes"`
	TokenIDs    [2]string `json:"token_ids"`
	NegRisk     bool      `json:"neg_risk"`
	Coin        string    `json:"coin"`
	Timeframe   string    `json:"timeframe"`
	EndDate     time.Time `json:"end_date"`
}

// SetMarkets replaces the cached list.
func (mc *MarketCache) SetMarkets(ctx context.Context, markets []domain.Market, ttl time.Duration) error {
	data, err := encodeMarkets(markets)
	if err != nil {
		return fmt.Errorf("redis: marshal markets: %w", err)
	}
	if err := mc.rdb.Set(ctx, mc.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set markets: %w", err)
	}
	return nil
}

// GetMarkets returns the cached list, or domain.ErrNotFound when there is
// none.
func (mc *MarketCache) GetMarkets(ctx context.Context) ([]domain.Market, error) {
	data, err := mc.rdb.Get(ctx, mc.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get markets: %w", err)
	}
	markets, err := decodeMarkets(data)
	if err != nil {
		return nil, fmt.Errorf("redis: unmarshal markets: %w", err)
	}
	return markets, nil
}

func encodeMarkets(markets []domain.Market) ([]byte, error) {
	out := make([]cachedMarket, len(markets))
	for i, m := range markets {
		out[i] = cachedMarket(m)
	}
	return json.Marshal(out)
}

// decodeMarkets drops entries that no longer pass validation, such as a
// market whose end date was zeroed or whose tokens are missing.
func decodeMarkets(data []byte) ([]domain.Market, error) {
	var raw []cachedMarket
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(raw))
	for _, c := range raw {
		m, err := domain.NewMarket(domain.MarketInput{
			ID:          c.ID,
			ConditionID: c.ConditionID,
			Question:    c.Question,
			Slug:        c.Slug,
			EventSlug:   c.EventSlug,
			Outcomes:    c.Outcomes[:],
			TokenIDs:    c.TokenIDs[:],
			NegRisk:     c.NegRisk,
			Coin:        c.Coin,
			Timeframe:   c.Timeframe,
			EndDate:     c.EndDate,
		})
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
