package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// TradedStore implements domain.TradedStore with a Redis set.
//
// Key schema:
//
//	{prefix}:traded - set of condition ids
type TradedStore struct {
	rdb *redis.Client
	key string
}

// NewTradedStore creates a TradedStore backed by the given Client.
func NewTradedStore(c *Client) *TradedStore {
	return &TradedStore{rdb: c.rdb, key: c.key("traded")}
}

// Add records conditionID as traded.
func (s *TradedStore) Add(ctx context.Context, conditionID string) error {
	if err := s.rdb.SAdd(ctx, s.key, conditionID).Err(); err != nil {
		return fmt.Errorf("redis: add traded %s: %w", conditionID, err)
	}
	return nil
}

// Members returns every traded condition id.
func (s *TradedStore) Members(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list traded: %w", err)
	}
	return ids, nil
}

// Compile-time interface check.
var _ domain.TradedStore = (*TradedStore)(nil)
