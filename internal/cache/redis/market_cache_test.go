package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const testCondition = "0x5f65177b394277fd294cd75650044e32ba009a95022d88a0c1d565897d72f8f1"

func TestDecodeMarketsRevalidates(t *testing.T) {
	good, err := domain.NewMarket(domain.MarketInput{
		ID:          "m1",
		ConditionID: testCondition,
		Question:    "Bitcoin Up or Down?",
		Outcomes:    []string{"Up", "Down"},
		TokenIDs:    []string{"111", "222"},
		Coin:        "BTC",
		Timeframe:   "15-min",
	})
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	data, err := encodeMarkets([]domain.Market{good})
	if err != nil {
		t.Fatalf("encodeMarkets: %v", err)
	}

	// Append a record with a duplicated token, which NewMarket rejects.
	bad := `{"id":"m2","condition_id":"` + testCondition + `","outcomes":["Yes","No"],"token_ids":["333","333"]}`
	data = []byte(strings.TrimSuffix(string(data), "]") + "," + bad + "]")

	markets, err := decodeMarkets(data)
	if err != nil {
		t.Fatalf("decodeMarkets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("markets = %d, want 1", len(markets))
	}
	if markets[0].TokenYes() != "111" || markets[0].Coin != "BTC" {
		t.Fatalf("market = %+v", markets[0])
	}
}

func TestDecodeMarketsRejectsGarbage(t *testing.T) {
	if _, err := decodeMarkets([]byte(`{"not":"a list"}`)); err == nil {
		t.Fatal("expected error for non-list document")
	}
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1}); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestKeysArePrefixed(t *testing.T) {
	c := &Client{prefix: "bot1"}
	if got := NewTradedStore(c).key; got != "bot1:traded" {
		t.Fatalf("traded key = %q", got)
	}
	if got := NewMarketCache(c).key; got != "bot1:markets" {
		t.Fatalf("markets key = %q", got)
	}
}

func TestClientOptions(t *testing.T) {
	opts, err := ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 7, TLSEnabled: true}.options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache:6379" || opts.DB != 2 || opts.PoolSize != 7 || opts.TLSConfig == nil {
		t.Fatalf("opts = %+v", opts)
	}

	opts, err = ClientConfig{Addr: "redis://:pw@cache.example:6380/3"}.options()
	if err != nil {
		t.Fatalf("options url: %v", err)
	}
	if opts.Addr != "cache.example:6380" || opts.Password != "pw" || opts.DB != 3 {
		t.Fatalf("url opts = %+v", opts)
	}

	if _, err := (ClientConfig{Addr: "redis://cache/notanumber"}).options(); err == nil {
		t.Fatal("expected error for bad db in url")
	}
}
