package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

func cond(c byte) string { return "0x" + strings.Repeat(string(c), 64) }

type fakeListings struct {
	mu         sync.Mutex
	markets    []polymarket.APIMarket
	marketsErr error
	events     map[string][]polymarket.APIEvent
	eventsErr  map[string]error
	queries    []polymarket.EventQuery
	binary     int
}

func (f *fakeListings) ListActiveMarkets(_ context.Context, limit int) ([]polymarket.APIMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary++
	return f.markets, f.marketsErr
}

func key(q polymarket.EventQuery) string {
	if q.TagSlug != "" {
		return q.TagSlug
	}
	return "tag"
}

func (f *fakeListings) ListEvents(_ context.Context, q polymarket.EventQuery) ([]polymarket.APIEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.eventsErr[key(q)]; err != nil {
		return nil, err
	}
	return f.events[key(q)], nil
}

type memMarketCache struct {
	mu      sync.Mutex
	markets []domain.Market
	ttl     time.Duration
}

func (c *memMarketCache) SetMarkets(_ context.Context, markets []domain.Market, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets = append([]domain.Market(nil), markets...)
	c.ttl = ttl
	return nil
}

func (c *memMarketCache) GetMarkets(context.Context) ([]domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markets == nil {
		return nil, domain.ErrNotFound
	}
	return c.markets, nil
}

func apiMarket(id string, c byte, outcomes []string, end string) polymarket.APIMarket {
	var m polymarket.APIMarket
	m.ID = id
	m.ConditionID = cond(c)
	m.Question = "Will " + id + "?"
	m.Outcomes = outcomes
	m.ClobTokenIDs = []string{id + "-t0", id + "-t1"}
	m.EndDate = end
	return m
}

func newTestService(l Listings, cache domain.MarketCache, cfg DiscoveryConfig) *MarketService {
	cfg.Spacing = 0
	s := NewMarketService(l, cache, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestScanAllBinaryFiltersAndOrders(t *testing.T) {
	closed := apiMarket("closed", 'c', []string{"Yes", "No"}, "")
	closed.Closed = true
	l := &fakeListings{markets: []polymarket.APIMarket{
		apiMarket("plain", 'a', []string{"Yes", "No"}, ""),
		apiMarket("flipped", 'b', []string{"No", "Yes"}, ""),
		closed,
		apiMarket("three", 'd', []string{"A", "B", "C"}, ""),
		apiMarket("btc", 'e', []string{"Down", "Up"}, ""),
	}}
	l.markets[4].Question = "Bitcoin above 100k?"

	cfg := DefaultDiscoveryConfig()
	s := newTestService(l, nil, cfg)
	got, err := s.ScanAllBinary(context.Background())
	if err != nil {
		t.Fatalf("ScanAllBinary: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("kept %d markets, want 3", len(got))
	}
	if got[1].TokenYes() != "flipped-t1" || got[1].TokenNo() != "flipped-t0" {
		t.Fatalf("flipped tokens = %v", got[1].TokenIDs)
	}
	if got[0].Coin != "BINARY" || got[0].Timeframe != "ALL" {
		t.Fatalf("plain market = %+v", got[0])
	}
	if got[2].Coin != "BTC" || got[2].TokenYes() != "btc-t1" {
		t.Fatalf("btc market = %+v", got[2])
	}
}

func TestScanCryptoKeepsEarliestPerCoin(t *testing.T) {
	l := &fakeListings{events: map[string][]polymarket.APIEvent{
		"15M": {
			{Title: "Bitcoin Up or Down - 12:15", Slug: "btc-updown-15m-1", Markets: []polymarket.APIMarket{
				apiMarket("btc-late", 'a', []string{"Up", "Down"}, "2026-01-01T12:30:00Z"),
				apiMarket("btc-early", 'b', []string{"Up", "Down"}, "2026-01-01T12:15:00Z"),
				apiMarket("btc-past", 'c', []string{"Up", "Down"}, "2026-01-01T11:45:00Z"),
			}},
			{Title: "Ethereum Up or Down", Slug: "eth-updown-15m", Markets: []polymarket.APIMarket{
				apiMarket("eth", 'd', []string{"Up", "Down"}, "2026-01-01T12:15:00Z"),
			}},
			{Title: "Who wins the election?", Slug: "election", Markets: []polymarket.APIMarket{
				apiMarket("other", 'e', []string{"Yes", "No"}, ""),
			}},
		},
	}}
	cfg := DefaultDiscoveryConfig()
	cfg.Timeframes = []string{"15-min"}
	s := newTestService(l, nil, cfg)

	got, err := s.ScanCrypto(context.Background())
	if err != nil {
		t.Fatalf("ScanCrypto: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d markets, want 2: %+v", len(got), got)
	}
	if got[0].ID != "btc-early" || got[0].Coin != "BTC" || got[0].Timeframe != "15-min" || got[0].EventSlug != "btc-updown-15m-1" {
		t.Fatalf("btc pick = %+v", got[0])
	}
	if got[1].Coin != "ETH" {
		t.Fatalf("second pick = %+v", got[1])
	}
}

func TestScanCryptoSkipsFailedTimeframe(t *testing.T) {
	l := &fakeListings{
		events: map[string][]polymarket.APIEvent{
			"1H": {{Title: "XRP Up or Down", Slug: "xrp-updown-1h", Markets: []polymarket.APIMarket{
				apiMarket("xrp", 'a', []string{"Up", "Down"}, ""),
			}}},
		},
		eventsErr: map[string]error{"15M": errors.New("boom")},
	}
	cfg := DefaultDiscoveryConfig()
	cfg.Timeframes = []string{"15-min", "1-hour"}
	got, err := newTestService(l, nil, cfg).ScanCrypto(context.Background())
	if err != nil {
		t.Fatalf("ScanCrypto: %v", err)
	}
	if len(got) != 1 || got[0].Coin != "XRP" {
		t.Fatalf("got %+v", got)
	}
}

func TestRefreshFallsBackToCache(t *testing.T) {
	l := &fakeListings{markets: []polymarket.APIMarket{apiMarket("m", 'a', []string{"Yes", "No"}, "")}}
	cache := &memMarketCache{}
	cfg := DefaultDiscoveryConfig()
	cfg.Mode = ScanAllBinary
	cfg.AutoSwitch = false
	s := newTestService(l, cache, cfg)

	if _, err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if len(cache.markets) != 1 || cache.ttl != cfg.CacheTTL {
		t.Fatalf("cache = %+v", cache)
	}

	l.mu.Lock()
	l.marketsErr = errors.New("gamma down")
	l.mu.Unlock()
	got, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh with cache: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m" {
		t.Fatalf("fallback = %+v", got)
	}
}

func TestRefreshErrorWithoutCache(t *testing.T) {
	l := &fakeListings{marketsErr: errors.New("gamma down")}
	cfg := DefaultDiscoveryConfig()
	cfg.Mode = ScanAllBinary
	if _, err := newTestService(l, nil, cfg).Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAutoSwitchAlternatesModes(t *testing.T) {
	cfg := DefaultDiscoveryConfig()
	s := newTestService(&fakeListings{}, nil, cfg)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	steps := []struct {
		advance time.Duration
		want    ScanMode
	}{
		{0, ScanCryptoOnly},
		{9 * time.Minute, ScanCryptoOnly},
		{time.Minute, ScanAllBinary},
		{4 * time.Minute, ScanAllBinary},
		{time.Minute, ScanCryptoOnly},
	}
	for i, st := range steps {
		now = now.Add(st.advance)
		if got := s.advanceMode(); got != st.want {
			t.Fatalf("step %d: mode = %s, want %s", i, got, st.want)
		}
	}
}

func TestDetectCoin(t *testing.T) {
	cases := map[string]string{
		"Bitcoin Up or Down":   "BTC",
		"btc-updown-15m":       "BTC",
		"Ethereum Up or Down":  "ETH",
		"eth-updown-1h":        "ETH",
		"Solana Up or Down":    "SOL",
		"XRP Up or Down":       "XRP",
		"Will it rain Monday?": "",
	}
	for in, want := range cases {
		if got := DetectCoin(in); got != want {
			t.Errorf("DetectCoin(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseScanMode(t *testing.T) {
	if m, err := ParseScanMode("crypto_only"); err != nil || m != ScanCryptoOnly {
		t.Fatalf("crypto_only = %v, %v", m, err)
	}
	if m, err := ParseScanMode("ALL_BINARY"); err != nil || m != ScanAllBinary {
		t.Fatalf("ALL_BINARY = %v, %v", m, err)
	}
	if _, err := ParseScanMode("everything"); err == nil {
		t.Fatal("expected error")
	}
}
