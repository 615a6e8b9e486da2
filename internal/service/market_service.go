package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

// ScanMode selects which part of the listings the discovery scan covers.
type ScanMode string

const (
	ScanCryptoOnly ScanMode = "CRYPTO_ONLY"
	ScanAllBinary  ScanMode = "ALL_BINARY"
)

// ParseScanMode accepts the config spelling (crypto_only, all_binary).
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ScanCryptoOnly):
		return ScanCryptoOnly, nil
	case string(ScanAllBinary):
		return ScanAllBinary, nil
	default:
		return "", fmt.Errorf("unknown scan mode %q", s)
	}
}

// Timeframe is one crypto up/down listing to scan.
type Timeframe struct {
	Name  string
	Query polymarket.EventQuery
}

// DefaultTimeframes are the crypto up/down listings, in scan order.
var DefaultTimeframes = []Timeframe{
	{Name: "15-min", Query: polymarket.EventQuery{TagSlug: "15M", Limit: 100, Paginated: true}},
	{Name: "1-hour", Query: polymarket.EventQuery{TagSlug: "1H", Limit: 100, Paginated: true}},
	{Name: "4-hour", Query: polymarket.EventQuery{TagID: 102531, Limit: 100}},
	{Name: "Daily", Query: polymarket.EventQuery{TagSlug: "daily", Limit: 100, Paginated: true}},
}

// Coins are the assets the crypto scan keeps, in report order.
var Coins = []string{"BTC", "ETH", "SOL", "XRP"}

// Listings is the market listings API.
type Listings interface {
	ListActiveMarkets(ctx context.Context, limit int) ([]polymarket.APIMarket, error)
	ListEvents(ctx context.Context, q polymarket.EventQuery) ([]polymarket.APIEvent, error)
}

// DiscoveryConfig tunes the discovery scan.
type DiscoveryConfig struct {
	Mode           ScanMode
	AutoSwitch     bool
	CryptoInterval time.Duration
	BinaryInterval time.Duration
	BinaryLimit    int
	// Timeframes lists enabled timeframe names; empty enables all.
	Timeframes []string
	// Spacing separates timeframe requests.
	Spacing  time.Duration
	CacheTTL time.Duration
}

// DefaultDiscoveryConfig starts in the crypto scan and alternates.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Mode:           ScanCryptoOnly,
		AutoSwitch:     true,
		CryptoInterval: 10 * time.Minute,
		BinaryInterval: 5 * time.Minute,
		BinaryLimit:    300,
		Spacing:        100 * time.Millisecond,
		CacheTTL:       24 * time.Hour,
	}
}

// MarketService discovers tradable two-outcome markets. Records from the
// listings API become typed domain.Market values here and nowhere else.
type MarketService struct {
	listings   Listings
	cache      domain.MarketCache
	cfg        DiscoveryConfig
	timeframes []Timeframe
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	mode       ScanMode
	lastSwitch time.Time
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(listings Listings, cache domain.MarketCache, cfg DiscoveryConfig, logger *slog.Logger) *MarketService {
	if cfg.Mode == "" {
		cfg.Mode = ScanCryptoOnly
	}
	return &MarketService{
		listings:   listings,
		cache:      cache,
		cfg:        cfg,
		timeframes: enabledTimeframes(cfg.Timeframes),
		logger:     logger.With(slog.String("component", "market_service")),
		now:        time.Now,
		mode:       cfg.Mode,
	}
}

func enabledTimeframes(names []string) []Timeframe {
	if len(names) == 0 {
		return DefaultTimeframes
	}
	var out []Timeframe
	for _, tf := range DefaultTimeframes {
		for _, n := range names {
			if strings.EqualFold(tf.Name, n) {
				out = append(out, tf)
				break
			}
		}
	}
	return out
}

// Mode returns the scan mode the next refresh will use.
func (s *MarketService) Mode() ScanMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Refresh runs one discovery scan, switching modes first when the current
// mode's interval has elapsed. A failed or empty scan falls back to the
// cached list.
func (s *MarketService) Refresh(ctx context.Context) ([]domain.Market, error) {
	mode := s.advanceMode()
	s.logger.InfoContext(ctx, "fetching markets", slog.String("mode", string(mode)))

	var (
		markets []domain.Market
		err     error
	)
	switch mode {
	case ScanAllBinary:
		markets, err = s.ScanAllBinary(ctx)
	default:
		markets, err = s.ScanCrypto(ctx)
	}
	if err == nil && len(markets) > 0 {
		s.store(ctx, markets)
		s.logger.InfoContext(ctx, "loaded markets", slog.Int("count", len(markets)), slog.String("mode", string(mode)))
		return markets, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cached, cacheErr := s.cached(ctx)
	if cacheErr == nil && len(cached) > 0 {
		attrs := []any{slog.Int("count", len(cached))}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.WarnContext(ctx, "listings unavailable, using cached markets", attrs...)
		return cached, nil
	}
	if err != nil {
		return nil, fmt.Errorf("market_service: refresh: %w", err)
	}
	return markets, nil
}

func (s *MarketService) advanceMode() ScanMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.AutoSwitch {
		return s.mode
	}
	now := s.now()
	if s.lastSwitch.IsZero() {
		s.lastSwitch = now
		return s.mode
	}
	if now.Sub(s.lastSwitch) >= s.intervalLocked() {
		if s.mode == ScanCryptoOnly {
			s.mode = ScanAllBinary
		} else {
			s.mode = ScanCryptoOnly
		}
		s.lastSwitch = now
		s.logger.Info("scan mode switched", slog.String("mode", string(s.mode)), slog.Duration("for", s.intervalLocked()))
	}
	return s.mode
}

func (s *MarketService) intervalLocked() time.Duration {
	if s.mode == ScanCryptoOnly {
		return s.cfg.CryptoInterval
	}
	return s.cfg.BinaryInterval
}

func (s *MarketService) store(ctx context.Context, markets []domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetMarkets(ctx, markets, s.cfg.CacheTTL); err != nil {
		s.logger.WarnContext(ctx, "market cache write failed", slog.String("error", err.Error()))
	}
}

func (s *MarketService) cached(ctx context.Context) ([]domain.Market, error) {
	if s.cache == nil {
		return nil, domain.ErrNotFound
	}
	return s.cache.GetMarkets(ctx)
}

// ScanAllBinary returns every open two-outcome market in the top of the
// volume ranking.
func (s *MarketService) ScanAllBinary(ctx context.Context) ([]domain.Market, error) {
	raw, err := s.listings.ListActiveMarkets(ctx, s.cfg.BinaryLimit)
	if err != nil {
		return nil, fmt.Errorf("market_service: all binary scan: %w", err)
	}
	seen := make(map[string]bool, len(raw))
	out := make([]domain.Market, 0, len(raw))
	for i := range raw {
		coin := DetectCoin(raw[i].Question)
		if coin == "" {
			coin = "BINARY"
		}
		m, ok := s.convert(ctx, &raw[i], coin, "ALL", "")
		if !ok || seen[m.ConditionID] {
			continue
		}
		seen[m.ConditionID] = true
		out = append(out, m)
	}
	s.logger.DebugContext(ctx, "all binary scan", slog.Int("fetched", len(raw)), slog.Int("kept", len(out)))
	return out, nil
}

// ScanCrypto returns, per enabled timeframe and per coin, the open up/down
// market that ends first. A timeframe that fails is skipped; the scan fails
// only when every timeframe does.
func (s *MarketService) ScanCrypto(ctx context.Context) ([]domain.Market, error) {
	var (
		out  []domain.Market
		errs []error
	)
	for i, tf := range s.timeframes {
		if i > 0 && s.cfg.Spacing > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.Spacing):
			}
		}
		found, err := s.scanTimeframe(ctx, tf)
		if err != nil {
			s.logger.WarnContext(ctx, "timeframe scan failed", slog.String("timeframe", tf.Name), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		s.logger.InfoContext(ctx, "timeframe scanned", slog.String("timeframe", tf.Name), slog.Int("live", len(found)))
		out = append(out, found...)
	}
	if len(errs) > 0 && len(errs) == len(s.timeframes) {
		return nil, fmt.Errorf("market_service: crypto scan: %w", errors.Join(errs...))
	}
	return out, nil
}

func (s *MarketService) scanTimeframe(ctx context.Context, tf Timeframe) ([]domain.Market, error) {
	events, err := s.listings.ListEvents(ctx, tf.Query)
	if err != nil {
		return nil, err
	}
	now := s.now()
	byCoin := make(map[string][]domain.Market)
	for _, ev := range events {
		if !strings.Contains(strings.ToLower(ev.Title), "up or down") && !strings.Contains(strings.ToLower(ev.Slug), "updown") {
			continue
		}
		coin := DetectCoin(ev.Title + " " + ev.Slug)
		if coin == "" {
			continue
		}
		for i := range ev.Markets {
			m, ok := s.convert(ctx, &ev.Markets[i], coin, tf.Name, ev.Slug)
			if !ok {
				continue
			}
			if !m.EndDate.IsZero() && !m.EndDate.After(now) {
				continue
			}
			byCoin[coin] = append(byCoin[coin], m)
		}
	}

	var out []domain.Market
	for _, coin := range Coins {
		candidates := byCoin[coin]
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return endsBefore(candidates[i].EndDate, candidates[j].EndDate)
		})
		out = append(out, candidates[0])
	}
	return out, nil
}

// endsBefore orders known end dates ascending, unknown ones last.
func endsBefore(a, b time.Time) bool {
	switch {
	case a.IsZero():
		return false
	case b.IsZero():
		return true
	default:
		return a.Before(b)
	}
}

func (s *MarketService) convert(ctx context.Context, raw *polymarket.APIMarket, coin, timeframe, eventSlug string) (domain.Market, bool) {
	m, err := domain.NewMarket(raw.Input(coin, timeframe, eventSlug))
	if err != nil {
		s.logger.DebugContext(ctx, "skipping market", slog.String("id", raw.ID), slog.String("reason", err.Error()))
		return domain.Market{}, false
	}
	return m, true
}

// DetectCoin names the crypto asset text refers to, or "" when none.
func DetectCoin(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "bitcoin") || strings.Contains(t, "btc"):
		return "BTC"
	case strings.Contains(t, "ethereum") || strings.Contains(t, "eth ") || strings.HasPrefix(t, "eth"):
		return "ETH"
	case strings.Contains(t, "solana") || strings.Contains(t, "sol ") || strings.HasPrefix(t, "sol"):
		return "SOL"
	case strings.Contains(t, "xrp"):
		return "XRP"
	default:
		return ""
	}
}
