package app

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/engine"
	"github.com/alanyoungcy/polyarb/internal/executor"
	"github.com/alanyoungcy/polyarb/internal/service"
)

// collateralUnit is one USDC in base units.
var collateralUnit = decimal.New(1, 6)

func sizerConfig(cfg *config.Config) arbitrage.Config {
	t := cfg.Trading
	return arbitrage.Config{
		MinSpreadTarget:   t.MinSpreadTarget,
		ProfitThreshold:   t.ProfitThreshold,
		NotionalBudget:    t.BetSize,
		MinOrderSize:      t.MinShares,
		SlippageTolerance: t.SlippageTolerance,
		LiquidityBuffer:   t.LiquidityBuffer,
		PriceDecimals:     int32(t.PriceDecimals),
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		BatchOrders:     cfg.Trading.BatchOrders,
		UnwindAttempts:  cfg.Execution.UnwindAttempts,
		UnwindDelay:     cfg.Execution.UnwindDelay.Duration,
		UnwindPrice:     cfg.Execution.UnwindPrice,
		SettlementDelay: cfg.Execution.SettlementDelay.Duration,
		SizeDecimals:    2,
	}
}

func engineConfig(cfg *config.Config, dryRun bool) engine.Config {
	e := cfg.Engine
	return engine.Config{
		DryRun:          dryRun,
		Workers:         e.Workers,
		PollInterval:    e.PollInterval.Duration,
		RefreshInterval: e.RefreshInterval.Duration,
		RecentChecks:    e.RecentChecks,
		StreamFreshness: 2 * time.Minute,
		ReconnectDelay:  e.ReconnectDelay.Duration,
	}
}

func discoveryConfig(cfg *config.Config) (service.DiscoveryConfig, error) {
	mode, err := service.ParseScanMode(cfg.Scan.Mode)
	if err != nil {
		return service.DiscoveryConfig{}, err
	}
	out := service.DefaultDiscoveryConfig()
	out.Mode = mode
	out.AutoSwitch = cfg.Scan.AutoSwitch
	out.CryptoInterval = cfg.Scan.CryptoInterval.Duration
	out.BinaryInterval = cfg.Scan.BinaryInterval.Duration
	out.BinaryLimit = cfg.Scan.BinaryLimit
	out.CacheTTL = cfg.Scan.CacheTTL.Duration
	if len(cfg.Scan.Timeframes) > 0 {
		out.Timeframes = cfg.Scan.Timeframes
	}
	return out, nil
}

// mergeAmount converts a collateral amount to base units, truncating below
// one micro-dollar. Zero means merge the full matched balance and maps to
// nil.
func mergeAmount(amount decimal.Decimal) *big.Int {
	units := amount.Mul(collateralUnit).Truncate(0)
	if units.Sign() <= 0 {
		return nil
	}
	return units.BigInt()
}

// mergeRequest builds the request for merge mode. Token ids are passed
// through only when both are configured.
func mergeRequest(cfg *config.Config) domain.MergeRequest {
	req := domain.MergeRequest{
		ConditionID: cfg.MergeCondition,
		NegRisk:     cfg.MergeNegRisk,
		Amount:      mergeAmount(cfg.MergeAmount),
	}
	if len(cfg.MergeTokenIDs) == 2 {
		req.TokenIDs = [2]string{cfg.MergeTokenIDs[0], cfg.MergeTokenIDs[1]}
	}
	return req
}
