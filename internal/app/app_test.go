package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/service"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func monitorConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "monitor"
	return &cfg
}

func TestMergeAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string // "" means nil
	}{
		{"0", ""},
		{"-3", ""},
		{"0.0000001", ""},
		{"1", "1000000"},
		{"12.3456789", "12345678"},
	}
	for _, c := range cases {
		got := mergeAmount(decimal.RequireFromString(c.in))
		if c.want == "" {
			if got != nil {
				t.Errorf("mergeAmount(%s) = %s, want nil", c.in, got)
			}
			continue
		}
		if got == nil || got.String() != c.want {
			t.Errorf("mergeAmount(%s) = %v, want %s", c.in, got, c.want)
		}
	}
}

func TestMergeRequestTokenIDs(t *testing.T) {
	cfg := monitorConfig()
	cfg.MergeCondition = "0xabc"
	cfg.MergeNegRisk = true
	cfg.MergeAmount = decimal.NewFromInt(5)

	req := mergeRequest(cfg)
	if req.TokenIDs != [2]string{} {
		t.Fatalf("token ids should be derived, got %v", req.TokenIDs)
	}
	if !req.NegRisk || req.Amount.Int64() != 5_000_000 {
		t.Fatalf("req = %+v", req)
	}

	cfg.MergeTokenIDs = []string{"111", "222"}
	req = mergeRequest(cfg)
	if req.TokenIDs != [2]string{"111", "222"} {
		t.Fatalf("token ids = %v", req.TokenIDs)
	}
}

func TestSizerConfigMapsTrading(t *testing.T) {
	cfg := monitorConfig()
	cfg.Trading.BetSize = decimal.NewFromInt(40)
	cfg.Trading.PriceDecimals = 3

	sc := sizerConfig(cfg)
	if !sc.NotionalBudget.Equal(decimal.NewFromInt(40)) || sc.PriceDecimals != 3 {
		t.Fatalf("sizer config = %+v", sc)
	}
	if !sc.MinOrderSize.Equal(cfg.Trading.MinShares) || !sc.LiquidityBuffer.Equal(cfg.Trading.LiquidityBuffer) {
		t.Fatalf("sizer config = %+v", sc)
	}
}

func TestEngineAndExecutorConfig(t *testing.T) {
	cfg := monitorConfig()
	ec := engineConfig(cfg, true)
	if !ec.DryRun || ec.Workers != cfg.Engine.Workers || ec.PollInterval != cfg.Engine.PollInterval.Duration {
		t.Fatalf("engine config = %+v", ec)
	}
	xc := executorConfig(cfg)
	if xc.UnwindAttempts != cfg.Execution.UnwindAttempts || !xc.UnwindPrice.Equal(cfg.Execution.UnwindPrice) {
		t.Fatalf("executor config = %+v", xc)
	}
	if xc.BatchOrders != cfg.Trading.BatchOrders {
		t.Fatalf("batch orders = %v", xc.BatchOrders)
	}
}

func TestDiscoveryConfig(t *testing.T) {
	cfg := monitorConfig()
	cfg.Scan.Mode = "all_binary"
	cfg.Scan.Timeframes = []string{"15m"}

	dc, err := discoveryConfig(cfg)
	if err != nil {
		t.Fatalf("discoveryConfig: %v", err)
	}
	if dc.Mode != service.ScanAllBinary || len(dc.Timeframes) != 1 {
		t.Fatalf("discovery config = %+v", dc)
	}

	cfg.Scan.Mode = "sometimes"
	if _, err := discoveryConfig(cfg); err == nil {
		t.Fatal("expected error for unknown scan mode")
	}
}

func TestFunder(t *testing.T) {
	cfg := monitorConfig()
	cfg.Wallet.SafeAddress = "0x00000000000000000000000000000000000000aa"
	cfg.Polymarket.SignatureType = 0
	if got := funder(cfg); got != "" {
		t.Fatalf("eoa funder = %q", got)
	}
	cfg.Polymarket.SignatureType = 2
	if got := funder(cfg); got != cfg.Wallet.SafeAddress {
		t.Fatalf("safe funder = %q", got)
	}
}

func TestSendersFromConfig(t *testing.T) {
	if got := senders(config.NotifyConfig{}); len(got) != 0 {
		t.Fatalf("senders = %d", len(got))
	}
	got := senders(config.NotifyConfig{TelegramToken: "t", TelegramChatID: "1", DiscordWebhookURL: "https://example.invalid/hook"})
	if len(got) != 2 {
		t.Fatalf("senders = %d", len(got))
	}
}

func TestWireMonitorModeNeedsNoInfrastructure(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), monitorConfig(), discard())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Signer != nil || deps.Merger != nil {
		t.Fatal("monitor mode without a key should not load a wallet")
	}
	if deps.Clob == nil || deps.Gamma == nil || deps.Stream == nil || deps.Gate == nil {
		t.Fatalf("venue clients missing: %+v", deps)
	}
	if deps.Executions != nil || deps.Traded != nil || deps.Journal != nil {
		t.Fatal("disabled infrastructure should stay nil")
	}
	if deps.Notifier.Enabled() {
		t.Fatal("notifier should have no senders")
	}
}

func TestWireTradeModeWithoutKeyFails(t *testing.T) {
	cfg := config.Defaults()
	_, _, err := Wire(context.Background(), &cfg, discard())
	if err == nil {
		t.Fatal("expected wallet error")
	}
	if domain.KindOf(err) != domain.KindStartup {
		t.Fatalf("kind = %v", domain.KindOf(err))
	}
}

func TestMergeModeRequiresSettlement(t *testing.T) {
	a := New(monitorConfig(), discard())
	deps, cleanup, err := Wire(context.Background(), a.cfg, discard())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	err = a.MergeMode(context.Background(), deps)
	if err == nil || domain.KindOf(err) != domain.KindStartup {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := monitorConfig()
	cfg.Mode = "backtest"
	a := New(cfg, discard())
	defer a.Close()

	err := a.Run(context.Background())
	if err == nil || domain.KindOf(err) != domain.KindStartup {
		t.Fatalf("err = %v", err)
	}
}
