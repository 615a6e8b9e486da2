// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYARB_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Builder    BuilderConfig    `toml:"builder"`
	Trading    TradingConfig    `toml:"trading"`
	Execution  ExecutionConfig  `toml:"execution"`
	Engine     EngineConfig     `toml:"engine"`
	Scan       ScanConfig       `toml:"scan"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	LogFormat  string           `toml:"log_format"`

	// MergeCondition and MergeAmount drive merge mode. A zero amount merges
	// the full position held.
	MergeCondition string          `toml:"merge_condition"`
	MergeAmount    decimal.Decimal `toml:"merge_amount"`
	MergeNegRisk   bool            `toml:"merge_neg_risk"`
	// MergeTokenIDs are the YES and NO CLOB token ids. When empty the
	// position ids are derived from the condition.
	MergeTokenIDs []string `toml:"merge_token_ids"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters and the
// optional pre-issued L2 API credentials. Missing credentials are derived
// from the wallet at startup.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsURL         string `toml:"ws_url"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	RPCURL        string `toml:"rpc_url"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	FeeRateBps    string `toml:"fee_rate_bps"`
}

// BuilderConfig holds Polymarket builder-program API credentials.
type BuilderConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// TradingConfig holds the trigger and sizing parameters. Money values are
// exact decimals.
type TradingConfig struct {
	MinSpreadTarget   decimal.Decimal `toml:"min_spread_target"`
	BetSize           decimal.Decimal `toml:"bet_size"`
	MinShares         decimal.Decimal `toml:"min_shares"`
	SlippageTolerance decimal.Decimal `toml:"slippage_tolerance"`
	ProfitThreshold   decimal.Decimal `toml:"profit_threshold"`
	LiquidityBuffer   decimal.Decimal `toml:"liquidity_buffer"`
	DepthSufficiency  decimal.Decimal `toml:"depth_sufficiency"`
	PriceDecimals     int             `toml:"price_decimals"`
	BatchOrders       bool            `toml:"batch_orders"`
	DryRun            bool            `toml:"dry_run"`
}

// ExecutionConfig holds unwind and settlement parameters.
type ExecutionConfig struct {
	UnwindAttempts  int             `toml:"unwind_attempts"`
	UnwindDelay     duration        `toml:"unwind_delay"`
	UnwindPrice     decimal.Decimal `toml:"unwind_price"`
	SettlementDelay duration        `toml:"settlement_delay"`
	MergeGasLimit   uint64          `toml:"merge_gas_limit"`
	ReceiptTimeout  duration        `toml:"receipt_timeout"`
}

// EngineConfig holds scheduling parameters.
type EngineConfig struct {
	MaxRequestsPerSecond float64  `toml:"max_requests_per_second"`
	Workers              int      `toml:"workers"`
	PollInterval         duration `toml:"poll_interval"`
	RefreshInterval      duration `toml:"refresh_interval"`
	ReconnectDelay       duration `toml:"reconnect_delay"`
	SubscribeChunk       int      `toml:"subscribe_chunk"`
	SubscribePause       duration `toml:"subscribe_pause"`
	RecentChecks         int      `toml:"recent_checks"`
}

// ScanConfig holds market discovery parameters.
type ScanConfig struct {
	Mode           string   `toml:"mode"`
	AutoSwitch     bool     `toml:"auto_switch"`
	CryptoInterval duration `toml:"crypto_interval"`
	BinaryInterval duration `toml:"binary_interval"`
	BinaryLimit    int      `toml:"binary_limit"`
	Timeframes     []string `toml:"timeframes"`
	CacheTTL       duration `toml:"cache_ttl"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	WSInterval        duration `toml:"ws_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the production parameters.
// These match the values in config.example.toml.
func Defaults() Config {
	d := decimal.RequireFromString
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsURL:         "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:       137,
			SignatureType: 2,
			RPCURL:        "https://polygon-rpc.com",
			FeeRateBps:    "0",
		},
		Trading: TradingConfig{
			MinSpreadTarget:   d("1.0"),
			BetSize:           d("10"),
			MinShares:         d("5"),
			SlippageTolerance: d("0.003"),
			ProfitThreshold:   d("0.001"),
			LiquidityBuffer:   d("0.95"),
			DepthSufficiency:  d("0.90"),
			PriceDecimals:     2,
			BatchOrders:       true,
		},
		Execution: ExecutionConfig{
			UnwindAttempts:  10,
			UnwindDelay:     duration{3 * time.Second},
			UnwindPrice:     d("0.01"),
			SettlementDelay: duration{10 * time.Second},
			MergeGasLimit:   500_000,
			ReceiptTimeout:  duration{2 * time.Minute},
		},
		Engine: EngineConfig{
			MaxRequestsPerSecond: 8,
			Workers:              10,
			PollInterval:         duration{time.Second},
			RefreshInterval:      duration{60 * time.Second},
			ReconnectDelay:       duration{5 * time.Second},
			SubscribeChunk:       20,
			SubscribePause:       duration{100 * time.Millisecond},
			RecentChecks:         10,
		},
		Scan: ScanConfig{
			Mode:           "crypto_only",
			AutoSwitch:     true,
			CryptoInterval: duration{10 * time.Minute},
			BinaryInterval: duration{5 * time.Minute},
			BinaryLimit:    300,
			CacheTTL:       duration{24 * time.Hour},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "polyarb",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "polyarb-journal",
			ForcePathStyle: true,
			Prefix:         "polyarb",
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			RequestsPerSecond: 10,
			Burst:             20,
			WSInterval:        duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"both_filled", "one_leg_filled", "settlement"},
		},
		Mode:      "trade",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"merge":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validScanModes = map[string]bool{
	"crypto_only": true,
	"all_binary":  true,
}

var conditionIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// NeedsWallet reports whether the mode signs orders or transactions.
func (c *Config) NeedsWallet() bool {
	m := strings.ToLower(c.Mode)
	return m == "trade" || m == "merge"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		add("unknown mode %q (valid: trade, monitor, merge)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		add("unknown log_format %q (valid: json, text)", c.LogFormat)
	}

	// Wallet: at least one credential source for the signing modes.
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Polymarket.SignatureType == 2 && !common.IsHexAddress(c.Wallet.SafeAddress) {
			add("wallet: safe_address must be a hex address for signature_type 2")
		}
		if c.Polymarket.RPCURL == "" {
			add("polymarket: rpc_url must not be empty for mode %s", c.Mode)
		}
	}
	if c.Wallet.SafeAddress != "" && !common.IsHexAddress(c.Wallet.SafeAddress) {
		add("wallet: safe_address %q is not a hex address", c.Wallet.SafeAddress)
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		add("polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		add("polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsURL == "" {
		add("polymarket: ws_url must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		add("polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		add("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType)
	}
	if !allOrNone(c.Polymarket.ApiKey, c.Polymarket.ApiSecret, c.Polymarket.ApiPassphrase) {
		add("polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Builder: all three fields must be set together, or all empty.
	if !allOrNone(c.Builder.ApiKey, c.Builder.ApiSecret, c.Builder.ApiPassphrase) {
		add("builder: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Trading
	t := c.Trading
	if !t.BetSize.IsPositive() {
		add("trading: bet_size must be > 0")
	}
	if !t.MinShares.IsPositive() {
		add("trading: min_shares must be > 0")
	}
	if !t.MinSpreadTarget.IsPositive() {
		add("trading: min_spread_target must be > 0")
	}
	if t.SlippageTolerance.IsNegative() {
		add("trading: slippage_tolerance must be >= 0")
	}
	if t.ProfitThreshold.IsNegative() {
		add("trading: profit_threshold must be >= 0")
	}
	if !inUnitInterval(t.LiquidityBuffer) {
		add("trading: liquidity_buffer must be in (0, 1]")
	}
	if !inUnitInterval(t.DepthSufficiency) {
		add("trading: depth_sufficiency must be in (0, 1]")
	}
	if t.PriceDecimals < 0 || t.PriceDecimals > 6 {
		add("trading: price_decimals must be 0-6, got %d", t.PriceDecimals)
	}

	// Execution
	if c.Execution.UnwindAttempts < 1 {
		add("execution: unwind_attempts must be >= 1")
	}
	if !c.Execution.UnwindPrice.IsPositive() || c.Execution.UnwindPrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		add("execution: unwind_price must be in (0, 1)")
	}
	if c.Execution.MergeGasLimit == 0 {
		add("execution: merge_gas_limit must be > 0")
	}

	// Engine
	if c.Engine.MaxRequestsPerSecond <= 0 {
		add("engine: max_requests_per_second must be > 0")
	}
	if c.Engine.Workers < 1 {
		add("engine: workers must be >= 1")
	}
	if c.Engine.PollInterval.Duration <= 0 {
		add("engine: poll_interval must be > 0")
	}
	if c.Engine.RefreshInterval.Duration <= 0 {
		add("engine: refresh_interval must be > 0")
	}

	// Scan
	if !validScanModes[strings.ToLower(c.Scan.Mode)] {
		add("scan: unknown mode %q (valid: crypto_only, all_binary)", c.Scan.Mode)
	}
	if c.Scan.BinaryLimit < 1 {
		add("scan: binary_limit must be >= 1")
	}

	// Merge mode
	if mode == "merge" {
		if !conditionIDPattern.MatchString(c.MergeCondition) {
			add("merge_condition must be a 0x-prefixed 32-byte hex condition id for mode merge")
		}
		if c.MergeAmount.IsNegative() {
			add("merge_amount must be >= 0")
		}
		if n := len(c.MergeTokenIDs); n != 0 && n != 2 {
			add("merge_token_ids must list the YES and NO token ids, got %d", n)
		}
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				add("supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
			}
			if c.Supabase.Database == "" {
				add("supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			add("supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			add("supabase: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RequestsPerSecond < 0 {
			add("server: requests_per_second must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func allOrNone(vals ...string) bool {
	set := 0
	for _, v := range vals {
		if v != "" {
			set++
		}
	}
	return set == 0 || set == len(vals)
}

func inUnitInterval(v decimal.Decimal) bool {
	return v.IsPositive() && v.LessThanOrEqual(decimal.NewFromInt(1))
}
