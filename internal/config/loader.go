package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POLYARB_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, loads .env from the working directory when present,
// applies POLYARB_* environment variable overrides, and returns the final
// Config. An empty path skips the file. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsURL, "POLYMARKET_WS_URL")
	setInt(&cfg.Polymarket.ChainID, "POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.RPCURL, "POLYMARKET_RPC_URL")
	setStr(&cfg.Polymarket.ApiKey, "POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYMARKET_API_PASSPHRASE")

	// ── Builder ──
	setStr(&cfg.Builder.ApiKey, "BUILDER_API_KEY")
	setStr(&cfg.Builder.ApiSecret, "BUILDER_API_SECRET")
	setStr(&cfg.Builder.ApiPassphrase, "BUILDER_API_PASSPHRASE")

	// ── Trading ──
	setDecimal(&cfg.Trading.MinSpreadTarget, "TRADING_MIN_SPREAD_TARGET")
	setDecimal(&cfg.Trading.BetSize, "TRADING_BET_SIZE")
	setDecimal(&cfg.Trading.MinShares, "TRADING_MIN_SHARES")
	setDecimal(&cfg.Trading.SlippageTolerance, "TRADING_SLIPPAGE_TOLERANCE")
	setDecimal(&cfg.Trading.ProfitThreshold, "TRADING_PROFIT_THRESHOLD")
	setDecimal(&cfg.Trading.LiquidityBuffer, "TRADING_LIQUIDITY_BUFFER")
	setDecimal(&cfg.Trading.DepthSufficiency, "TRADING_DEPTH_SUFFICIENCY")
	setInt(&cfg.Trading.PriceDecimals, "TRADING_PRICE_DECIMALS")
	setBool(&cfg.Trading.BatchOrders, "TRADING_BATCH_ORDERS")
	setBool(&cfg.Trading.DryRun, "TRADING_DRY_RUN")

	// ── Execution ──
	setInt(&cfg.Execution.UnwindAttempts, "EXECUTION_UNWIND_ATTEMPTS")
	setDuration(&cfg.Execution.UnwindDelay, "EXECUTION_UNWIND_DELAY")
	setDecimal(&cfg.Execution.UnwindPrice, "EXECUTION_UNWIND_PRICE")
	setDuration(&cfg.Execution.SettlementDelay, "EXECUTION_SETTLEMENT_DELAY")
	setUint64(&cfg.Execution.MergeGasLimit, "EXECUTION_MERGE_GAS_LIMIT")
	setDuration(&cfg.Execution.ReceiptTimeout, "EXECUTION_RECEIPT_TIMEOUT")

	// ── Engine ──
	setFloat64(&cfg.Engine.MaxRequestsPerSecond, "ENGINE_MAX_REQUESTS_PER_SECOND")
	setInt(&cfg.Engine.Workers, "ENGINE_WORKERS")
	setDuration(&cfg.Engine.PollInterval, "ENGINE_POLL_INTERVAL")
	setDuration(&cfg.Engine.RefreshInterval, "ENGINE_REFRESH_INTERVAL")
	setDuration(&cfg.Engine.ReconnectDelay, "ENGINE_RECONNECT_DELAY")
	setInt(&cfg.Engine.SubscribeChunk, "ENGINE_SUBSCRIBE_CHUNK")
	setDuration(&cfg.Engine.SubscribePause, "ENGINE_SUBSCRIBE_PAUSE")
	setInt(&cfg.Engine.RecentChecks, "ENGINE_RECENT_CHECKS")

	// ── Scan ──
	setStr(&cfg.Scan.Mode, "SCAN_MODE")
	setBool(&cfg.Scan.AutoSwitch, "SCAN_AUTO_SWITCH")
	setDuration(&cfg.Scan.CryptoInterval, "SCAN_CRYPTO_INTERVAL")
	setDuration(&cfg.Scan.BinaryInterval, "SCAN_BINARY_INTERVAL")
	setInt(&cfg.Scan.BinaryLimit, "SCAN_BINARY_LIMIT")
	setStringSlice(&cfg.Scan.Timeframes, "SCAN_TIMEFRAMES")
	setDuration(&cfg.Scan.CacheTTL, "SCAN_CACHE_TTL")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "REDIS_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setFloat64(&cfg.Server.RequestsPerSecond, "SERVER_REQUESTS_PER_SECOND")
	setInt(&cfg.Server.Burst, "SERVER_BURST")
	setDuration(&cfg.Server.WSInterval, "SERVER_WS_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.LogFormat, "LOG_FORMAT")
	setStr(&cfg.MergeCondition, "MERGE_CONDITION")
	setDecimal(&cfg.MergeAmount, "MERGE_AMOUNT")
	setBool(&cfg.MergeNegRisk, "MERGE_NEG_RISK")
	setStringSlice(&cfg.MergeTokenIDs, "MERGE_TOKEN_IDS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present, non-empty and parses.
// ---------------------------------------------------------------------------

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
