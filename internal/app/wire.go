package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/polyarb/internal/blob/s3"
	"github.com/alanyoungcy/polyarb/internal/cache/redis"
	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
	"github.com/alanyoungcy/polyarb/internal/notify"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
	"github.com/alanyoungcy/polyarb/internal/ratelimit"
	"github.com/alanyoungcy/polyarb/internal/settlement"
	"github.com/alanyoungcy/polyarb/internal/store/postgres"
)

// Dependencies bundles the venue clients and optional infrastructure the
// modes run on. Optional members are nil when their section is disabled.
type Dependencies struct {
	// Venue
	Signer *crypto.Signer
	Clob   *polymarket.ClobClient
	Gamma  *polymarket.GammaClient
	Stream *polymarket.MarketStream
	Gate   *ratelimit.Dispatcher
	Merger *settlement.Merger

	// Persistence
	Executions domain.ExecutionStore
	Audit      domain.AuditStore
	Traded     domain.TradedStore
	Markets    domain.MarketCache
	Bus        domain.EventBus
	Journal    domain.JournalWriter

	Notifier   *notify.Notifier
	Prometheus *metrics.Prometheus
}

// Wire constructs every dependency the configured mode needs and returns a
// cleanup function that releases them in reverse order. Enabled
// infrastructure that cannot be reached is a startup error.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, domain.E(domain.KindStartup, "wire: "+what, err)
	}

	deps := &Dependencies{
		Prometheus: metrics.NewPrometheus(),
		Gate:       ratelimit.NewDispatcher(cfg.Engine.MaxRequestsPerSecond),
		Gamma:      polymarket.NewGammaClient(cfg.Polymarket.GammaHost),
	}

	// --- Wallet ---
	if hasKeySource(cfg) {
		key, err := crypto.LoadKey(crypto.KeySource{
			PrivateKey:       cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			Password:         cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wallet", err)
		}
		deps.Signer = crypto.NewSigner(key, int64(cfg.Polymarket.ChainID))
		logger.InfoContext(ctx, "wallet loaded",
			slog.String("address", deps.Signer.Address().Hex()),
			slog.Int("signature_type", cfg.Polymarket.SignatureType),
		)
	} else if cfg.NeedsWallet() {
		return fail("wallet", fmt.Errorf("mode %q needs a private key", cfg.Mode))
	}

	// --- Venue clients ---
	var builder *polymarket.OrderBuilder
	if deps.Signer != nil {
		builder = polymarket.NewOrderBuilder(deps.Signer, funder(cfg), cfg.Polymarket.SignatureType, cfg.Polymarket.FeeRateBps)
	}
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Signer, builder)
	if b := cfg.Builder; b.ApiKey != "" {
		deps.Clob.SetBuilderCredentials(crypto.Credentials{
			Key:        b.ApiKey,
			Secret:     b.ApiSecret,
			Passphrase: b.ApiPassphrase,
		})
	}
	deps.Stream = polymarket.NewMarketStream(cfg.Polymarket.WsURL)
	deps.Stream.SetSubscribeChunking(cfg.Engine.SubscribeChunk, cfg.Engine.SubscribePause.Duration)

	// --- Settlement ---
	if deps.Signer != nil && cfg.Polymarket.RPCURL != "" && common.IsHexAddress(cfg.Wallet.SafeAddress) {
		eth, err := ethclient.DialContext(ctx, cfg.Polymarket.RPCURL)
		if err != nil {
			return fail("rpc", err)
		}
		closers = append(closers, eth.Close)
		deps.Merger = settlement.NewMerger(eth, deps.Signer, settlement.Config{
			Safe:           common.HexToAddress(cfg.Wallet.SafeAddress),
			ChainID:        int64(cfg.Polymarket.ChainID),
			GasLimit:       cfg.Execution.MergeGasLimit,
			ReceiptTimeout: cfg.Execution.ReceiptTimeout.Duration,
		}, logger)
	}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Supabase.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Executions = postgres.NewExecutionStore(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Traded = redis.NewTradedStore(rc)
		deps.Markets = redis.NewMarketCache(rc)
		deps.Bus = redis.NewEventBus(rc)
		logger.InfoContext(ctx, "redis connected", slog.String("addr", rc.Addr()))
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := sc.Health(ctx); err != nil {
			return fail("s3", err)
		}
		deps.Journal = s3blob.NewJournal(sc)
		logger.InfoContext(ctx, "s3 journal ready", slog.String("bucket", sc.Bucket()))
	}

	deps.Notifier = notify.NewNotifier(senders(cfg.Notify), cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func hasKeySource(cfg *config.Config) bool {
	return cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != ""
}

// funder is the address that holds collateral: the proxy or Safe wallet
// for signature types 1 and 2, otherwise the signing EOA itself.
func funder(cfg *config.Config) string {
	if cfg.Polymarket.SignatureType == 0 {
		return ""
	}
	return cfg.Wallet.SafeAddress
}

func senders(cfg config.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return out
}
