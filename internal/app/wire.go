package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	s3blob "github.com/liqguard/liquidator/internal/blob/s3"
	"github.com/liqguard/liquidator/internal/blockloop"
	"github.com/liqguard/liquidator/internal/cache/redis"
	"github.com/liqguard/liquidator/internal/chain"
	"github.com/liqguard/liquidator/internal/config"
	"github.com/liqguard/liquidator/internal/crypto"
	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/eventrouter"
	"github.com/liqguard/liquidator/internal/execpipeline"
	"github.com/liqguard/liquidator/internal/feed"
	"github.com/liqguard/liquidator/internal/hf"
	"github.com/liqguard/liquidator/internal/notify"
	"github.com/liqguard/liquidator/internal/priceagg"
	"github.com/liqguard/liquidator/internal/registry"
	"github.com/liqguard/liquidator/internal/statemachine"
	"github.com/liqguard/liquidator/internal/store/postgres"
	"github.com/liqguard/liquidator/internal/swap"
)

// liquidationBonus is Aave-v3's default close-factor liquidation bonus.
// It is not exposed as a config knob: the pipeline's profit math assumes
// this fixed value the same way it assumes a fixed 50% close factor.
const liquidationBonus = 0.05

// Dependencies bundles every concrete collaborator the run loop needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Chain        *chain.Client
	Subscriber   domain.EventSubscriber
	Broadcaster  domain.Broadcaster
	Signer       domain.TxSigner
	Quoter       domain.SwapQuoter

	Registry *registry.Registry
	Engine   *hf.Engine
	Prices   *priceagg.Aggregator
	Sources  []domain.PriceSource

	Router    *eventrouter.Router
	Pipeline  *execpipeline.Pipeline
	BlockLoop *blockloop.BlockLoop

	AuditStore    domain.AuditStore
	SnapshotStore *postgres.BorrowerSnapshotStore
	Archiver      domain.Archiver
	PgPool        *pgxpool.Pool

	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Redis       *redis.Client

	Notifier      *notify.Notifier
	AuditNotifier domain.AuditNotifier

	CollateralReserves []domain.ReserveData
	DebtReserves       []domain.ReserveData
}

// notifierAdapter bridges *notify.Notifier's error-returning Notify to the
// void-returning domain.AuditNotifier the core consumes. Delivery failures
// are logged, never propagated: notification is a best-effort side channel.
type notifierAdapter struct {
	n      *notify.Notifier
	logger *slog.Logger
}

func (a *notifierAdapter) Notify(ctx context.Context, event, title, message string) {
	if err := a.n.Notify(ctx, event, title, message); err != nil {
		a.logger.Warn("notify dispatch failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// Wire constructs every concrete dependency from cfg and returns them
// together with a cleanup function that releases resources in reverse
// registration order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Chain client + event subscriber ---
	chainClient, err := chain.New(cfg.Chain.RPCURL, cfg.Chain.PoolAddress, cfg.Chain.OracleAddress, cfg.Chain.NativeAssetAddress)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain client: %w", err)
	}
	deps.Chain = chainClient

	deps.Subscriber = chain.NewSubscriber(chainClient, cfg.Chain.PoolAddress, cfg.Chain.BlockPollInterval.Duration, cfg.Chain.EventConfirmations, logger)

	// --- Broadcaster (relay mode) ---
	var relayClient *chain.Client
	switch strings.ToLower(cfg.Relay.Mode) {
	case "", "none", "public":
		deps.Broadcaster = chain.NewPublicBroadcaster(chainClient)
	case "flashbots", "custom":
		var err error
		relayClient, err = chain.New(cfg.Relay.PrivateRelayURL, cfg.Chain.PoolAddress, cfg.Chain.OracleAddress, cfg.Chain.NativeAssetAddress)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: relay client: %w", err)
		}
		closers = append(closers, func() { relayClient.Raw().Close() })
		deps.Broadcaster = chain.NewPublicBroadcaster(relayClient)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported relay mode %q", cfg.Relay.Mode)
	}

	// --- Signer ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Signer.RawKey,
		EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
		KeyPassword:      cfg.Signer.KeyPassword,
	})
	if err != nil {
		if cfg.Risk.EnableExecution && !cfg.Risk.DryRun {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load signing key: %w", err)
		}
		logger.Warn("no signing key configured; running observe-only", slog.String("error", err.Error()))
	}
	if keyHex != "" {
		signer, err := crypto.NewSigner(keyHex, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: build signer: %w", err)
		}
		deps.Signer = signer
	}

	// --- Swap quoter (flash-loan mode only) ---
	if cfg.Chain.FlashLoanMode {
		deps.Quoter = swap.NewOneInchQuoter(cfg.Chain.OneInchBaseURL, cfg.Chain.OneInchAPIKey, cfg.Chain.ChainID, cfg.Chain.MaxSlippageBps)
	}

	// --- Asset table + HF engine ---
	assetTable, collateralReserves, debtReserves, err := buildAssetTable(ctx, chainClient, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: build asset table: %w", err)
	}
	deps.CollateralReserves = collateralReserves
	deps.DebtReserves = debtReserves
	deps.Engine = hf.New(assetTable, liquidationBonus, logger)

	bands := statemachine.Bands{Watch: cfg.Bands.HFWatch, Critical: cfg.Bands.HFCritical, Liquidatable: cfg.Bands.HFLiquidatable}
	deps.Registry = registry.New(bands, logger)

	// --- Price feeds ---
	deps.Prices = priceagg.New(
		cfg.Feeds.PriceUpdateDebounce.Duration,
		cfg.Feeds.PriceStaleMS.Duration,
		[]domain.PriceSourceName{domain.PriceSourceBinance, domain.PriceSourcePyth},
		logger,
	)
	deps.Sources = buildPriceSources(cfg, logger)

	// --- Redis: locks, rate limiting, price cache (multi-instance collaborators) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.PriceCache = redis.NewPriceCache(redisClient)

	// Outbound RPC calls share the same limiter as the HTTP server so a
	// single instance can't burn through a provider's quota with recompute
	// sweeps and leave the server no headroom.
	chainClient.WithRateLimiter(deps.RateLimiter)
	if relayClient != nil {
		relayClient.WithRateLimiter(deps.RateLimiter)
	}

	// --- Postgres: audit log + borrower snapshots ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PgPool = pool
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.SnapshotStore = postgres.NewBorrowerSnapshotStore(pool)

	// --- S3 archival ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })
	deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore, deps.SnapshotStore)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.AuditNotifier = &notifierAdapter{n: deps.Notifier, logger: logger}

	// --- Event router ---
	deps.Router = eventrouter.New(
		deps.Subscriber, chainClient, deps.Registry, deps.AuditStore, deps.AuditNotifier,
		deps.CollateralReserves, deps.DebtReserves, cfg.Risk.MinDebtUSD, logger,
	)

	// --- Execution pipeline ---
	deps.Pipeline = execpipeline.New(
		deps.Registry, deps.Engine, deps.Prices,
		chainClient, deps.Quoter, deps.Signer, deps.Broadcaster,
		deps.AuditStore, deps.AuditNotifier,
		execpipeline.Config{
			MinDebtUSD:             cfg.Risk.MinDebtUSD,
			MaxGasUSD:              cfg.Risk.MaxGasUSD,
			MinProfitUSD:           cfg.Risk.MinProfitUSD,
			MaxConcurrentTx:        cfg.Risk.MaxConcurrentTx,
			TxCacheTTLBlocks:       cfg.Chain.TxCacheTTLBlocks,
			MaxSlippageBps:         cfg.Chain.MaxSlippageBps,
			EnableExecution:        cfg.Risk.EnableExecution,
			DryRun:                 cfg.Risk.DryRun,
			FlashLoanMode:          cfg.Chain.FlashLoanMode,
			PoolAddress:            cfg.Chain.PoolAddress,
			FlashLiquidatorAddress: cfg.Chain.FlashLiquidatorAddress,
			HFLiquidatable:         cfg.Bands.HFLiquidatable,
			TxTimeout:              cfg.Risk.TxTimeout.Duration,
		},
		logger,
	)

	deps.BlockLoop = blockloop.New(deps.Registry, deps.Engine, deps.Prices, deps.Pipeline, chainClient, deps.SnapshotStore, cfg.Chain.BlockPollInterval.Duration, logger)

	return deps, cleanup, nil
}

// buildPriceSources constructs the off-chain price connectors named in the
// feeds config. Both run against the shared aggregator regardless of which
// exchange or oracle they front.
func buildPriceSources(cfg *config.Config, logger *slog.Logger) []domain.PriceSource {
	var sources []domain.PriceSource
	if cfg.Feeds.BinanceBaseURL != "" && len(cfg.Feeds.BinanceSymbols) > 0 {
		sources = append(sources, feed.NewBinanceConnector(cfg.Feeds.BinanceBaseURL, cfg.Feeds.BinanceSymbols, cfg.Feeds.BinanceSymbolMap, logger))
	}
	if cfg.Feeds.PythBaseURL != "" && len(cfg.Feeds.PythFeedIDs) > 0 {
		sources = append(sources, feed.NewPythConnector(cfg.Feeds.PythBaseURL, cfg.Feeds.PythFeedIDs, cfg.Feeds.PythFeedMap, logger))
	}
	return sources
}

// buildAssetTable resolves the on-chain reserve data (aToken/debt-token
// addresses, decimals) for every configured target asset. Liquidation
// thresholds are not fetched on-chain: Aave-v3 exposes them only through the
// separate protocol data provider contract, which no other SPEC_FULL
// component needs, so the asset table falls back to the conservative
// default threshold for every reserve.
func buildAssetTable(ctx context.Context, client *chain.Client, cfg *config.Config) (*domain.AssetTable, []domain.ReserveData, []domain.ReserveData, error) {
	assets := make([]domain.Asset, 0, len(cfg.Targets.CollateralAssets)+len(cfg.Targets.DebtAssets))
	collateral := make([]domain.ReserveData, 0, len(cfg.Targets.CollateralAssets))
	debt := make([]domain.ReserveData, 0, len(cfg.Targets.DebtAssets))

	for _, addr := range cfg.Targets.CollateralAssets {
		rd, err := client.GetReserveData(ctx, addr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("collateral reserve %s: %w", addr, err)
		}
		rd.LiquidationThreshold = domain.DefaultLiquidationThreshold
		collateral = append(collateral, rd)
		assets = append(assets, domain.Asset{Symbol: addr, Address: rd.Asset, Decimals: rd.Decimals, LiquidationThreshold: rd.LiquidationThreshold})
	}
	for _, addr := range cfg.Targets.DebtAssets {
		rd, err := client.GetReserveData(ctx, addr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("debt reserve %s: %w", addr, err)
		}
		rd.LiquidationThreshold = domain.DefaultLiquidationThreshold
		debt = append(debt, rd)
		assets = append(assets, domain.Asset{Symbol: addr, Address: rd.Asset, Decimals: rd.Decimals, LiquidationThreshold: rd.LiquidationThreshold})
	}

	return domain.NewAssetTable(assets), collateral, debt, nil
}
