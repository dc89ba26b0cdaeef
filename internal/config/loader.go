package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQUIDATOR_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIQUIDATOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "LIQUIDATOR_CHAIN_ID")
	setStr(&cfg.Chain.RPCURL, "LIQUIDATOR_RPC_URL")
	setStr(&cfg.Chain.PoolAddress, "LIQUIDATOR_POOL_ADDRESS")
	setStr(&cfg.Chain.OracleAddress, "LIQUIDATOR_ORACLE_ADDRESS")
	setStr(&cfg.Chain.FlashLiquidatorAddress, "LIQUIDATOR_FLASH_LIQUIDATOR_ADDRESS")
	setStr(&cfg.Chain.OneInchRouterAddress, "LIQUIDATOR_ONE_INCH_ROUTER_ADDRESS")
	setStr(&cfg.Chain.OneInchBaseURL, "LIQUIDATOR_ONE_INCH_BASE_URL")
	setStr(&cfg.Chain.OneInchAPIKey, "LIQUIDATOR_ONE_INCH_API_KEY")
	setStr(&cfg.Chain.NativeAssetAddress, "LIQUIDATOR_NATIVE_ASSET_ADDRESS")
	setInt64(&cfg.Chain.MaxSlippageBps, "LIQUIDATOR_MAX_SLIPPAGE_BPS")
	setUint64(&cfg.Chain.TxCacheTTLBlocks, "LIQUIDATOR_TX_CACHE_TTL_BLOCKS")
	setDuration(&cfg.Chain.BlockPollInterval, "LIQUIDATOR_BLOCK_POLL_INTERVAL")
	setUint64(&cfg.Chain.EventConfirmations, "LIQUIDATOR_EVENT_CONFIRMATIONS")
	setUint64(&cfg.Chain.SeedLookbackBlocks, "LIQUIDATOR_SEED_LOOKBACK_BLOCKS")
	setInt(&cfg.Chain.MaxCandidates, "LIQUIDATOR_MAX_CANDIDATES")
	setBool(&cfg.Chain.FlashLoanMode, "LIQUIDATOR_FLASH_LOAN_MODE")

	// ── Targets ──
	setStringSlice(&cfg.Targets.DebtAssets, "LIQUIDATOR_TARGET_DEBT_ASSETS")
	setStringSlice(&cfg.Targets.CollateralAssets, "LIQUIDATOR_TARGET_COLLATERAL_ASSETS")

	// ── Feeds ──
	setStr(&cfg.Feeds.BinanceBaseURL, "LIQUIDATOR_BINANCE_BASE_URL")
	setStringSlice(&cfg.Feeds.BinanceSymbols, "LIQUIDATOR_BINANCE_SYMBOLS")
	setStr(&cfg.Feeds.PythBaseURL, "LIQUIDATOR_PYTH_BASE_URL")
	setStringSlice(&cfg.Feeds.PythFeedIDs, "LIQUIDATOR_PYTH_FEED_IDS")
	setDuration(&cfg.Feeds.PriceStaleMS, "LIQUIDATOR_PRICE_STALE_MS")
	setDuration(&cfg.Feeds.PriceUpdateDebounce, "LIQUIDATOR_PRICE_UPDATE_DEBOUNCE")

	// ── Bands ──
	setFloat64(&cfg.Bands.HFWatch, "LIQUIDATOR_HF_WATCH")
	setFloat64(&cfg.Bands.HFCritical, "LIQUIDATOR_HF_CRITICAL")
	setFloat64(&cfg.Bands.HFLiquidatable, "LIQUIDATOR_HF_LIQUIDATABLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinProfitUSD, "LIQUIDATOR_MIN_PROFIT_USD")
	setFloat64(&cfg.Risk.MaxGasUSD, "LIQUIDATOR_MAX_GAS_USD")
	setFloat64(&cfg.Risk.MinDebtUSD, "LIQUIDATOR_MIN_DEBT_USD")
	setBool(&cfg.Risk.EnableExecution, "LIQUIDATOR_ENABLE_EXECUTION")
	setBool(&cfg.Risk.DryRun, "LIQUIDATOR_DRY_RUN")
	setInt(&cfg.Risk.MaxConcurrentTx, "LIQUIDATOR_MAX_CONCURRENT_TX")
	setDuration(&cfg.Risk.TxTimeout, "LIQUIDATOR_RISK_TX_TIMEOUT")

	// ── Relay ──
	setStr(&cfg.Relay.Mode, "LIQUIDATOR_RELAY_MODE")
	setStr(&cfg.Relay.PrivateRelayURL, "LIQUIDATOR_PRIVATE_RELAY_URL")

	// ── Signer ──
	setStr(&cfg.Signer.RawKey, "LIQUIDATOR_SIGNER_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "LIQUIDATOR_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "LIQUIDATOR_SIGNER_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LIQUIDATOR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LIQUIDATOR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LIQUIDATOR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LIQUIDATOR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LIQUIDATOR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LIQUIDATOR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LIQUIDATOR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LIQUIDATOR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LIQUIDATOR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LIQUIDATOR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LIQUIDATOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIQUIDATOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIQUIDATOR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIQUIDATOR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LIQUIDATOR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LIQUIDATOR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LIQUIDATOR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIQUIDATOR_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIQUIDATOR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIQUIDATOR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIQUIDATOR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIQUIDATOR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIQUIDATOR_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "LIQUIDATOR_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LIQUIDATOR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LIQUIDATOR_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LIQUIDATOR_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "LIQUIDATOR_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LIQUIDATOR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIQUIDATOR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIQUIDATOR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LIQUIDATOR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "LIQUIDATOR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
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
