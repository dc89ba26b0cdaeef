// Package config defines the top-level configuration for the liquidator
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LIQUIDATOR_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Targets  TargetsConfig  `toml:"targets"`
	Feeds    FeedsConfig    `toml:"feeds"`
	Bands    BandsConfig    `toml:"bands"`
	Risk     RiskConfig     `toml:"risk"`
	Relay    RelayConfig    `toml:"relay"`
	Signer   SignerConfig   `toml:"signer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds RPC and contract addresses. ChainID and RPCURL are
// startup-only: changing them requires a restart.
type ChainConfig struct {
	ChainID                int64    `toml:"chain_id"`
	RPCURL                 string   `toml:"rpc_url"`
	PoolAddress            string   `toml:"pool_address"`
	OracleAddress          string   `toml:"oracle_address"`
	FlashLiquidatorAddress string   `toml:"flash_liquidator_address"`
	OneInchRouterAddress   string   `toml:"one_inch_router_address"`
	OneInchBaseURL         string   `toml:"one_inch_base_url"`
	OneInchAPIKey          string   `toml:"one_inch_api_key"`
	NativeAssetAddress     string   `toml:"native_asset_address"`
	MaxSlippageBps         int64    `toml:"max_slippage_bps"`
	TxCacheTTLBlocks       uint64   `toml:"tx_cache_ttl_blocks"`
	BlockPollInterval      duration `toml:"block_poll_interval"`
	EventConfirmations     uint64   `toml:"event_confirmations"`
	SeedLookbackBlocks     uint64   `toml:"seed_lookback_blocks"`
	MaxCandidates          int      `toml:"max_candidates"`
	FlashLoanMode          bool     `toml:"flash_loan_mode"`
}

// TargetsConfig lists the reserves the agent tracks.
type TargetsConfig struct {
	DebtAssets       []string `toml:"debt_assets"`
	CollateralAssets []string `toml:"collateral_assets"`
}

// FeedsConfig configures the two off-chain price sources and their mapping
// onto internal asset addresses.
type FeedsConfig struct {
	BinanceBaseURL   string            `toml:"binance_base_url"`
	BinanceSymbols   []string          `toml:"binance_symbols"`
	BinanceSymbolMap map[string]string `toml:"binance_symbol_map"` // lowercase symbol -> asset address

	PythBaseURL string            `toml:"pyth_base_url"`
	PythFeedIDs []string          `toml:"pyth_feed_ids"`
	PythFeedMap map[string]string `toml:"pyth_feed_map"` // lowercase feed id -> asset address

	PriceStaleMS        duration `toml:"price_stale_ms"`
	PriceUpdateDebounce duration `toml:"price_update_debounce"`
}

// BandsConfig holds the health-factor boundaries. Validation enforces
// Watch > Critical > Liquidatable.
type BandsConfig struct {
	HFWatch        float64 `toml:"hf_watch"`
	HFCritical     float64 `toml:"hf_critical"`
	HFLiquidatable float64 `toml:"hf_liquidatable"`
}

// RiskConfig holds the profit, gas, and concurrency gates.
type RiskConfig struct {
	MinProfitUSD    float64  `toml:"min_profit_usd"`
	MaxGasUSD       float64  `toml:"max_gas_usd"`
	MinDebtUSD      float64  `toml:"min_debt_usd"`
	EnableExecution bool     `toml:"enable_execution"`
	DryRun          bool     `toml:"dry_run"`
	MaxConcurrentTx int      `toml:"max_concurrent_tx"`
	TxTimeout       duration `toml:"tx_timeout"`
}

// RelayConfig selects the broadcast transport.
type RelayConfig struct {
	Mode            string `toml:"mode"` // none | flashbots | custom
	PrivateRelayURL string `toml:"private_relay_url"`
}

// SignerConfig resolves the hot-wallet key. Exactly one of RawKey or
// EncryptedKeyPath should be set.
type SignerConfig struct {
	RawKey           string `toml:"raw_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds audit-log and snapshot store connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds distributed-lock, rate-limit, and price-cache
// connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds the read-only operator HTTP surface.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds best-effort notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5s" or "500ms" via encoding.TextUnmarshaler.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "1s" or "500ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the recognized defaults.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			MaxSlippageBps:     50,
			TxCacheTTLBlocks:   5,
			BlockPollInterval:  duration{time.Second},
			EventConfirmations: 0,
			SeedLookbackBlocks: 100_000,
			MaxCandidates:      50_000,
			OneInchBaseURL:     "https://api.1inch.dev/swap/v6.0",
		},
		Feeds: FeedsConfig{
			BinanceBaseURL:      "wss://stream.binance.com:9443",
			PythBaseURL:         "https://hermes.pyth.network",
			BinanceSymbolMap:    map[string]string{},
			PythFeedMap:         map[string]string{},
			PriceStaleMS:        duration{5 * time.Second},
			PriceUpdateDebounce: duration{500 * time.Millisecond},
		},
		Bands: BandsConfig{
			HFWatch:        1.10,
			HFCritical:     1.04,
			HFLiquidatable: 1.000,
		},
		Risk: RiskConfig{
			MinProfitUSD:    50,
			MaxGasUSD:       20,
			MinDebtUSD:      50,
			EnableExecution: false,
			DryRun:          true,
			MaxConcurrentTx: 1,
			TxTimeout:       duration{60 * time.Second},
		},
		Relay: RelayConfig{
			Mode: "none",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "liquidator",
			User:          "liquidator",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "liquidator-archive",
			ForcePathStyle:  true,
			RetentionDays:   90,
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"liquidation.executed", "liquidation.skipped", "error"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validRelayModes = map[string]bool{
	"none":      true,
	"flashbots": true,
	"custom":    true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.PoolAddress == "" {
		errs = append(errs, "chain: pool_address must not be empty")
	}
	if c.Chain.OracleAddress == "" {
		errs = append(errs, "chain: oracle_address must not be empty")
	}
	if c.Chain.FlashLoanMode && c.Chain.FlashLiquidatorAddress == "" {
		errs = append(errs, "chain: flash_liquidator_address is required when flash_loan_mode is enabled")
	}
	if c.Chain.MaxSlippageBps < 0 || c.Chain.MaxSlippageBps > 10000 {
		errs = append(errs, "chain: max_slippage_bps must be within [0, 10000]")
	}

	if c.Bands.HFWatch <= c.Bands.HFCritical || c.Bands.HFCritical <= c.Bands.HFLiquidatable {
		errs = append(errs, fmt.Sprintf("bands: must satisfy hf_watch > hf_critical > hf_liquidatable, got %.4f > %.4f > %.4f",
			c.Bands.HFWatch, c.Bands.HFCritical, c.Bands.HFLiquidatable))
	}

	if c.Risk.MaxConcurrentTx < 1 {
		errs = append(errs, "risk: max_concurrent_tx must be >= 1")
	}
	if c.Risk.MinDebtUSD < 0 {
		errs = append(errs, "risk: min_debt_usd must be >= 0")
	}
	if c.Risk.EnableExecution && !c.Risk.DryRun {
		if c.Signer.RawKey == "" && c.Signer.EncryptedKeyPath == "" {
			errs = append(errs, "signer: raw_key or encrypted_key_path is required when enable_execution is true and dry_run is false")
		}
	}

	if !validRelayModes[strings.ToLower(c.Relay.Mode)] {
		errs = append(errs, fmt.Sprintf("relay: unknown mode %q (valid: none, flashbots, custom)", c.Relay.Mode))
	}
	if strings.ToLower(c.Relay.Mode) == "custom" && c.Relay.PrivateRelayURL == "" {
		errs = append(errs, "relay: private_relay_url is required when mode is custom")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
