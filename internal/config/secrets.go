package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields
// replaced by the redaction placeholder "***". Use this when logging or
// printing the active configuration so secrets are never accidentally
// exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Chain
	out.Chain = cfg.Chain
	redact(&out.Chain.OneInchAPIKey)

	// Signer
	out.Signer = cfg.Signer
	redact(&out.Signer.RawKey)
	redact(&out.Signer.KeyPassword)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Targets.DebtAssets != nil {
		out.Targets.DebtAssets = make([]string, len(cfg.Targets.DebtAssets))
		copy(out.Targets.DebtAssets, cfg.Targets.DebtAssets)
	}
	if cfg.Targets.CollateralAssets != nil {
		out.Targets.CollateralAssets = make([]string, len(cfg.Targets.CollateralAssets))
		copy(out.Targets.CollateralAssets, cfg.Targets.CollateralAssets)
	}

	// Copy maps so mutations to the redacted copy do not affect the
	// original.
	if cfg.Feeds.BinanceSymbolMap != nil {
		out.Feeds.BinanceSymbolMap = make(map[string]string, len(cfg.Feeds.BinanceSymbolMap))
		for k, v := range cfg.Feeds.BinanceSymbolMap {
			out.Feeds.BinanceSymbolMap[k] = v
		}
	}
	if cfg.Feeds.PythFeedMap != nil {
		out.Feeds.PythFeedMap = make(map[string]string, len(cfg.Feeds.PythFeedMap))
		for k, v := range cfg.Feeds.PythFeedMap {
			out.Feeds.PythFeedMap[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
