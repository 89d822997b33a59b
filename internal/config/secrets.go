package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Exchange
	out.Exchange = cfg.Exchange
	redact(&out.Exchange.APIKey)
	redact(&out.Exchange.APISecret)
	redact(&out.Exchange.SecretPassword)

	// Database
	out.Database = cfg.Database
	redact(&out.Database.DSN)
	redact(&out.Database.Password)

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

	// Copy slices/maps so mutations to the redacted copy cannot affect the
	// original.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Trading.PrimaryCurrencies != nil {
		out.Trading.PrimaryCurrencies = make([]string, len(cfg.Trading.PrimaryCurrencies))
		copy(out.Trading.PrimaryCurrencies, cfg.Trading.PrimaryCurrencies)
	}
	if cfg.Trading.FixedReserve != nil {
		out.Trading.FixedReserve = make(map[string]string, len(cfg.Trading.FixedReserve))
		for k, v := range cfg.Trading.FixedReserve {
			out.Trading.FixedReserve[k] = v
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
