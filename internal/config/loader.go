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
// built-in defaults, applies ARBITRON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known ARBITRON_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "ARBITRON_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.PublicWSURL, "ARBITRON_EXCHANGE_PUBLIC_WS_URL")
	setStr(&cfg.Exchange.PrivateWSURL, "ARBITRON_EXCHANGE_PRIVATE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "ARBITRON_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "ARBITRON_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "ARBITRON_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "ARBITRON_EXCHANGE_SECRET_PASSWORD")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Markets, "ARBITRON_TRADING_MARKETS")
	setStringSlice(&cfg.Trading.InstantMarkets, "ARBITRON_TRADING_INSTANT_MARKETS")
	setStringSlice(&cfg.Trading.PrimaryCurrencies, "ARBITRON_TRADING_PRIMARY_CURRENCIES")
	setStr(&cfg.Trading.MinTradeAmount, "ARBITRON_TRADING_MIN_TRADE_AMOUNT")
	setDuration(&cfg.Trading.PathFindInterval, "ARBITRON_TRADING_PATH_FIND_INTERVAL")
	setInt(&cfg.Trading.ProfitTimeoutMin, "ARBITRON_TRADING_PROFIT_TIMEOUT_MIN")
	setDuration(&cfg.Trading.BlacklistTTL, "ARBITRON_TRADING_BLACKLIST_TTL")
	setInt(&cfg.Trading.MaxHops, "ARBITRON_TRADING_MAX_HOPS")
	setInt(&cfg.Trading.InstantRetryLimits.NotEnoughCrypto, "ARBITRON_TRADING_INSTANT_RETRY_NOT_ENOUGH_CRYPTO")

	// ── Database ──
	setStr(&cfg.Database.DSN, "ARBITRON_DATABASE_DSN")
	setStr(&cfg.Database.Host, "ARBITRON_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ARBITRON_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ARBITRON_DATABASE_NAME")
	setStr(&cfg.Database.User, "ARBITRON_DATABASE_USER")
	setStr(&cfg.Database.Password, "ARBITRON_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ARBITRON_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "ARBITRON_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ARBITRON_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ARBITRON_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBITRON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBITRON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBITRON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBITRON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBITRON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBITRON_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBITRON_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBITRON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBITRON_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBITRON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBITRON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBITRON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBITRON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBITRON_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "ARBITRON_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBITRON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBITRON_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBITRON_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBITRON_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "ARBITRON_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBITRON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBITRON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBITRON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBITRON_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBITRON_MODE")
	setStr(&cfg.LogLevel, "ARBITRON_LOG_LEVEL")
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
