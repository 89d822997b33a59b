// Package config defines the top-level configuration for arbitron and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBITRON_* environment
// variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds the credentials and endpoints for the exchange
// adapter (spec §6's "environment variables configure API credentials").
type ExchangeConfig struct {
	BaseURL      string `toml:"base_url"`
	PublicWSURL  string `toml:"public_ws_url"`
	PrivateWSURL string `toml:"private_ws_url"`
	APIKey       string `toml:"api_key"`
	// APISecret is the plaintext API secret, normally left empty in favor of
	// EncryptedSecretPath+SecretPassword; only meant for local development.
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// InstantRetryLimitsConfig holds the Instant-Trade Executor's per-error
// retry budgets (spec §4.4/§6 `instantRetryLimits`). The values are loaded
// and validated but not passed to the executor, which uses its own fixed
// NotEnoughCrypto budget of 3 (instant.maxNotEnoughCryptoRetries).
type InstantRetryLimitsConfig struct {
	NotEnoughCrypto int `toml:"not_enough_crypto"`
}

// TradingConfig carries the core engine parameters named verbatim in spec
// §6's CLI/config surface.
type TradingConfig struct {
	// Markets is the static universe the Path Enumerator searches over,
	// "BASE_QUOTE" pairs (spec §4.3's "static universe of markets").
	Markets []string `toml:"markets"`
	// InstantMarkets is the subset of Markets executed at Instant speed on
	// every hop; everything else defaults to Delayed (market-made). Not
	// named explicitly by spec.md, which only requires each step be
	// annotated Instant or Delayed — resolved here as an operator-tunable
	// classification rather than a hard-coded rule.
	InstantMarkets []string `toml:"instant_markets"`
	// PrimaryCurrencies is the set of currencies every path must start and
	// end in (spec §4.3's endCurrencies).
	PrimaryCurrencies []string `toml:"primary_currencies"`
	// FixedReserve is the per-currency balance the top-level Trader never
	// commits to a new intent, keyed by currency symbol; values are decimal
	// strings for exact round-trips.
	FixedReserve       map[string]string        `toml:"fixed_reserve"`
	MinTradeAmount     string                   `toml:"min_trade_amount"`
	PathFindInterval   duration                 `toml:"path_find_interval"`
	ProfitTimeoutMin   int                      `toml:"profit_timeout_min"`
	BlacklistTTL       duration                 `toml:"blacklist_ttl"`
	MaxHops            int                      `toml:"max_hops"`
	InstantRetryLimits InstantRetryLimitsConfig `toml:"instant_retry_limits"`
}

// MinTradeAmountDecimal parses MinTradeAmount, returning decimal.Zero if
// unset.
func (t TradingConfig) MinTradeAmountDecimal() (decimal.Decimal, error) {
	if strings.TrimSpace(t.MinTradeAmount) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(t.MinTradeAmount)
}

// ParsedMarkets parses Markets into domain.Market values.
func (t TradingConfig) ParsedMarkets() ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(t.Markets))
	for _, s := range t.Markets {
		m, err := domain.ParseMarket(s)
		if err != nil {
			return nil, fmt.Errorf("trading: markets: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// SpeedOf classifies a market as Instant or Delayed, per InstantMarkets.
func (t TradingConfig) SpeedOf(m domain.Market) domain.Speed {
	for _, s := range t.InstantMarkets {
		if s == m.String() {
			return domain.Instant
		}
	}
	return domain.Delayed
}

// FixedReserveDecimal parses the FixedReserve map into decimals, keyed by
// currency symbol.
func (t TradingConfig) FixedReserveDecimal() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(t.FixedReserve))
	for cur, amt := range t.FixedReserve {
		d, err := decimal.NewFromString(amt)
		if err != nil {
			return nil, fmt.Errorf("trading: fixed_reserve[%s]: %w", cur, err)
		}
		out[cur] = d
	}
	return out, nil
}

// DatabaseConfig holds PostgreSQL connection parameters for the Durability
// Journal.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters, used by the outbound
// rate limiter and the Trader's leader-election lock.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold-archiving
// completed transactions.
type S3Config struct {
	Enabled         bool   `toml:"enabled"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKey       string `toml:"access_key"`
	SecretKey       string `toml:"secret_key"`
	UseSSL          bool   `toml:"use_ssl"`
	ForcePathStyle  bool   `toml:"force_path_style"`
	RetentionDays   int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// ServerConfig holds the admin HTTP server's parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, requires every admin API request to carry it as a
	// Bearer token or X-API-Key header (middleware.Auth). Left empty in
	// local development.
	APIKey string `toml:"api_key"`
	// RateLimitPerMinute bounds admin API requests per client IP; 0 disables
	// the limiter.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:      "https://api.poloniex.com",
			PublicWSURL:  "wss://ws.poloniex.com/ws/public",
			PrivateWSURL: "wss://ws.poloniex.com/ws/private",
		},
		Trading: TradingConfig{
			Markets:           []string{"BTC_USDT", "ETH_USDT", "ETH_BTC"},
			InstantMarkets:    []string{},
			PrimaryCurrencies: []string{"USDT", "BTC"},
			FixedReserve:      map[string]string{},
			MinTradeAmount:    "1",
			PathFindInterval:  duration{2 * time.Second},
			ProfitTimeoutMin:  40,
			BlacklistTTL:      duration{10 * time.Minute},
			MaxHops:           3,
			InstantRetryLimits: InstantRetryLimitsConfig{
				NotEnoughCrypto: 3,
			},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbitron",
			User:          "arbitron",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbitron-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"intent_started", "intent_completed", "intent_unfilled", "market_blacklisted", "not_profitable_replan"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange — required for any mode that runs the trading core.
	needsExchange := c.Mode == "trade" || c.Mode == "full"
	if needsExchange {
		if c.Exchange.BaseURL == "" {
			errs = append(errs, "exchange: base_url must not be empty for mode "+c.Mode)
		}
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key must not be empty for mode "+c.Mode)
		}
		if c.Exchange.PublicWSURL == "" {
			errs = append(errs, "exchange: public_ws_url must not be empty for mode "+c.Mode)
		}
		if c.Exchange.PrivateWSURL == "" {
			errs = append(errs, "exchange: private_ws_url must not be empty for mode "+c.Mode)
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for mode "+c.Mode)
		}
	}

	// Trading
	if len(c.Trading.Markets) == 0 {
		errs = append(errs, "trading: markets must not be empty")
	}
	if _, err := c.Trading.ParsedMarkets(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(c.Trading.PrimaryCurrencies) == 0 {
		errs = append(errs, "trading: primary_currencies must not be empty")
	}
	if _, err := c.Trading.MinTradeAmountDecimal(); err != nil {
		errs = append(errs, "trading: min_trade_amount: "+err.Error())
	}
	if _, err := c.Trading.FixedReserveDecimal(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Trading.PathFindInterval.Duration <= 0 {
		errs = append(errs, "trading: path_find_interval must be > 0")
	}
	if c.Trading.ProfitTimeoutMin <= 0 {
		errs = append(errs, "trading: profit_timeout_min must be > 0")
	}
	if c.Trading.BlacklistTTL.Duration <= 0 {
		errs = append(errs, "trading: blacklist_ttl must be > 0")
	}
	if c.Trading.MaxHops < 1 {
		errs = append(errs, "trading: max_hops must be >= 1")
	}
	if c.Trading.InstantRetryLimits.NotEnoughCrypto < 0 {
		errs = append(errs, "trading: instant_retry_limits.not_enough_crypto must be >= 0")
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archiving is enabled.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays <= 0 {
			errs = append(errs, "s3: retention_days must be > 0 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
