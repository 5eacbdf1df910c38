// Package config defines the top-level configuration for the orchestrator
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORCH_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Risk     RiskConfig     `toml:"risk"`
	Safety   SafetyConfig   `toml:"safety"`
	Perf     PerfConfig     `toml:"perf"`
	Signal   SignalConfig   `toml:"signal"`
	Bots     []BotConfig    `toml:"bots"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds exchange REST/WS endpoints and API credentials. The API
// secret can be supplied inline or as an encrypted key file plus password.
type VenueConfig struct {
	BaseURL             string   `toml:"base_url"`
	WSURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestTimeout      duration `toml:"request_timeout"`
	MaxRetries          int      `toml:"max_retries"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	StreamMaxLen    int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the ledger
// archive.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// RiskConfig holds the portfolio-wide risk limits and circuit breaker
// thresholds. Percentages are fractions (0.05 = 5%).
type RiskConfig struct {
	MaxDailyLossPct      float64  `toml:"max_daily_loss_pct"`
	MaxDrawdownPct       float64  `toml:"max_drawdown_pct"`
	MaxConsecutiveLosses int      `toml:"max_consecutive_losses"`
	MaxPortfolioHeatPct  float64  `toml:"max_portfolio_heat_pct"`
	MaxVaRPct            float64  `toml:"max_var_pct"`
	MaxPositionSizePct   float64  `toml:"max_position_size_pct"`
	MinStopPct           float64  `toml:"min_stop_pct"`
	VolatilitySpike      float64  `toml:"volatility_spike"`
	CooldownPeriod       duration `toml:"cooldown_period"`
}

// SafetyConfig holds the exchange health-check thresholds.
type SafetyConfig struct {
	CheckInterval duration `toml:"check_interval"`
	MaxLatencyMs  int64    `toml:"max_latency_ms"`
	MinQuota      int      `toml:"min_quota"`
}

// PerfConfig holds the rolling performance window and alert thresholds.
type PerfConfig struct {
	WindowSize      int     `toml:"window_size"`
	RiskFreeRate    float64 `toml:"risk_free_rate"`
	MinWinRate      float64 `toml:"min_win_rate"`
	MinProfitFactor float64 `toml:"min_profit_factor"`
	MaxDrawdownPct  float64 `toml:"max_drawdown_pct"`
}

// SignalConfig holds signal provider selection and query parameters.
type SignalConfig struct {
	Providers        []string `toml:"providers"`
	ProviderTimeout  duration `toml:"provider_timeout"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	AccuracyWindow   int      `toml:"accuracy_window"`
}

// BotConfig declares one bot in the TOML [[bots]] array.
type BotConfig struct {
	ID              string   `toml:"id"`
	Instrument      string   `toml:"instrument"`
	Timeframe       string   `toml:"timeframe"`
	Mode            string   `toml:"mode"` // "paper" or "live"
	Interval        duration `toml:"interval"`
	AutoStart       bool     `toml:"auto_start"`
	MaxPositionSize float64  `toml:"max_position_size"`
	StopLossPct     float64  `toml:"stop_loss_pct"`
	TakeProfitPct   float64  `toml:"take_profit_pct"`
	RiskPerTrade    float64  `toml:"risk_per_trade"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication; a zero RateLimit disables per-client throttling.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseURL:        "https://api.exchange.local",
			WSURL:          "wss://stream.exchange.local",
			RequestTimeout: duration{10 * time.Second},
			MaxRetries:     3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "orchestrator",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			DB:              0,
			PoolSize:        20,
			MaxRetries:      3,
			CacheTTLSeconds: 30,
			StreamMaxLen:    10000,
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "orchestrator-data",
			UseSSL:               false,
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
		},
		Risk: RiskConfig{
			MaxDailyLossPct:      0.05,
			MaxDrawdownPct:       0.15,
			MaxConsecutiveLosses: 5,
			MaxPortfolioHeatPct:  0.20,
			MaxVaRPct:            0.10,
			MaxPositionSizePct:   0.10,
			MinStopPct:           0.01,
			VolatilitySpike:      0.08,
			CooldownPeriod:       duration{30 * time.Minute},
		},
		Safety: SafetyConfig{
			CheckInterval: duration{30 * time.Second},
			MaxLatencyMs:  2000,
			MinQuota:      10,
		},
		Perf: PerfConfig{
			WindowSize:      1000,
			RiskFreeRate:    0.02,
			MinWinRate:      0.40,
			MinProfitFactor: 1.0,
			MaxDrawdownPct:  0.15,
		},
		Signal: SignalConfig{
			Providers:        []string{"momentum", "meanreversion", "adaptive"},
			ProviderTimeout:  duration{5 * time.Second},
			SnapshotInterval: duration{15 * time.Minute},
			AccuracyWindow:   50,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   300,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"circuit_open", "circuit_closed", "risk_alert", "health_changed"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue credentials are mandatory for live trading.
	if c.Mode == "trade" {
		if c.Venue.APIKey == "" {
			errs = append(errs, "venue: api_key is required for mode trade")
		}
		if c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath == "" {
			errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set for mode trade")
		}
		if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
			errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}
	if c.Venue.RequestTimeout.Duration <= 0 {
		errs = append(errs, "venue: request_timeout must be positive")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1 when enabled")
		}
	}

	// Risk
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		errs = append(errs, "risk: max_daily_loss_pct must be in (0,1)")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		errs = append(errs, "risk: max_drawdown_pct must be in (0,1)")
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		errs = append(errs, "risk: max_consecutive_losses must be >= 1")
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 1 {
		errs = append(errs, "risk: max_position_size_pct must be in (0,1]")
	}
	if c.Risk.CooldownPeriod.Duration <= 0 {
		errs = append(errs, "risk: cooldown_period must be positive")
	}

	// Safety
	if c.Safety.CheckInterval.Duration <= 0 {
		errs = append(errs, "safety: check_interval must be positive")
	}
	if c.Safety.MaxLatencyMs <= 0 {
		errs = append(errs, "safety: max_latency_ms must be positive")
	}
	if c.Safety.MinQuota < 0 {
		errs = append(errs, "safety: min_quota must be >= 0")
	}

	// Perf
	if c.Perf.WindowSize < 10 {
		errs = append(errs, "perf: window_size must be >= 10")
	}

	// Signal
	if len(c.Signal.Providers) == 0 {
		errs = append(errs, "signal: at least one provider must be configured")
	}
	if c.Signal.ProviderTimeout.Duration <= 0 {
		errs = append(errs, "signal: provider_timeout must be positive")
	}

	// Bots
	seen := map[string]bool{}
	for i, b := range c.Bots {
		prefix := fmt.Sprintf("bots[%d]", i)
		if b.ID == "" {
			errs = append(errs, prefix+": id must not be empty")
		} else if seen[b.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate bot id %q", prefix, b.ID))
		}
		seen[b.ID] = true
		if b.Instrument == "" {
			errs = append(errs, prefix+": instrument must not be empty")
		}
		if !validTimeframes[b.Timeframe] {
			errs = append(errs, fmt.Sprintf("%s: unknown timeframe %q", prefix, b.Timeframe))
		}
		if b.Mode != "paper" && b.Mode != "live" {
			errs = append(errs, fmt.Sprintf("%s: mode must be paper or live, got %q", prefix, b.Mode))
		}
		if b.Interval.Duration <= 0 {
			errs = append(errs, prefix+": interval must be positive")
		}
		if b.MaxPositionSize <= 0 {
			errs = append(errs, prefix+": max_position_size must be > 0")
		}
		if b.RiskPerTrade <= 0 || b.RiskPerTrade > 0.5 {
			errs = append(errs, prefix+": risk_per_trade must be in (0,0.5]")
		}
	}
	if c.Mode == "trade" || c.Mode == "paper" {
		if len(c.Bots) == 0 {
			errs = append(errs, "bots: at least one bot must be configured for mode "+c.Mode)
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
