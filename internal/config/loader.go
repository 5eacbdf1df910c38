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
// built-in defaults, applies ORCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ORCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "ORCH_VENUE_BASE_URL")
	setStr(&cfg.Venue.WSURL, "ORCH_VENUE_WS_URL")
	setStr(&cfg.Venue.APIKey, "ORCH_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "ORCH_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "ORCH_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "ORCH_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.RequestTimeout, "ORCH_VENUE_REQUEST_TIMEOUT")
	setInt(&cfg.Venue.MaxRetries, "ORCH_VENUE_MAX_RETRIES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORCH_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLSeconds, "ORCH_REDIS_CACHE_TTL_SECONDS")
	setInt(&cfg.Redis.StreamMaxLen, "ORCH_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ORCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORCH_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "ORCH_S3_ARCHIVE_RETENTION_DAYS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDailyLossPct, "ORCH_RISK_MAX_DAILY_LOSS_PCT")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "ORCH_RISK_MAX_DRAWDOWN_PCT")
	setInt(&cfg.Risk.MaxConsecutiveLosses, "ORCH_RISK_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Risk.MaxPortfolioHeatPct, "ORCH_RISK_MAX_PORTFOLIO_HEAT_PCT")
	setFloat64(&cfg.Risk.MaxVaRPct, "ORCH_RISK_MAX_VAR_PCT")
	setFloat64(&cfg.Risk.MaxPositionSizePct, "ORCH_RISK_MAX_POSITION_SIZE_PCT")
	setFloat64(&cfg.Risk.MinStopPct, "ORCH_RISK_MIN_STOP_PCT")
	setFloat64(&cfg.Risk.VolatilitySpike, "ORCH_RISK_VOLATILITY_SPIKE")
	setDuration(&cfg.Risk.CooldownPeriod, "ORCH_RISK_COOLDOWN_PERIOD")

	// ── Safety ──
	setDuration(&cfg.Safety.CheckInterval, "ORCH_SAFETY_CHECK_INTERVAL")
	setInt64(&cfg.Safety.MaxLatencyMs, "ORCH_SAFETY_MAX_LATENCY_MS")
	setInt(&cfg.Safety.MinQuota, "ORCH_SAFETY_MIN_QUOTA")

	// ── Perf ──
	setInt(&cfg.Perf.WindowSize, "ORCH_PERF_WINDOW_SIZE")
	setFloat64(&cfg.Perf.RiskFreeRate, "ORCH_PERF_RISK_FREE_RATE")
	setFloat64(&cfg.Perf.MinWinRate, "ORCH_PERF_MIN_WIN_RATE")
	setFloat64(&cfg.Perf.MinProfitFactor, "ORCH_PERF_MIN_PROFIT_FACTOR")
	setFloat64(&cfg.Perf.MaxDrawdownPct, "ORCH_PERF_MAX_DRAWDOWN_PCT")

	// ── Signal ──
	setStringSlice(&cfg.Signal.Providers, "ORCH_SIGNAL_PROVIDERS")
	setDuration(&cfg.Signal.ProviderTimeout, "ORCH_SIGNAL_PROVIDER_TIMEOUT")
	setDuration(&cfg.Signal.SnapshotInterval, "ORCH_SIGNAL_SNAPSHOT_INTERVAL")
	setInt(&cfg.Signal.AccuracyWindow, "ORCH_SIGNAL_ACCURACY_WINDOW")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ORCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ORCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ORCH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ORCH_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORCH_MODE")
	setStr(&cfg.LogLevel, "ORCH_LOG_LEVEL")
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
