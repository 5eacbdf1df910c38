package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Bots = []BotConfig{{
		ID:              "btc-1m",
		Instrument:      "BTC/USDT",
		Timeframe:       "1m",
		Mode:            "paper",
		Interval:        duration{time.Minute},
		MaxPositionSize: 0.5,
		StopLossPct:     0.02,
		TakeProfitPct:   0.04,
		RiskPerTrade:    0.02,
	}}
	return cfg
}

func TestValidateAcceptsDefaultsWithBot(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "hybrid"
	cfg.Redis.Addr = ""
	cfg.Bots[0].Timeframe = "2m"
	cfg.Bots[0].RiskPerTrade = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "hybrid"`)
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
	assert.Contains(t, err.Error(), `unknown timeframe "2m"`)
	assert.Contains(t, err.Error(), "risk_per_trade must be in (0,0.5]")
}

func TestValidateRequiresCredentialsForTradeMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required for mode trade")

	cfg.Venue.APIKey = "k"
	cfg.Venue.APISecret = "s"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsDuplicateBotIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Bots = append(cfg.Bots, cfg.Bots[0])

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate bot id "btc-1m"`)
}

func TestValidateMonitorModeNeedsNoBots(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[redis]
addr = "redis.internal:6380"

[risk]
cooldown_period = "45m"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 45*time.Minute, cfg.Risk.CooldownPeriod.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 0.05, cfg.Risk.MaxDailyLossPct)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "paper"`), 0o600))

	t.Setenv("ORCH_MODE", "monitor")
	t.Setenv("ORCH_VENUE_API_KEY", "from-env")
	t.Setenv("ORCH_SERVER_RATE_LIMIT", "50")
	t.Setenv("ORCH_SIGNAL_PROVIDERS", "momentum, adaptive")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "from-env", cfg.Venue.APIKey)
	assert.Equal(t, 50, cfg.Server.RateLimit)
	assert.Equal(t, []string{"momentum", "adaptive"}, cfg.Signal.Providers)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Venue.APIKey = "key"
	cfg.Venue.APISecret = "secret"
	cfg.Postgres.Password = "pgpass"
	cfg.Server.APIKey = "serverkey"
	cfg.Notify.TelegramToken = "tg"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Venue.APIKey)
	assert.Equal(t, "***", red.Venue.APISecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// Originals are untouched.
	assert.Equal(t, "key", cfg.Venue.APIKey)
	assert.Equal(t, "secret", cfg.Venue.APISecret)

	// Non-secret fields pass through unchanged.
	assert.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
	assert.Equal(t, cfg.Mode, red.Mode)
}
