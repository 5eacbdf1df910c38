package domain

import "time"

// BotMode selects between simulated and real order flow.
type BotMode string

const (
	BotModePaper BotMode = "paper"
	BotModeLive  BotMode = "live"
)

// BotStatus is the lifecycle state of a bot in the registry.
type BotStatus string

const (
	BotStatusStopped BotStatus = "stopped"
	BotStatusRunning BotStatus = "running"
)

// BotConfig holds the per-bot trading parameters supplied at creation.
type BotConfig struct {
	MaxPositionSize float64 // base-currency cap per position
	StopLossPct     float64 // fallback stop distance when no volatility data
	TakeProfitPct   float64 // fallback take-profit distance
	RiskPerTrade    float64 // fraction of balance risked per entry
}

// Bot is one independently scheduled trading unit. Status is mutated by the
// execution loop and by circuit breaker trips; everything else is set at
// creation.
type Bot struct {
	ID         string
	Instrument string
	Timeframe  string
	Mode       BotMode
	Status     BotStatus
	Config     BotConfig
	CreatedAt  time.Time
	StartedAt  *time.Time
	StoppedAt  *time.Time
	HaltReason string // populated when entries are blocked for this bot
}

// Validate checks the config before the bot is admitted to the registry.
func (c BotConfig) Validate() error {
	if c.MaxPositionSize <= 0 {
		return &ValidationError{Field: "maxPositionSize", Reason: "must be positive"}
	}
	if c.StopLossPct < 0 || c.StopLossPct > 1 {
		return &ValidationError{Field: "stopLossPct", Reason: "must be in [0,1]"}
	}
	if c.TakeProfitPct < 0 || c.TakeProfitPct > 1 {
		return &ValidationError{Field: "takeProfitPct", Reason: "must be in [0,1]"}
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 0.5 {
		return &ValidationError{Field: "riskPerTrade", Reason: "must be in (0,0.5]"}
	}
	return nil
}
