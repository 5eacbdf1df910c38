package domain

import "time"

// RiskState aggregates loss tracking across the portfolio. Mutated only by
// trade settlement; DailyLoss resets at the daily boundary.
type RiskState struct {
	Balance           float64
	HighWaterMark     float64
	CurrentDrawdown   float64 // <= 0
	MaxDrawdown       float64 // <= 0, most negative observed
	ConsecutiveLosses int
	DailyLoss         float64 // accumulated losses since the daily boundary, >= 0
	KellyFraction     float64
	PortfolioHeat     float64 // open risk as fraction of balance
	VaR95             float64
	UpdatedAt         time.Time
}

// CircuitState is a read-only view of the circuit breaker.
type CircuitState struct {
	IsOpen        bool
	Reason        string
	LastTrippedAt time.Time
}

// HealthStatus is the safety monitor's latest verdict on the venue.
type HealthStatus struct {
	IsHealthy         bool
	Reason            string
	LatencyMs         int64
	APIQuotaRemaining int
	Errors            []string
	LastCheckAt       time.Time
}

// RiskCounter is the persisted daily risk accumulator, keyed by UTC date.
type RiskCounter struct {
	Day        time.Time // truncated to midnight UTC
	DailyLoss  float64
	TradeCount int
	UpdatedAt  time.Time
}

// PerformanceMetrics is the rolling statistics snapshot reported in system
// status and used for alerting.
type PerformanceMetrics struct {
	TotalTrades       int
	WinRate           float64
	AvgWin            float64
	AvgLoss           float64
	ProfitFactor      float64
	SharpeRatio       float64
	TotalPnL          float64
	MaxDrawdown       float64
	ConsecutiveWins   int
	ConsecutiveLosses int
	ComputedAt        time.Time
}
