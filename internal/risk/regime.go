package risk

import (
	"math"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// RegimeConfig tunes the regime classifier thresholds.
type RegimeConfig struct {
	TrendPeriod       int     // candles for the trend measurement
	TrendThreshold    float64 // net move over the period counting as a trend
	VolatileThreshold float64 // window volatility counting as volatile
}

// DefaultRegimeConfig returns thresholds suited to crypto timeframes.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		TrendPeriod:       20,
		TrendThreshold:    0.03,
		VolatileThreshold: 0.02,
	}
}

// ClassifyRegime buckets the window into trending, ranging or volatile.
// Volatility wins over trend: a fast market is volatile even when it is
// also moving directionally.
func ClassifyRegime(window domain.MarketWindow, cfg RegimeConfig) domain.Regime {
	if len(window.Candles) < cfg.TrendPeriod {
		return domain.RegimeUnknown
	}

	if window.Volatility() >= cfg.VolatileThreshold {
		return domain.RegimeVolatile
	}

	candles := window.Candles[len(window.Candles)-cfg.TrendPeriod:]
	start := candles[0].Close
	if start == 0 {
		return domain.RegimeUnknown
	}
	move := math.Abs(window.Last()-start) / start
	if move >= cfg.TrendThreshold {
		return domain.RegimeTrending
	}
	return domain.RegimeRanging
}
