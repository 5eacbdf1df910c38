package domain

import (
	"math"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketWindow is the recent candle history a decision cycle works from.
// Candles are ordered oldest first; Last() is the live reference price.
type MarketWindow struct {
	Instrument string
	Timeframe  string
	Candles    []Candle
	FetchedAt  time.Time
}

// Last returns the most recent close, or 0 for an empty window.
func (w MarketWindow) Last() float64 {
	if len(w.Candles) == 0 {
		return 0
	}
	return w.Candles[len(w.Candles)-1].Close
}

// Returns computes simple close-to-close returns over the window.
func (w MarketWindow) Returns() []float64 {
	if len(w.Candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(w.Candles)-1)
	for i := 1; i < len(w.Candles); i++ {
		prev := w.Candles[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (w.Candles[i].Close-prev)/prev)
	}
	return out
}

// Volatility is the standard deviation of window returns. Zero for windows
// too short to measure.
func (w MarketWindow) Volatility() float64 {
	rets := w.Returns()
	if len(rets) < 2 {
		return 0
	}
	var sum float64
	for _, r := range rets {
		sum += r
	}
	mean := sum / float64(len(rets))
	var ss float64
	for _, r := range rets {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}

// Regime classifies current market conditions for stop and target scaling.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
	RegimeUnknown  Regime = "unknown"
)
