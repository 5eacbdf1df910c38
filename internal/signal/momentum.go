package signal

import (
	"context"
	"math"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// MomentumProvider votes with the direction of a fast/slow moving average
// crossover, scaled by the strength of the separation.
type MomentumProvider struct {
	fast int
	slow int
}

// NewMomentumProvider returns a momentum provider with the given lookbacks.
// Defaults of 10/30 apply when the arguments are not sane.
func NewMomentumProvider(fast, slow int) *MomentumProvider {
	if fast < 2 || slow <= fast {
		fast, slow = 10, 30
	}
	return &MomentumProvider{fast: fast, slow: slow}
}

func (p *MomentumProvider) Name() string { return "momentum" }

// Predict compares the fast and slow simple moving averages of closes. The
// confidence grows with the relative separation between them, saturating at
// a 2% gap.
func (p *MomentumProvider) Predict(ctx context.Context, window domain.MarketWindow) (domain.Vote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vote{}, err
	}
	if len(window.Candles) < p.slow {
		return domain.Vote{Source: p.Name(), Action: domain.ActionHold, Confidence: 0}, nil
	}

	fast := sma(window.Candles, p.fast)
	slow := sma(window.Candles, p.slow)
	if slow == 0 {
		return domain.Vote{Source: p.Name(), Action: domain.ActionHold, Confidence: 0}, nil
	}

	gap := (fast - slow) / slow
	confidence := math.Min(math.Abs(gap)/0.02, 1)

	action := domain.ActionHold
	switch {
	case gap > 0:
		action = domain.ActionBuy
	case gap < 0:
		action = domain.ActionSell
	}

	return domain.Vote{Source: p.Name(), Action: action, Confidence: confidence}, nil
}

// sma averages the closes of the last n candles.
func sma(candles []domain.Candle, n int) float64 {
	if n > len(candles) {
		n = len(candles)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close
	}
	return sum / float64(n)
}
