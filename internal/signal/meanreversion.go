package signal

import (
	"context"
	"math"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// MeanReversionProvider fades extremes: when the last close strays far from
// the lookback mean it votes for a reversion toward it.
type MeanReversionProvider struct {
	lookback int
	entryZ   float64 // z-score at which conviction reaches full confidence
}

// NewMeanReversionProvider returns a mean reversion provider over the given
// lookback. Defaults to 20 candles and a 2-sigma full-conviction threshold.
func NewMeanReversionProvider(lookback int) *MeanReversionProvider {
	if lookback < 5 {
		lookback = 20
	}
	return &MeanReversionProvider{lookback: lookback, entryZ: 2.0}
}

func (p *MeanReversionProvider) Name() string { return "meanreversion" }

// Predict computes the z-score of the last close against the lookback mean.
// Scores beyond +entryZ vote sell, beyond -entryZ vote buy; inside one sigma
// it holds.
func (p *MeanReversionProvider) Predict(ctx context.Context, window domain.MarketWindow) (domain.Vote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vote{}, err
	}
	if len(window.Candles) < p.lookback {
		return domain.Vote{Source: p.Name(), Action: domain.ActionHold, Confidence: 0}, nil
	}

	candles := window.Candles[len(window.Candles)-p.lookback:]
	var sum float64
	for _, c := range candles {
		sum += c.Close
	}
	mean := sum / float64(len(candles))

	var ss float64
	for _, c := range candles {
		d := c.Close - mean
		ss += d * d
	}
	stddev := math.Sqrt(ss / float64(len(candles)-1))
	if stddev == 0 {
		return domain.Vote{Source: p.Name(), Action: domain.ActionHold, Confidence: 0}, nil
	}

	z := (window.Last() - mean) / stddev
	confidence := math.Min(math.Abs(z)/p.entryZ, 1)

	action := domain.ActionHold
	switch {
	case z > 1:
		action = domain.ActionSell
	case z < -1:
		action = domain.ActionBuy
	default:
		confidence = 0
	}

	return domain.Vote{Source: p.Name(), Action: action, Confidence: confidence}, nil
}
