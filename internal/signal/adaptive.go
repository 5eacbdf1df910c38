package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

const adaptiveStateVersion = 1

// AdaptiveProvider blends a momentum feature and a reversion feature with
// learned weights. Feedback after settled trades nudges the weights toward
// whichever feature was right, so the blend drifts to match the instrument.
// Its learned state round-trips through Snapshot/Restore.
type AdaptiveProvider struct {
	mu sync.Mutex
	st adaptiveState
}

type adaptiveState struct {
	Version         int     `json:"version"`
	MomentumWeight  float64 `json:"momentum_weight"`
	ReversionWeight float64 `json:"reversion_weight"`
	LearningRate    float64 `json:"learning_rate"`
	Samples         int     `json:"samples"`

	// Features from the last prediction, kept so feedback can attribute the
	// outcome.
	lastMomentum  float64
	lastReversion float64
}

// NewAdaptiveProvider returns an adaptive provider with neutral weights.
func NewAdaptiveProvider() *AdaptiveProvider {
	return &AdaptiveProvider{
		st: adaptiveState{
			Version:         adaptiveStateVersion,
			MomentumWeight:  0.5,
			ReversionWeight: 0.5,
			LearningRate:    0.05,
		},
	}
}

func (p *AdaptiveProvider) Name() string { return "adaptive" }

// Predict scores the window on both features, combines them with the learned
// weights and votes with the sign of the blend.
func (p *AdaptiveProvider) Predict(ctx context.Context, window domain.MarketWindow) (domain.Vote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vote{}, err
	}
	if len(window.Candles) < 20 {
		return domain.Vote{Source: p.Name(), Action: domain.ActionHold, Confidence: 0}, nil
	}

	momentum := momentumScore(window)
	reversion := reversionScore(window)

	p.mu.Lock()
	score := p.st.MomentumWeight*momentum + p.st.ReversionWeight*reversion
	p.st.lastMomentum = momentum
	p.st.lastReversion = reversion
	p.mu.Unlock()

	confidence := math.Min(math.Abs(score), 1)
	action := domain.ActionHold
	switch {
	case score > 0.1:
		action = domain.ActionBuy
	case score < -0.1:
		action = domain.ActionSell
	default:
		confidence = 0
	}

	return domain.Vote{Source: p.Name(), Action: action, Confidence: confidence}, nil
}

// Feedback shifts weight toward the feature that agreed with the realized
// direction (+1 up, -1 down). Weights stay normalized and floored at 0.1.
func (p *AdaptiveProvider) Feedback(realized float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mAgree := math.Signbit(p.st.lastMomentum) == math.Signbit(realized) && p.st.lastMomentum != 0
	rAgree := math.Signbit(p.st.lastReversion) == math.Signbit(realized) && p.st.lastReversion != 0

	lr := p.st.LearningRate
	if mAgree && !rAgree {
		p.st.MomentumWeight += lr
		p.st.ReversionWeight -= lr
	} else if rAgree && !mAgree {
		p.st.ReversionWeight += lr
		p.st.MomentumWeight -= lr
	}

	p.st.MomentumWeight = math.Max(p.st.MomentumWeight, 0.1)
	p.st.ReversionWeight = math.Max(p.st.ReversionWeight, 0.1)
	total := p.st.MomentumWeight + p.st.ReversionWeight
	p.st.MomentumWeight /= total
	p.st.ReversionWeight /= total
	p.st.Samples++
}

// Snapshot serializes the learned state.
func (p *AdaptiveProvider) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Marshal(p.st)
}

// Restore applies a previously saved snapshot. Unknown versions are rejected
// rather than half-applied.
func (p *AdaptiveProvider) Restore(payload []byte) error {
	var st adaptiveState
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("adaptive: decode snapshot: %w", err)
	}
	if st.Version != adaptiveStateVersion {
		return fmt.Errorf("adaptive: unsupported snapshot version %d", st.Version)
	}
	if st.LearningRate <= 0 {
		st.LearningRate = 0.05
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.st = st
	return nil
}

// momentumScore is the normalized 10-candle rate of change, clamped to
// [-1,1].
func momentumScore(window domain.MarketWindow) float64 {
	candles := window.Candles
	ref := candles[len(candles)-10].Close
	if ref == 0 {
		return 0
	}
	roc := (window.Last() - ref) / ref
	return clamp(roc/0.03, -1, 1)
}

// reversionScore is the negated z-score over 20 candles, clamped to [-1,1].
// A stretched-up market scores negative (expect a fall back).
func reversionScore(window domain.MarketWindow) float64 {
	candles := window.Candles[len(window.Candles)-20:]
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
		return 0
	}
	z := (window.Last() - mean) / stddev
	return clamp(-z/2, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
