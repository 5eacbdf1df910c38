// Package ensemble merges weighted votes from independent signal providers
// into a single trading decision.
package ensemble

import (
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// Combiner tallies confidence-weighted votes per action and picks the winner.
// It is stateless and safe for concurrent use.
type Combiner struct{}

// New returns a ready Combiner.
func New() *Combiner {
	return &Combiner{}
}

// Combine reduces votes to one decision. For each action the tally is the sum
// of confidence x weight over votes choosing it; the winner is the highest
// tally, with ties broken in favor of hold. Output confidence is
// tally[winner] / totalWeight. An empty vote set yields {hold, 0}.
func (c *Combiner) Combine(votes []domain.Vote) domain.Decision {
	now := time.Now().UTC()
	if len(votes) == 0 {
		return domain.Decision{Action: domain.ActionHold, Confidence: 0, DecidedAt: now}
	}

	tally := map[domain.Action]float64{}
	var totalWeight float64
	for _, v := range votes {
		w := v.Weight
		if w < 0 {
			w = 0
		}
		conf := v.Confidence
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		tally[v.Action] += conf * w
		totalWeight += w
	}

	winner := pickWinner(tally)

	confidence := 0.0
	if totalWeight > 0 {
		confidence = tally[winner] / totalWeight
	}

	return domain.Decision{
		Action:     winner,
		Confidence: confidence,
		Votes:      votes,
		DecidedAt:  now,
	}
}

// pickWinner returns the action with the highest tally. Any exact tie for the
// top tally resolves to hold, including when hold itself is not among the
// tied actions.
func pickWinner(tally map[domain.Action]float64) domain.Action {
	best := domain.ActionHold
	bestTally := tally[domain.ActionHold]
	tied := false

	for _, action := range []domain.Action{domain.ActionBuy, domain.ActionSell} {
		t := tally[action]
		switch {
		case t > bestTally:
			best = action
			bestTally = t
			tied = false
		case t == bestTally && action != best:
			tied = true
		}
	}
	if tied {
		return domain.ActionHold
	}
	return best
}
