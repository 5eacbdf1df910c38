package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

func vote(source string, action domain.Action, conf, weight float64) domain.Vote {
	return domain.Vote{Source: source, Action: action, Confidence: conf, Weight: weight}
}

func TestCombineEmptyVotes(t *testing.T) {
	d := New().Combine(nil)
	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Zero(t, d.Confidence)
}

func TestCombineThreeWayVote(t *testing.T) {
	votes := []domain.Vote{
		vote("momentum", domain.ActionBuy, 0.8, 1),
		vote("meanreversion", domain.ActionSell, 0.6, 1),
		vote("adaptive", domain.ActionHold, 0.4, 1),
	}
	d := New().Combine(votes)
	require.Equal(t, domain.ActionBuy, d.Action)
	assert.InDelta(t, 0.8/3.0, d.Confidence, 1e-9)
	assert.Len(t, d.Votes, 3)
}

func TestCombineTieBreaksToHold(t *testing.T) {
	votes := []domain.Vote{
		vote("a", domain.ActionBuy, 0.5, 1),
		vote("b", domain.ActionSell, 0.5, 1),
	}
	d := New().Combine(votes)
	assert.Equal(t, domain.ActionHold, d.Action)
}

func TestCombineWeightsScaleTallies(t *testing.T) {
	votes := []domain.Vote{
		vote("accurate", domain.ActionSell, 0.5, 2),
		vote("noisy", domain.ActionBuy, 0.9, 1),
	}
	d := New().Combine(votes)
	// sell tally 1.0 beats buy tally 0.9; totalWeight 3.
	require.Equal(t, domain.ActionSell, d.Action)
	assert.InDelta(t, 1.0/3.0, d.Confidence, 1e-9)
}

func TestCombineConfidenceBounded(t *testing.T) {
	cases := [][]domain.Vote{
		{vote("a", domain.ActionBuy, 1, 1)},
		{vote("a", domain.ActionBuy, 1, 5), vote("b", domain.ActionBuy, 1, 5)},
		{vote("a", domain.ActionSell, 0.2, 0.5), vote("b", domain.ActionHold, 0.3, 0)},
		{vote("a", domain.ActionBuy, 2.5, 1)}, // out-of-range confidence clamps
		{vote("a", domain.ActionBuy, -1, 1)},
	}
	for _, votes := range cases {
		d := New().Combine(votes)
		assert.GreaterOrEqual(t, d.Confidence, 0.0)
		assert.LessOrEqual(t, d.Confidence, 1.0)
	}
}

func TestCombineZeroWeightVoteIgnored(t *testing.T) {
	votes := []domain.Vote{
		vote("dead", domain.ActionSell, 1, 0),
		vote("live", domain.ActionBuy, 0.4, 1),
	}
	d := New().Combine(votes)
	require.Equal(t, domain.ActionBuy, d.Action)
	assert.InDelta(t, 0.4, d.Confidence, 1e-9)
}
