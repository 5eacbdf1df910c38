// Package signal defines the provider contract for predictive signal sources
// and the fan-out machinery that queries them each decision cycle.
package signal

import (
	"context"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// Provider is a black-box predictor. Predict inspects the market window and
// returns a directional vote. Implementations must respect ctx cancellation;
// a failed or timed-out provider is simply excluded from that cycle's vote.
type Provider interface {
	Name() string
	Predict(ctx context.Context, window domain.MarketWindow) (domain.Vote, error)
}

// Snapshotter is implemented by providers with learned state worth
// persisting. Snapshot returns an opaque payload; Restore applies one saved
// earlier. Version mismatches are the provider's problem to detect.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(payload []byte) error
}
