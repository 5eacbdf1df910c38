package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// Querier fans a market window out to every registered provider with a
// per-provider timeout and collects the surviving votes. Provider failures
// and timeouts drop that vote only; they never fail the cycle.
type Querier struct {
	registry *Registry
	tracker  *AccuracyTracker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewQuerier returns a Querier over the given registry. Weights are taken
// from the tracker's rolling accuracy.
func NewQuerier(registry *Registry, tracker *AccuracyTracker, timeout time.Duration, logger *slog.Logger) *Querier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Querier{
		registry: registry,
		tracker:  tracker,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "signal_querier")),
	}
}

// Query runs every provider concurrently and returns the votes that came
// back in time, each stamped with the provider's current ensemble weight.
// Vote order follows provider registration order for determinism.
func (q *Querier) Query(ctx context.Context, window domain.MarketWindow) []domain.Vote {
	providers := q.registry.All()
	results := make([]*domain.Vote, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, q.timeout)
			defer cancel()

			vote, err := q.predictOne(pctx, p, window)
			if err != nil {
				q.logger.Debug("provider vote dropped",
					slog.String("provider", p.Name()),
					slog.String("error", err.Error()))
				return
			}
			vote.Weight = q.tracker.Weight(p.Name())
			results[i] = &vote
		}(i, p)
	}
	wg.Wait()

	votes := make([]domain.Vote, 0, len(providers))
	for _, v := range results {
		if v != nil {
			votes = append(votes, *v)
		}
	}
	return votes
}

// predictOne guards a single Predict call so a stuck provider cannot hold
// the cycle past its timeout.
func (q *Querier) predictOne(ctx context.Context, p Provider, window domain.MarketWindow) (domain.Vote, error) {
	type result struct {
		vote domain.Vote
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		vote, err := p.Predict(ctx, window)
		ch <- result{vote, err}
	}()

	select {
	case <-ctx.Done():
		return domain.Vote{}, ctx.Err()
	case r := <-ch:
		return r.vote, r.err
	}
}
