package signal

import "sync"

// AccuracyTracker maintains a bounded rolling hit/miss history per provider
// and derives ensemble weights from it. Providers with no recorded history
// weigh 1. Safe for concurrent use.
type AccuracyTracker struct {
	mu      sync.RWMutex
	window  int
	history map[string][]bool
}

// NewAccuracyTracker returns a tracker keeping up to window outcomes per
// provider.
func NewAccuracyTracker(window int) *AccuracyTracker {
	if window < 1 {
		window = 50
	}
	return &AccuracyTracker{
		window:  window,
		history: make(map[string][]bool),
	}
}

// Record appends one outcome for a provider, evicting the oldest entry once
// the window is full.
func (t *AccuracyTracker) Record(provider string, correct bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[provider], correct)
	if len(h) > t.window {
		h = h[len(h)-t.window:]
	}
	t.history[provider] = h
}

// Accuracy returns the provider's rolling hit rate and whether any history
// exists.
func (t *AccuracyTracker) Accuracy(provider string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.history[provider]
	if len(h) == 0 {
		return 0, false
	}
	hits := 0
	for _, ok := range h {
		if ok {
			hits++
		}
	}
	return float64(hits) / float64(len(h)), true
}

// Weight maps rolling accuracy to an ensemble weight. No history means the
// neutral weight 1; otherwise the weight is twice the hit rate, floored at
// 0.1 so a cold provider can still recover.
func (t *AccuracyTracker) Weight(provider string) float64 {
	acc, ok := t.Accuracy(provider)
	if !ok {
		return 1
	}
	w := acc * 2
	if w < 0.1 {
		w = 0.1
	}
	return w
}
