package domain

import "time"

// Action is a signal provider's directional opinion.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Vote is one provider's opinion for a single decision cycle. Votes are
// ephemeral; they are combined and discarded, never persisted.
type Vote struct {
	Source     string
	Action     Action
	Confidence float64 // [0,1]
	Weight     float64 // derived from rolling provider accuracy, default 1
}

// Decision is the combined output of one ensemble pass. Votes carries the
// surviving per-provider opinions for status reporting.
type Decision struct {
	Action     Action
	Confidence float64
	Votes      []Vote
	DecidedAt  time.Time
}

// ModelSnapshot is an opaque, versioned dump of a provider's learned state.
type ModelSnapshot struct {
	BotID     string
	Provider  string
	Version   int
	Payload   []byte
	CreatedAt time.Time
}
