package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks an order through the venue.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderResult is the venue's acknowledgment of a placed order.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledPrice float64
	FilledSize  float64
	Fee         float64
	PlacedAt    time.Time
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is a bot's single open exposure. At most one open position per
// bot at any time; created on an accepted entry, destroyed on exit.
type Position struct {
	BotID      string
	Instrument string
	Side       PositionSide
	EntryPrice float64
	Amount     float64
	EntryFee   float64
	StopLoss   float64
	TakeProfit float64
	EntryTime  time.Time
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitSignal     ExitReason = "sell_signal"
	ExitManual     ExitReason = "manual"
)

// Trade is an immutable ledger entry appended on every fill.
type Trade struct {
	ID          string
	BotID       string
	Instrument  string
	Side        OrderSide
	Amount      float64
	Price       float64
	Fee         float64
	RealizedPnL float64
	ExitReason  ExitReason // empty for entries
	Timestamp   time.Time
}

// IsWin reports whether a settled trade closed at a profit.
func (t Trade) IsWin() bool { return t.RealizedPnL > 0 }
