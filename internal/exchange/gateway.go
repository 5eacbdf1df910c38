// Package exchange defines the venue gateway contract and the safety wrapper
// every order takes on its way out.
package exchange

import (
	"context"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// OrderRequest describes one order to submit. Amount is in the base asset;
// Price is only consulted for limit orders.
type OrderRequest struct {
	Instrument string
	Side       domain.OrderSide
	Type       domain.OrderType
	Amount     float64
	Price      float64
}

// Gateway is the venue-facing contract. Implementations: the HTTP venue
// client and the in-process paper venue.
type Gateway interface {
	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	Ping(ctx context.Context) (time.Duration, error)
	FetchMarketWindow(ctx context.Context, instrument, timeframe string, limit int) (domain.MarketWindow, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (domain.OrderResult, error)
	FetchOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error)
	Quota(ctx context.Context) (remaining int, resetAt time.Time, err error)
}

// Validate rejects malformed order parameters before they reach the venue.
func (r OrderRequest) Validate() error {
	if r.Instrument == "" {
		return &domain.ValidationError{Field: "instrument", Reason: "must not be empty"}
	}
	if r.Side != domain.OrderSideBuy && r.Side != domain.OrderSideSell {
		return &domain.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if r.Type != domain.OrderTypeMarket && r.Type != domain.OrderTypeLimit {
		return &domain.ValidationError{Field: "type", Reason: "must be market or limit"}
	}
	if r.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if r.Type == domain.OrderTypeLimit && r.Price <= 0 {
		return &domain.ValidationError{Field: "price", Reason: "must be positive for limit orders"}
	}
	return nil
}
