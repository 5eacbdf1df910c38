package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange"
)

func connectedVenue(t *testing.T) *Venue {
	t.Helper()
	v := NewVenue(map[string]float64{"USDT": 10000, "BTC": 0})
	require.NoError(t, v.Connect(context.Background()))
	return v
}

func TestFetchMarketWindowShape(t *testing.T) {
	v := connectedVenue(t)

	window, err := v.FetchMarketWindow(context.Background(), "BTC/USDT", "1m", 50)
	require.NoError(t, err)
	require.Len(t, window.Candles, 50)
	assert.Equal(t, "BTC/USDT", window.Instrument)

	for i := 1; i < len(window.Candles); i++ {
		assert.True(t, window.Candles[i].Timestamp.After(window.Candles[i-1].Timestamp),
			"candles ordered oldest first")
	}
	for _, c := range window.Candles {
		assert.GreaterOrEqual(t, c.High, c.Low)
		assert.Positive(t, c.Close)
	}
}

func TestFetchMarketWindowRequiresConnection(t *testing.T) {
	v := NewVenue(map[string]float64{"USDT": 1000})
	_, err := v.FetchMarketWindow(context.Background(), "BTC/USDT", "1m", 10)
	var ce *domain.ConnectivityError
	require.ErrorAs(t, err, &ce)
}

func TestBuyThenSellSettlesBalances(t *testing.T) {
	v := connectedVenue(t)
	ctx := context.Background()

	buy, err := v.PlaceOrder(ctx, exchange.OrderRequest{
		Instrument: "BTC/USDT",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeMarket,
		Amount:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, buy.Status)
	assert.Positive(t, buy.Fee)

	balances, err := v.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1, balances["BTC"], 1e-9)
	assert.InDelta(t, 10000-buy.FilledPrice-buy.Fee, balances["USDT"], 1e-9)

	sell, err := v.PlaceOrder(ctx, exchange.OrderRequest{
		Instrument: "BTC/USDT",
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeMarket,
		Amount:     1,
	})
	require.NoError(t, err)

	balances, err = v.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0, balances["BTC"], 1e-9)
	assert.Positive(t, balances["USDT"])

	status, err := v.FetchOrderStatus(ctx, sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, status.Status)
}

func TestInsufficientBalanceRejected(t *testing.T) {
	v := NewVenue(map[string]float64{"USDT": 1})
	require.NoError(t, v.Connect(context.Background()))

	_, err := v.PlaceOrder(context.Background(), exchange.OrderRequest{
		Instrument: "BTC/USDT",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeMarket,
		Amount:     10,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestDeterministicWalkPerInstrument(t *testing.T) {
	a := connectedVenue(t)
	b := connectedVenue(t)

	wa, err := a.FetchMarketWindow(context.Background(), "ETH/USDT", "5m", 20)
	require.NoError(t, err)
	wb, err := b.FetchMarketWindow(context.Background(), "ETH/USDT", "5m", 20)
	require.NoError(t, err)

	for i := range wa.Candles {
		assert.Equal(t, wa.Candles[i].Close, wb.Candles[i].Close, "seeded walk is reproducible")
	}
}
