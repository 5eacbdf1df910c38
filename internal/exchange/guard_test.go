package exchange

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

type stubGateway struct {
	mu           sync.Mutex
	balances     map[string]float64
	windowErrs   []error // errors returned by successive FetchMarketWindow calls
	windowCalls  int
	placedOrders []OrderRequest
}

func (s *stubGateway) Connect(context.Context) error    { return nil }
func (s *stubGateway) IsConnected(context.Context) bool { return true }

func (s *stubGateway) Ping(context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

func (s *stubGateway) FetchMarketWindow(ctx context.Context, instrument, timeframe string, limit int) (domain.MarketWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowCalls++
	if len(s.windowErrs) > 0 {
		err := s.windowErrs[0]
		s.windowErrs = s.windowErrs[1:]
		if err != nil {
			return domain.MarketWindow{}, err
		}
	}
	return domain.MarketWindow{Instrument: instrument, Timeframe: timeframe}, nil
}

func (s *stubGateway) FetchBalance(context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out, nil
}

func (s *stubGateway) PlaceOrder(ctx context.Context, req OrderRequest) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placedOrders = append(s.placedOrders, req)
	return domain.OrderResult{OrderID: "o-1", Status: domain.OrderStatusFilled, FilledPrice: 100, FilledSize: req.Amount}, nil
}

func (s *stubGateway) FetchOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	return domain.OrderResult{OrderID: orderID, Status: domain.OrderStatusFilled}, nil
}

func (s *stubGateway) Quota(context.Context) (int, time.Time, error) {
	return 1000, time.Now().Add(time.Minute), nil
}

func fastGuard(gw Gateway) *Guard {
	return NewGuard(gw, GuardConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, slog.Default())
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	gw := &stubGateway{
		windowErrs: []error{
			&domain.ConnectivityError{Op: "fetch", Err: domain.ErrWSDisconnect},
			&domain.ConnectivityError{Op: "fetch", Err: domain.ErrWSDisconnect},
			nil,
		},
	}
	g := fastGuard(gw)

	window, err := g.FetchMarketWindow(context.Background(), "BTC/USDT", "1m", 100)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", window.Instrument)
	assert.Equal(t, 3, gw.windowCalls)
}

func TestRetryGivesUpAfterCap(t *testing.T) {
	gw := &stubGateway{
		windowErrs: []error{
			&domain.ConnectivityError{Op: "fetch", Err: domain.ErrWSDisconnect},
			&domain.ConnectivityError{Op: "fetch", Err: domain.ErrWSDisconnect},
			&domain.ConnectivityError{Op: "fetch", Err: domain.ErrWSDisconnect},
			&domain.ConnectivityError{Op: "fetch", Err: domain.ErrWSDisconnect},
			&domain.ConnectivityError{Op: "fetch", Err: domain.ErrWSDisconnect},
		},
	}
	g := fastGuard(gw)

	_, err := g.FetchMarketWindow(context.Background(), "BTC/USDT", "1m", 100)
	require.Error(t, err)
	var ce *domain.ConnectivityError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, gw.windowCalls, "initial attempt plus three retries")
}

func TestValidationErrorNotRetried(t *testing.T) {
	gw := &stubGateway{}
	g := fastGuard(gw)

	_, err := g.PlaceOrder(context.Background(), OrderRequest{})
	require.Error(t, err)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Empty(t, gw.placedOrders, "invalid order never reaches the venue")
}

func TestReservationBlocksOverspend(t *testing.T) {
	gw := &stubGateway{balances: map[string]float64{"USDT": 1000}}
	g := fastGuard(gw)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, "bot-1", "USDT", 600))

	// Second bot cannot reserve funds the first already claimed.
	err := g.Reserve(ctx, "bot-2", "USDT", 600)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Releasing frees the pool again.
	g.Release("bot-1")
	require.NoError(t, g.Reserve(ctx, "bot-2", "USDT", 600))
}

func TestReservationDoubleReserveRejected(t *testing.T) {
	gw := &stubGateway{balances: map[string]float64{"USDT": 1000}}
	g := fastGuard(gw)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, "bot-1", "USDT", 100))
	err := g.Reserve(ctx, "bot-1", "USDT", 100)
	require.Error(t, err)
}

func TestConcurrentReservationsNeverOverdraw(t *testing.T) {
	gw := &stubGateway{balances: map[string]float64{"USDT": 1000}}
	g := fastGuard(gw)

	var wg sync.WaitGroup
	granted := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			botID := "bot-" + string(rune('a'+i))
			granted[i] = g.Reserve(context.Background(), botID, "USDT", 300) == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range granted {
		if ok {
			count++
		}
	}
	assert.LessOrEqual(t, count, 3, "at most 3 x 300 fits into 1000")
	assert.LessOrEqual(t, g.Reserved(), 1000.0)
}

func TestConfirmFillEndsReservation(t *testing.T) {
	gw := &stubGateway{balances: map[string]float64{"USDT": 1000}}
	g := fastGuard(gw)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, "bot-1", "USDT", 400))
	assert.Equal(t, 400.0, g.Reserved())

	g.ConfirmFill("bot-1")
	assert.Zero(t, g.Reserved())
}
