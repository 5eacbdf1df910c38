// Package venue implements the exchange gateway over the venue's
// HMAC-authenticated REST API.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/crypto"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange"
)

// Client is the REST client for the exchange API. It satisfies
// exchange.Gateway.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	connected  atomic.Bool

	// quota caches the rate-limit headers from the last response.
	quotaRemaining atomic.Int64
	quotaResetUnix atomic.Int64
}

// NewClient creates a REST client against baseURL, signing every request
// with the given credentials. A nil auth gives unauthenticated access to the
// venue's public endpoints, which is all monitor mode needs.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	c.quotaRemaining.Store(-1)
	return c
}

// Connect verifies credentials and reachability with a ping.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.Ping(ctx); err != nil {
		return err
	}
	c.connected.Store(true)
	return nil
}

// IsConnected reports whether the last venue call succeeded.
func (c *Client) IsConnected(ctx context.Context) bool {
	return c.connected.Load()
}

// Ping measures the round trip of the venue's time endpoint.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := c.doRequest(ctx, http.MethodGet, "/api/v1/time", nil)
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

type candlePayload struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// FetchMarketWindow pulls the most recent candles for an instrument.
func (c *Client) FetchMarketWindow(ctx context.Context, instrument, timeframe string, limit int) (domain.MarketWindow, error) {
	params := url.Values{}
	params.Set("instrument", instrument)
	params.Set("timeframe", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/candles?"+params.Encode(), nil)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("venue: fetch candles %s: %w", instrument, err)
	}

	var resp struct {
		Candles []candlePayload `json:"candles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MarketWindow{}, fmt.Errorf("venue: decode candles: %w", err)
	}

	candles := make([]domain.Candle, 0, len(resp.Candles))
	for _, p := range resp.Candles {
		candles = append(candles, domain.Candle{
			Timestamp: time.Unix(p.Timestamp, 0).UTC(),
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    p.Volume,
		})
	}

	return domain.MarketWindow{
		Instrument: instrument,
		Timeframe:  timeframe,
		Candles:    candles,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// FetchBalance returns free balances by asset.
func (c *Client) FetchBalance(ctx context.Context) (map[string]float64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("venue: fetch balances: %w", err)
	}

	var resp struct {
		Balances map[string]float64 `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue: decode balances: %w", err)
	}
	return resp.Balances, nil
}

type orderPayload struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	FilledPrice float64 `json:"filled_price"`
	FilledSize  float64 `json:"filled_size"`
	Fee         float64 `json:"fee"`
	CreatedAt   int64   `json:"created_at"`
}

func (p orderPayload) toResult() domain.OrderResult {
	return domain.OrderResult{
		OrderID:     p.OrderID,
		Status:      domain.OrderStatus(p.Status),
		FilledPrice: p.FilledPrice,
		FilledSize:  p.FilledSize,
		Fee:         p.Fee,
		PlacedAt:    time.Unix(p.CreatedAt, 0).UTC(),
	}
}

// PlaceOrder submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.OrderResult, error) {
	payload := map[string]any{
		"instrument": req.Instrument,
		"side":       string(req.Side),
		"type":       string(req.Type),
		"amount":     req.Amount,
	}
	if req.Type == domain.OrderTypeLimit {
		payload["price"] = req.Price
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/orders", payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: place order: %w", err)
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: decode order response: %w", err)
	}
	return resp.Order.toResult(), nil
}

// FetchOrderStatus retrieves the current state of an order.
func (c *Client) FetchOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	path := fmt.Sprintf("/api/v1/orders/%s", url.PathEscape(orderID))

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: order status %s: %w", orderID, err)
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: decode order status: %w", err)
	}
	return resp.Order.toResult(), nil
}

// Quota returns the remaining API quota from the last response's rate-limit
// headers, falling back to a ping when nothing has been cached yet.
func (c *Client) Quota(ctx context.Context) (int, time.Time, error) {
	if c.quotaRemaining.Load() < 0 {
		if _, err := c.Ping(ctx); err != nil {
			return 0, time.Time{}, err
		}
	}
	remaining := int(c.quotaRemaining.Load())
	resetAt := time.Unix(c.quotaResetUnix.Load(), 0).UTC()
	return remaining, resetAt, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, signs, sends, and reads an HTTP request against the
// venue API.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		bodyStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.connected.Store(false)
		return nil, &domain.ConnectivityError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	c.recordQuota(resp.Header)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.connected.Store(false)
		return nil, &domain.ConnectivityError{Op: "read response", Err: err}
	}

	if err := c.checkStatus(method+" "+path, resp, respBody); err != nil {
		return nil, err
	}

	c.connected.Store(true)
	return respBody, nil
}

// recordQuota caches the venue's rate-limit headers.
func (c *Client) recordQuota(h http.Header) {
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.quotaRemaining.Store(n)
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.quotaResetUnix.Store(n)
		}
	}
}

// checkStatus maps non-2xx HTTP status codes to the error taxonomy.
func (c *Client) checkStatus(op string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case code == http.StatusTooManyRequests:
		retryAfter, _ := strconv.ParseInt(resp.Header.Get("Retry-After"), 10, 64)
		return &domain.RateLimitError{Op: op, RetryAfter: retryAfter}
	case code == http.StatusNotFound:
		return fmt.Errorf("venue: %s: %s (%s): %w", op, apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("venue: %s: unauthorized: %s (%s)", op, apiErr.Message, apiErr.Code)
	case code == http.StatusBadRequest:
		return fmt.Errorf("venue: %s: bad request: %s (%s)", op, apiErr.Message, apiErr.Code)
	case code >= 500:
		c.connected.Store(false)
		return &domain.ConnectivityError{Op: op, Err: fmt.Errorf("HTTP %d: %s", code, apiErr.Message)}
	default:
		return fmt.Errorf("venue: %s: HTTP %d: %s (%s)", op, code, apiErr.Message, apiErr.Code)
	}
}
