package kalshi

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	prodHost = "https://trading-api.kalshi.com"
	demoHost = "https://demo-api.kalshi.co"
	basePath = "/trade-api/v2"
)

type Client struct {
	host       string
	keyID      string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi API error (%d): %s", e.Status, e.Body)
}

// Transient reports whether the failure is worth retrying later.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// NewClient builds a Kalshi trade-api client. keyID and privateKey may be
// empty for read-only use; signed endpoints then fail with an auth error.
func NewClient(httpClient *http.Client, keyID string, privateKey *rsa.PrivateKey, useDemo bool) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	host := prodHost
	if useDemo {
		host = demoHost
	}
	return &Client{
		host:       host,
		keyID:      keyID,
		privateKey: privateKey,
		httpClient: httpClient,
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	fullPath := basePath + path
	fullURL := c.host + fullPath
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.keyID != "" && c.privateKey != nil {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		sig, err := signRequest(c.privateKey, ts, method, fullPath)
		if err != nil {
			return err
		}
		req.Header.Set("KALSHI-ACCESS-KEY", c.keyID)
		req.Header.Set("KALSHI-ACCESS-SIGNATURE", sig)
		req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Market is the subset of the Kalshi market payload the engine reads.
// Prices are venue-native cents.
type Market struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Result      string `json:"result"`

	YesBid    int   `json:"yes_bid"`
	YesAsk    int   `json:"yes_ask"`
	LastPrice int   `json:"last_price"`
	Volume24h int64 `json:"volume_24h"`

	CloseTime time.Time `json:"close_time"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// ListMarkets returns one page of open markets and the next cursor.
func (c *Client) ListMarkets(ctx context.Context, cursor string, limit int) ([]Market, string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("status", "open")
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	var out marketsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/markets", query, nil, &out); err != nil {
		return nil, "", err
	}
	return out.Markets, out.Cursor, nil
}

type marketResponse struct {
	Market Market `json:"market"`
}

func (c *Client) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	if strings.TrimSpace(ticker) == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	var out marketResponse
	if err := c.doJSON(ctx, http.MethodGet, "/markets/"+ticker, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Market, nil
}

// Orderbook holds cents-denominated resting levels, best first.
type Orderbook struct {
	Yes [][2]int `json:"yes"`
	No  [][2]int `json:"no"`
}

type orderbookResponse struct {
	Orderbook Orderbook `json:"orderbook"`
}

func (c *Client) GetOrderbook(ctx context.Context, ticker string) (*Orderbook, error) {
	if strings.TrimSpace(ticker) == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	var out orderbookResponse
	if err := c.doJSON(ctx, http.MethodGet, "/markets/"+ticker+"/orderbook", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Orderbook, nil
}

// YesPrice is the normalized best-ask yes price in [0,1]. A market with no
// ask quotes falls back to last trade, then to 0.50.
func (m *Market) YesPrice() float64 {
	cents := m.YesAsk
	if cents == 0 {
		cents = m.LastPrice
	}
	if cents == 0 {
		cents = 50
	}
	return float64(cents) / 100.0
}

// SpreadFraction is best-ask minus best-bid in [0,1]; zero when unbid.
func (m *Market) SpreadFraction() float64 {
	if m.YesBid == 0 {
		return 0
	}
	ask := m.YesAsk
	if ask == 0 {
		ask = 100
	}
	return float64(ask-m.YesBid) / 100.0
}

// IsResolved reports resolution per the venue's settlement fields.
func (m *Market) IsResolved() (bool, bool) {
	status := strings.ToLower(m.Status)
	if status != "finalized" && status != "settled" {
		return false, false
	}
	switch strings.ToLower(m.Result) {
	case "yes":
		return true, true
	case "no":
		return true, false
	}
	return false, false
}

type orderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      *int   `json:"yes_price,omitempty"`
	NoPrice       *int   `json:"no_price,omitempty"`
}

type orderEnvelope struct {
	Order Order `json:"order"`
}

type Order struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Filled reports whether the order fully executed.
func (o *Order) Filled() bool {
	switch strings.ToLower(o.Status) {
	case "filled", "executed":
		return true
	}
	return false
}

// Terminal reports whether the order can never fill.
func (o *Order) Terminal() bool {
	switch strings.ToLower(o.Status) {
	case "canceled", "cancelled", "expired", "rejected":
		return true
	}
	return false
}

// PlaceLimitOrder posts a resting buy order for count contracts on the
// given side. price is a [0,1] fraction converted to cents and clamped to
// the venue's 1..99 range.
func (c *Client) PlaceLimitOrder(ctx context.Context, ticker, side string, count int, price float64) (string, error) {
	if c.keyID == "" || c.privateKey == nil {
		return "", fmt.Errorf("kalshi credentials not configured")
	}
	cents := int(price * 100)
	if cents < 1 {
		cents = 1
	}
	if cents > 99 {
		cents = 99
	}

	req := orderRequest{
		Ticker:        ticker,
		ClientOrderID: uuid.NewString(),
		Side:          side,
		Action:        "buy",
		Count:         count,
		Type:          "limit",
	}
	switch side {
	case "yes":
		req.YesPrice = &cents
	case "no":
		req.NoPrice = &cents
	default:
		return "", fmt.Errorf("invalid side %q", side)
	}

	var out orderEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/portfolio/orders", nil, req, &out); err != nil {
		return "", err
	}
	return out.Order.OrderID, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("order_id is required")
	}
	var out orderEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/portfolio/orders/"+orderID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Order, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("order_id is required")
	}
	return c.doJSON(ctx, http.MethodDelete, "/portfolio/orders/"+orderID, nil, nil, nil)
}
