package polymarket

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// apiCreds are the L2 credentials derived from the wallet key.
type apiCreds struct {
	Key        string
	Secret     string
	Passphrase string
}

// ClobClient reads prices and places signed maker orders on the CLOB.
// Trading calls derive API credentials lazily from the wallet key; a client
// without a signer is read-only.
type ClobClient struct {
	host       string
	httpClient *http.Client
	signer     *OrderSigner

	mu    sync.Mutex
	creds *apiCreds
}

func NewClobClient(httpClient *http.Client, host string, signer *OrderSigner) *ClobClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if host == "" {
		host = "https://clob.polymarket.com"
	}
	return &ClobClient{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
		signer:     signer,
	}
}

func (c *ClobClient) doRequest(ctx context.Context, method, path string, query url.Values, payload any, headers map[string]string) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// Midpoint is the mid price for a token in [0,1].
func (c *ClobClient) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	if strings.TrimSpace(tokenID) == "" {
		return 0, fmt.Errorf("token_id is required")
	}
	query := url.Values{}
	query.Set("token_id", tokenID)
	raw, err := c.doRequest(ctx, http.MethodGet, "/midpoint", query, nil, nil)
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(raw, "mid").Float(), nil
}

// GetPrice is the best price for a token on one side ("buy" or "sell").
func (c *ClobClient) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	if strings.TrimSpace(tokenID) == "" {
		return 0, fmt.Errorf("token_id is required")
	}
	query := url.Values{}
	query.Set("token_id", tokenID)
	query.Set("side", side)
	raw, err := c.doRequest(ctx, http.MethodGet, "/price", query, nil, nil)
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(raw, "price").Float(), nil
}

// BookLevel is one resting level, price and size in [0,1] / shares.
type BookLevel struct {
	Price float64
	Size  float64
}

type Book struct {
	Bids []BookLevel
	Asks []BookLevel
}

func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (*Book, error) {
	if strings.TrimSpace(tokenID) == "" {
		return nil, fmt.Errorf("token_id is required")
	}
	query := url.Values{}
	query.Set("token_id", tokenID)
	raw, err := c.doRequest(ctx, http.MethodGet, "/book", query, nil, nil)
	if err != nil {
		return nil, err
	}
	book := &Book{}
	for _, lvl := range gjson.GetBytes(raw, "bids").Array() {
		book.Bids = append(book.Bids, BookLevel{
			Price: lvl.Get("price").Float(),
			Size:  lvl.Get("size").Float(),
		})
	}
	for _, lvl := range gjson.GetBytes(raw, "asks").Array() {
		book.Asks = append(book.Asks, BookLevel{
			Price: lvl.Get("price").Float(),
			Size:  lvl.Get("size").Float(),
		})
	}
	return book, nil
}

// deriveCreds exchanges an L1 wallet signature for L2 API credentials.
func (c *ClobClient) deriveCreds(ctx context.Context) (*apiCreds, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("polymarket trading credentials not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds != nil {
		return c.creds, nil
	}

	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sig, err := c.signer.SignAuthMessage(ts, 0)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"POLY_ADDRESS":   c.signer.Address().Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": ts,
		"POLY_NONCE":     "0",
	}
	raw, err := c.doRequest(ctx, http.MethodGet, "/auth/derive-api-key", nil, nil, headers)
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	creds := &apiCreds{
		Key:        gjson.GetBytes(raw, "apiKey").String(),
		Secret:     gjson.GetBytes(raw, "secret").String(),
		Passphrase: gjson.GetBytes(raw, "passphrase").String(),
	}
	if creds.Key == "" || creds.Secret == "" {
		return nil, fmt.Errorf("derive api key: empty credentials in response")
	}
	c.creds = creds
	return creds, nil
}

// l2Headers signs one request with the derived credentials.
func (c *ClobClient) l2Headers(creds *apiCreds, method, path string, body []byte) (map[string]string, error) {
	secret, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	return map[string]string{
		"POLY_ADDRESS":    c.signer.Address().Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.Key,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

// PlaceLimitOrder posts a signed post-only buy for size shares at price.
// Returns the CLOB order id.
func (c *ClobClient) PlaceLimitOrder(ctx context.Context, tokenID string, price float64, size int) (string, error) {
	creds, err := c.deriveCreds(ctx)
	if err != nil {
		return "", err
	}
	payload, err := c.signer.SignBuyOrder(
		tokenID,
		decimal.NewFromFloat(price),
		decimal.NewFromInt(int64(size)),
		creds.Key,
	)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode order: %w", err)
	}
	headers, err := c.l2Headers(creds, http.MethodPost, "/order", body)
	if err != nil {
		return "", err
	}
	raw, err := c.doRequest(ctx, http.MethodPost, "/order", nil, payload, headers)
	if err != nil {
		return "", err
	}
	if !gjson.GetBytes(raw, "success").Bool() {
		return "", fmt.Errorf("order rejected: %s", gjson.GetBytes(raw, "errorMsg").String())
	}
	orderID := gjson.GetBytes(raw, "orderID").String()
	if orderID == "" {
		orderID = gjson.GetBytes(raw, "orderId").String()
	}
	if orderID == "" {
		return "", fmt.Errorf("order id missing in response")
	}
	return orderID, nil
}

// Order is the CLOB's view of one resting or settled order.
type Order struct {
	ID           string
	Status       string
	SizeMatched  float64
	OriginalSize float64
}

// Filled reports whether the order has fully matched.
func (o *Order) Filled() bool {
	if strings.EqualFold(o.Status, "matched") {
		return true
	}
	return o.OriginalSize > 0 && o.SizeMatched >= o.OriginalSize
}

// Terminal reports whether the order can never fill.
func (o *Order) Terminal() bool {
	switch strings.ToLower(o.Status) {
	case "canceled", "cancelled", "expired", "rejected":
		return true
	}
	return false
}

// GetOrder polls the order-status endpoint for fills and cancellations.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required")
	}
	creds, err := c.deriveCreds(ctx)
	if err != nil {
		return nil, err
	}
	path := "/data/order/" + orderID
	headers, err := c.l2Headers(creds, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.doRequest(ctx, http.MethodGet, path, nil, nil, headers)
	if err != nil {
		return nil, err
	}
	return &Order{
		ID:           gjson.GetBytes(raw, "id").String(),
		Status:       gjson.GetBytes(raw, "status").String(),
		SizeMatched:  gjson.GetBytes(raw, "size_matched").Float(),
		OriginalSize: gjson.GetBytes(raw, "original_size").Float(),
	}, nil
}

// CancelOrder cancels one resting order.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("order_id is required")
	}
	creds, err := c.deriveCreds(ctx)
	if err != nil {
		return err
	}
	payload := map[string]string{"orderID": orderID}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	headers, err := c.l2Headers(creds, http.MethodDelete, "/order", body)
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodDelete, "/order", nil, payload, headers)
	return err
}
