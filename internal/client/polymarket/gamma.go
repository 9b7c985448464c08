package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("polymarket API error (%d): %s", e.Status, e.Body)
}

// Transient reports whether the failure is worth retrying later.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// GammaClient reads market metadata from the Gamma API.
type GammaClient struct {
	host       string
	httpClient *http.Client
}

func NewGammaClient(httpClient *http.Client, host string) *GammaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if host == "" {
		host = "https://gamma-api.polymarket.com"
	}
	return &GammaClient{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
	}
}

func (c *GammaClient) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GammaMarket is the normalized view over one Gamma market payload.
type GammaMarket struct {
	ID          string
	ConditionID string
	Question    string
	Description string
	Slug        string

	YesPrice float64
	NoPrice  float64
	Spread   float64
	Volume   int64

	EndDate          *time.Time
	Active           bool
	Closed           bool
	ResolutionStatus string

	// TokenIDs holds the CLOB token ids, YES first.
	TokenIDs []string
}

// MarketID is the stable identity used across scans: condition id when
// present, gamma id otherwise.
func (m GammaMarket) MarketID() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

// YesTokenID returns the CLOB token for the requested side.
func (m GammaMarket) TokenID(yes bool) string {
	if yes {
		if len(m.TokenIDs) > 0 {
			return m.TokenIDs[0]
		}
		return ""
	}
	if len(m.TokenIDs) > 1 {
		return m.TokenIDs[1]
	}
	return ""
}

// IsResolved reports whether the market settled and which way.
func (m GammaMarket) IsResolved() (bool, bool) {
	if !m.Closed {
		return false, false
	}
	if m.ResolutionStatus != "" && !strings.EqualFold(m.ResolutionStatus, "resolved") {
		return false, false
	}
	return true, m.YesPrice > 0.5
}

// ListMarkets returns one page of active, unresolved markets.
func (c *GammaClient) ListMarkets(ctx context.Context, limit, offset int) ([]GammaMarket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("active", "true")
	query.Set("closed", "false")
	body, err := c.doRequest(ctx, "/markets", query)
	if err != nil {
		return nil, err
	}

	var out []GammaMarket
	for _, raw := range gjson.ParseBytes(body).Array() {
		out = append(out, parseGammaMarket(raw))
	}
	return out, nil
}

// GetMarket fetches one market by gamma id or condition id.
func (c *GammaClient) GetMarket(ctx context.Context, id string) (*GammaMarket, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("market id is required")
	}
	if strings.HasPrefix(id, "0x") {
		query := url.Values{}
		query.Set("condition_ids", id)
		body, err := c.doRequest(ctx, "/markets", query)
		if err != nil {
			return nil, err
		}
		arr := gjson.ParseBytes(body).Array()
		if len(arr) == 0 {
			return nil, &APIError{Status: http.StatusNotFound, Body: "market not found"}
		}
		m := parseGammaMarket(arr[0])
		return &m, nil
	}
	body, err := c.doRequest(ctx, "/markets/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	m := parseGammaMarket(gjson.ParseBytes(body))
	return &m, nil
}

// parseGammaMarket tolerates the API's habit of shipping numbers and arrays
// as JSON-encoded strings.
func parseGammaMarket(raw gjson.Result) GammaMarket {
	m := GammaMarket{
		ID:               raw.Get("id").String(),
		ConditionID:      raw.Get("conditionId").String(),
		Question:         raw.Get("question").String(),
		Description:      raw.Get("description").String(),
		Slug:             raw.Get("slug").String(),
		Active:           raw.Get("active").Bool(),
		Closed:           raw.Get("closed").Bool(),
		ResolutionStatus: raw.Get("umaResolutionStatus").String(),
		YesPrice:         0.5,
		NoPrice:          0.5,
	}

	prices := jsonishArray(raw.Get("outcomePrices"))
	if len(prices) > 0 {
		m.YesPrice = prices[0].Float()
		if len(prices) > 1 {
			m.NoPrice = prices[1].Float()
		} else {
			m.NoPrice = 1 - m.YesPrice
		}
	}

	m.Spread = raw.Get("spread").Float()
	m.Volume = int64(raw.Get("volume24hr").Float())
	if m.Volume == 0 {
		m.Volume = int64(raw.Get("volume").Float())
	}

	for _, tok := range jsonishArray(raw.Get("clobTokenIds")) {
		m.TokenIDs = append(m.TokenIDs, tok.String())
	}

	if end := raw.Get("endDate").String(); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			u := t.UTC()
			m.EndDate = &u
		}
	}
	return m
}

// jsonishArray unwraps a field that is either a JSON array or a string
// containing one.
func jsonishArray(v gjson.Result) []gjson.Result {
	if v.IsArray() {
		return v.Array()
	}
	if v.Type == gjson.String {
		inner := gjson.Parse(v.String())
		if inner.IsArray() {
			return inner.Array()
		}
	}
	return nil
}
