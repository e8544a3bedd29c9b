package twelvedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tickrelay/internal/tick"
)

var ErrMissingAPIKey = errors.New("twelvedata: api key missing")

// PriceResponse is the body of GET /price. Errors share the same envelope.
type PriceResponse struct {
	Price   string `json:"price"`
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetPrice fetches the latest price for one provider symbol (e.g. "RELIANCE.NS").
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if c.apiKey == "" {
		return 0, ErrMissingAPIKey
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	var body PriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	// the API reports most failures with HTTP 200 and an error envelope
	if resp.StatusCode != http.StatusOK || body.Code != 0 || body.Status == "error" {
		msg := body.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return 0, fmt.Errorf("twelvedata error for %s: %s", symbol, msg)
	}

	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("twelvedata invalid price for %s: %q", symbol, body.Price)
	}
	return price, nil
}

// Quote implements the poller's pull source. The price endpoint carries no
// timestamp, so the poller stamps the tick with the current time.
func (c *Client) Quote(ctx context.Context, symbol string) (tick.Quote, error) {
	price, err := c.GetPrice(ctx, symbol)
	if err != nil {
		return tick.Quote{}, err
	}
	return tick.Quote{Price: price}, nil
}
