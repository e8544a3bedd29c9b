package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tickrelay/internal/tick"
)

type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewRESTClient(baseURL, token string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// GetQuote fetches the latest quote for one provider symbol.
func (c *RESTClient) GetQuote(ctx context.Context, symbol string) (*QuoteResponse, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", c.token)
	endpoint := c.baseURL + "/api/v1/quote?" + q.Encode()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("finnhub error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("finnhub error (%d): %s", resp.StatusCode, body)
	}

	var quote QuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &quote, nil
}

// Quote implements the poller's pull source. A zero current price means
// Finnhub does not know the symbol.
func (c *RESTClient) Quote(ctx context.Context, symbol string) (tick.Quote, error) {
	resp, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return tick.Quote{}, err
	}
	if resp.Current <= 0 {
		return tick.Quote{}, fmt.Errorf("%w for %s", ErrNoQuote, symbol)
	}
	return tick.Quote{Price: resp.Current, TimestampSeconds: resp.Timestamp}, nil
}
