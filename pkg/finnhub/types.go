package finnhub

import "errors"

var (
	// ErrMissingToken is returned when no API token is configured. The stream
	// cannot start without it.
	ErrMissingToken = errors.New("finnhub: api token missing")
	// ErrNoQuote is returned when the quote endpoint has no usable price.
	ErrNoQuote = errors.New("finnhub: no quote")
)

// QuoteResponse is the body of GET /api/v1/quote.
type QuoteResponse struct {
	Current       float64 `json:"c"`  // Current price
	Change        float64 `json:"d"`  // Change
	PercentChange float64 `json:"dp"` // Percent change
	High          float64 `json:"h"`  // High price of the day
	Low           float64 `json:"l"`  // Low price of the day
	Open          float64 `json:"o"`  // Open price of the day
	PrevClose     float64 `json:"pc"` // Previous close price
	Timestamp     int64   `json:"t"`  // Unix seconds of the last trade
}

// ErrorResponse is returned by the REST API on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// controlMessage subscribes or unsubscribes a symbol on the trade stream.
type controlMessage struct {
	Type   string `json:"type"`   // "subscribe" or "unsubscribe"
	Symbol string `json:"symbol"` // Provider symbol, e.g. "AAPL" or "BINANCE:BTCUSDT"
}
