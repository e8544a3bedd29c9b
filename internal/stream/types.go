package stream

// TradeMessage represents a Finnhub trade stream frame carrying a batch of trades.
type TradeMessage struct {
	Type string      `json:"type"` // "trade"; other types ("ping", "error") are not data
	Data []TradeData `json:"data"` // Trades in provider order
}

// TradeData is one trade print in a TradeMessage.
type TradeData struct {
	Symbol     string   `json:"s"` // Provider symbol (e.g., "AAPL", "BINANCE:BTCUSDT")
	Price      float64  `json:"p"` // Last price
	Volume     float64  `json:"v"` // Volume
	Timestamp  float64  `json:"t"` // Unix milliseconds
	Conditions []string `json:"c"` // Trade conditions, unused
}

// ErrorMessage is sent by the provider for rejected subscriptions or auth problems.
type ErrorMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}
