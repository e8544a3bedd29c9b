package protocol

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

const (
	TypeAck     = "ack"
	TypeError   = "error"
	TypeHistory = "history"
	TypeTick    = "tick"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols"`
}

type WSResponse struct {
	Type    string `json:"type"`             // "ack", "error"
	ID      string `json:"id,omitempty"`     // Matches request ID
	Status  string `json:"status,omitempty"` // "success", "error"
	Message string `json:"message,omitempty"`
}

// Point is one history sample; T is epoch milliseconds.
type Point struct {
	T     int64   `json:"t"`
	Price float64 `json:"price"`
}

// HistoryMessage is the snapshot sent when a subscriber gains interest in a symbol.
type HistoryMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Points []Point `json:"points"`
	Seeded bool    `json:"seeded,omitempty"`
}

// TickMessage is a live update; T is epoch milliseconds.
type TickMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	T      int64   `json:"t"`
}

// Envelope decodes only the discriminator of a server message.
type Envelope struct {
	Type string `json:"type"`
}
