package tick

// Tick is one normalized price observation for a tracked symbol.
type Tick struct {
	Symbol          string  `json:"symbol"`    // UI symbol (e.g., "AAPL")
	Price           float64 `json:"price"`     // Last traded price, finite and > 0
	Volume          float64 `json:"volume"`    // Traded volume, >= 0
	TimestampMillis int64   `json:"timestamp"` // Event time in milliseconds since epoch
}

// RawTrade is a provider-agnostic trade as decoded from the wire, before validation.
// Numeric fields are floats so that missing or non-finite values survive decoding
// and can be rejected by the Normalizer.
type RawTrade struct {
	ProviderSymbol string
	Price          float64
	Volume         float64
	Timestamp      float64  // seconds or milliseconds since epoch
	Unit           TimeUnit // resolution declared by the source; UnitAuto guesses
}

// TimeUnit is the resolution a source declares for its timestamps.
type TimeUnit int

const (
	UnitAuto TimeUnit = iota
	UnitMillis
	UnitSeconds
)

// Source labels where an accepted tick came from. It never travels downstream.
type Source string

const (
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
)

// Quote is a one-shot price returned by a pull-based source.
type Quote struct {
	Price            float64
	TimestampSeconds int64 // 0 when the source does not report one
}
