package tick

import (
	"errors"
	"math"
)

// SecondsThreshold separates second-resolution from millisecond-resolution epoch values.
// Anything below it is read as seconds.
const SecondsThreshold = 1e12

var (
	ErrUntrackedSymbol  = errors.New("untracked symbol")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Normalizer maps provider trades onto canonical Ticks for the tracked symbol set.
type Normalizer struct {
	uiFromProvider map[string]string
}

// NewNormalizer builds a Normalizer from the UI symbol -> provider symbol mapping.
// Tracked symbols without an explicit mapping use their UI symbol as provider symbol.
func NewNormalizer(tracked []string, providerSymbols map[string]string) *Normalizer {
	m := make(map[string]string, len(tracked))
	for _, ui := range tracked {
		provider := ui
		if p, ok := providerSymbols[ui]; ok && p != "" {
			provider = p
		}
		m[provider] = ui
	}
	return &Normalizer{uiFromProvider: m}
}

// UISymbol resolves a provider symbol to its tracked UI symbol.
func (n *Normalizer) UISymbol(provider string) (string, bool) {
	ui, ok := n.uiFromProvider[provider]
	return ui, ok
}

// ProviderSymbol resolves a tracked UI symbol to its provider symbol.
func (n *Normalizer) ProviderSymbol(ui string) (string, bool) {
	for p, u := range n.uiFromProvider {
		if u == ui {
			return p, true
		}
	}
	return "", false
}

// Normalize validates a raw trade and converts it to a Tick.
// Returned errors classify the rejection; none of them are fatal.
func (n *Normalizer) Normalize(raw RawTrade) (Tick, error) {
	ui, ok := n.uiFromProvider[raw.ProviderSymbol]
	if !ok {
		return Tick{}, ErrUntrackedSymbol
	}

	if math.IsNaN(raw.Price) || math.IsInf(raw.Price, 0) || raw.Price <= 0 {
		return Tick{}, ErrInvalidPrice
	}

	ts, ok := toMillis(raw.Timestamp, raw.Unit)
	if !ok {
		return Tick{}, ErrInvalidTimestamp
	}

	volume := raw.Volume
	if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
		volume = 0
	}

	return Tick{
		Symbol:          ui,
		Price:           raw.Price,
		Volume:          volume,
		TimestampMillis: ts,
	}, nil
}

func toMillis(ts float64, unit TimeUnit) (int64, bool) {
	switch unit {
	case UnitMillis:
		if !validEpoch(ts) || ts > math.MaxInt64 {
			return 0, false
		}
		return int64(ts), true
	case UnitSeconds:
		if !validEpoch(ts) || ts*1000 > math.MaxInt64 {
			return 0, false
		}
		return int64(ts * 1000), true
	default:
		return NormalizeMillis(ts)
	}
}

func validEpoch(ts float64) bool {
	return !math.IsNaN(ts) && !math.IsInf(ts, 0) && ts > 0 && ts == math.Trunc(ts)
}

// NormalizeMillis converts an epoch value in seconds or milliseconds to milliseconds.
// It reports false for non-finite, non-positive or fractional values.
func NormalizeMillis(ts float64) (int64, bool) {
	if !validEpoch(ts) {
		return 0, false
	}
	if ts < SecondsThreshold {
		ts *= 1000
	}
	if ts > math.MaxInt64 {
		return 0, false
	}
	return int64(ts), true
}
