package stream

import (
	"encoding/json"

	"tickrelay/internal/tick"

	"go.uber.org/zap"
)

// RawSink accepts provider trades for normalization and storage.
type RawSink interface {
	HandleRaw(source tick.Source, raw tick.RawTrade) error
}

// MakeMessageHandler returns a function that handles incoming WebSocket messages
// by parsing trade batches and handing every trade to sink.
// Undecodable frames are logged and skipped; they never affect the connection.
func MakeMessageHandler(logger *zap.Logger, sink RawSink) func(msg []byte) {
	return func(msg []byte) {
		// Step 1: Extract type for early filtering
		var meta struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &meta); err != nil {
			logger.Warn("failed to extract message type", zap.Error(err))
			return
		}

		switch meta.Type {
		case "trade":
		case "error":
			var em ErrorMessage
			_ = json.Unmarshal(msg, &em)
			logger.Warn("provider error message", zap.String("msg", em.Msg))
			return
		default:
			return // Ignore non-trade messages (e.g., ping)
		}

		// Step 2: Fully parse the trade payload
		var parsed TradeMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("failed to parse trade payload", zap.Error(err))
			return
		}

		// Step 3: Hand each trade over in provider order
		for _, d := range parsed.Data {
			raw := tick.RawTrade{
				ProviderSymbol: d.Symbol,
				Price:          d.Price,
				Volume:         d.Volume,
				Timestamp:      d.Timestamp,
				Unit:           tick.UnitMillis,
			}
			if err := sink.HandleRaw(tick.SourceStream, raw); err != nil {
				logger.Debug("trade rejected", zap.String("symbol", d.Symbol), zap.Error(err))
			}
		}
	}
}
