package server

import (
	"net/http"
	"strings"

	"tickrelay/internal/gateway"
	"tickrelay/internal/hub"
	"tickrelay/internal/memorystore"
	"tickrelay/internal/metrics"
	"tickrelay/pkg/finnhub"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// UpstreamStatus reports the state of the provider stream.
type UpstreamStatus interface {
	Status() finnhub.Status
}

// Handler serves the relay's HTTP and websocket endpoints.
type Handler struct {
	Hub          *hub.Hub
	Store        *memorystore.HistoryStore
	Metrics      *metrics.Recorder
	Upstream     UpstreamStatus
	TokenPresent bool
	Tracked      []string
	Gateway      gateway.Options
	Logger       *zap.Logger

	upgrader websocket.Upgrader
}

type HealthResponse struct {
	OK          bool   `json:"ok"`
	Upstream    string `json:"upstream"`
	Token       bool   `json:"token"`
	Subscribers int    `json:"subscribers"`
	StoredTicks int    `json:"stored_ticks"`
}

type MarketEntry struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,omitempty"`
	T      int64   `json:"t,omitempty"`
	Fresh  bool    `json:"fresh"`
}

type HistoryRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	N      int    `query:"n" default:"120" validate:"gte=1,lte=5000"`
}

type HistoryResponse struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

type PricePoint struct {
	T      int64   `json:"t"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// RegisterRoutes mounts every endpoint on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	e.GET("/ws", h.serveWS)
	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(h.Metrics.Handler()))
	e.GET("/api/market", h.market)
	e.GET("/api/market/:symbol/history", h.history)
}

func (h *Handler) serveWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil // upgrader already replied
	}

	client := gateway.NewClient(conn, h.Hub, h.Logger, h.Gateway)
	client.Start()
	return nil
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		OK:          true,
		Upstream:    h.Upstream.Status().String(),
		Token:       h.TokenPresent,
		Subscribers: h.Hub.SubscriberCount(),
		StoredTicks: h.Store.CountAll(),
	})
}

func (h *Handler) market(c echo.Context) error {
	out := make([]MarketEntry, 0, len(h.Tracked))
	for _, sym := range h.Tracked {
		entry := MarketEntry{Symbol: sym, Fresh: h.Store.IsFresh(sym)}
		if last, ok := h.Store.Last(sym); ok {
			entry.Price = last.Price
			entry.T = last.TimestampMillis
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) history(c echo.Context) error {
	var req HistoryRequest
	if errs := readAndValidateRequest(c, &req); errs != nil {
		return c.JSON(http.StatusBadRequest, errs)
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if !h.isTracked(symbol) {
		return c.JSON(http.StatusNotFound, []ValidationError{{
			Code:    "ERR_NOT_FOUND",
			Field:   "symbol",
			Message: "symbol is not tracked: " + symbol,
		}})
	}

	ticks := h.Store.Snapshot(symbol, req.N)
	points := make([]PricePoint, len(ticks))
	for i, t := range ticks {
		points[i] = PricePoint{T: t.TimestampMillis, Price: t.Price, Volume: t.Volume}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Symbol: symbol, Points: points})
}

func (h *Handler) isTracked(symbol string) bool {
	for _, s := range h.Tracked {
		if s == symbol {
			return true
		}
	}
	return false
}
