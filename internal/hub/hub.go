package hub

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tickrelay/internal/hub/protocol"
	"tickrelay/internal/metrics"
	"tickrelay/internal/tick"

	"go.uber.org/zap"
)

// Subscriber is a downstream connection as seen by the hub.
type Subscriber interface {
	ID() string
	// Send queues b without blocking and reports false when the queue is full.
	Send(b []byte) bool
	Close()
}

// HistorySource is the read side of the symbol state store.
type HistorySource interface {
	Snapshot(symbol string, maxPoints int) []tick.Tick
	Last(symbol string) (tick.Tick, bool)
	Len(symbol string) int
}

type Config struct {
	TrackedSymbols        []string
	SnapshotPoints        int
	SeedEnabled           bool
	MinHistory            int
	SeedPrices            map[string]float64
	SubscribeAllOnConnect bool
}

// Hub fans normalized ticks out to subscribers. Snapshots are enqueued under
// the same lock Publish holds, so a subscriber never sees a live tick for a
// symbol before that symbol's snapshot.
type Hub struct {
	subscribers map[string]map[Subscriber]bool
	clientSubs  map[Subscriber]map[string]bool
	tracked     map[string]bool

	cfg     Config
	store   HistorySource
	seeder  *Seeder
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	mu      sync.RWMutex

	seedMu     sync.RWMutex
	seedPrices map[string]float64
}

type Option func(*Hub)

// WithSeeder replaces the default random seeder.
func WithSeeder(s *Seeder) Option {
	return func(h *Hub) { h.seeder = s }
}

// WithClock sets the time source used for seeded series.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(cfg Config, store HistorySource, logger *zap.Logger, opts ...Option) *Hub {
	if cfg.SnapshotPoints <= 0 {
		cfg.SnapshotPoints = 120
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 10
	}

	h := &Hub{
		subscribers: make(map[string]map[Subscriber]bool),
		clientSubs:  make(map[Subscriber]map[string]bool),
		tracked:     make(map[string]bool, len(cfg.TrackedSymbols)),
		cfg:         cfg,
		store:       store,
		logger:      logger,
		now:         time.Now,
		seedPrices:  make(map[string]float64, len(cfg.SeedPrices)),
	}
	for _, s := range cfg.TrackedSymbols {
		h.tracked[s] = true
	}
	for s, p := range cfg.SeedPrices {
		h.seedPrices[s] = p
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.seeder == nil {
		h.seeder = NewSeeder(DefaultSeedPoints, DefaultSeedSpacing, nil)
	}
	return h
}

// SetSeedPrice records a fallback base price for seeded series, used when the
// store has no ticks for symbol.
func (h *Hub) SetSeedPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	h.seedMu.Lock()
	h.seedPrices[symbol] = price
	h.seedMu.Unlock()
}

// Register adds a subscriber with no interest. With SubscribeAllOnConnect it
// immediately receives a snapshot of every tracked symbol.
func (h *Hub) Register(client Subscriber) {
	h.mu.Lock()
	if _, ok := h.clientSubs[client]; !ok {
		h.clientSubs[client] = make(map[string]bool)
	}
	count := len(h.clientSubs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	h.logger.Debug("subscriber registered", zap.String("id", client.ID()))

	if h.cfg.SubscribeAllOnConnect {
		h.subscribe(client, "", h.trackedList(), false)
	}
}

// HandleCommand applies one downstream request.
func (h *Hub) HandleCommand(client Subscriber, req protocol.WSRequest) {
	for i, s := range req.Payload.Symbols {
		req.Payload.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	switch req.Action {
	case protocol.ActionSubscribe:
		h.subscribe(client, req.ID, req.Payload.Symbols, true)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) subscribe(client Subscriber, id string, symbols []string, reply bool) {
	h.mu.Lock()

	if _, ok := h.clientSubs[client]; !ok {
		h.clientSubs[client] = make(map[string]bool)
	}

	var valid []string
	for _, s := range symbols {
		if !h.tracked[s] {
			continue
		}
		// Idempotency: Ignore if already subscribed
		if h.clientSubs[client][s] {
			continue
		}
		valid = append(valid, s)
	}

	if len(valid) == 0 {
		if reply {
			h.sendError(client, id, "No valid/new symbols provided")
		}
		h.mu.Unlock()
		return
	}

	ok := true
	if reply {
		ok = h.sendAck(client, id, "success", fmt.Sprintf("Subscribed to %v", valid))
	}

	for _, sym := range valid {
		h.clientSubs[client][sym] = true
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[Subscriber]bool)
		}
		h.subscribers[sym][client] = true

		if ok {
			ok = h.sendHistory(client, sym)
		}
	}

	var dropped bool
	if !ok {
		dropped = h.removeLocked(client)
	}
	count := len(h.clientSubs)
	h.mu.Unlock()

	if dropped {
		h.dropped(client, count)
	}
}

func (h *Hub) handleUnsubscribe(client Subscriber, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, sym := range req.Payload.Symbols {
			if subs[sym] {
				delete(subs, sym)
				h.deleteSubscriber(sym, client)
				removed = append(removed, sym)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
}

func (h *Hub) handleUnsubscribeAll(client Subscriber, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			h.deleteSubscriber(sym, client)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all symbols")
}

// Unregister forgets client and closes it. Calling it for a client the hub
// already removed is a no-op.
func (h *Hub) Unregister(client Subscriber) {
	h.mu.Lock()
	removed := h.removeLocked(client)
	count := len(h.clientSubs)
	h.mu.Unlock()

	if removed {
		h.metrics.SetSubscribers(count)
		h.logger.Debug("subscriber unregistered", zap.String("id", client.ID()))
	}
}

// Publish sends t to every subscriber interested in its symbol. Delivery never
// blocks; a subscriber whose queue is full is removed.
func (h *Hub) Publish(t tick.Tick) {
	msg, err := json.Marshal(protocol.TickMessage{
		Type:   protocol.TypeTick,
		Symbol: t.Symbol,
		Price:  t.Price,
		Volume: t.Volume,
		T:      t.TimestampMillis,
	})
	if err != nil {
		h.logger.Error("failed to encode tick", zap.String("symbol", t.Symbol), zap.Error(err))
		return
	}

	var slow []Subscriber
	h.mu.RLock()
	for client := range h.subscribers[t.Symbol] {
		if !client.Send(msg) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.mu.Lock()
		removed := h.removeLocked(client)
		count := len(h.clientSubs)
		h.mu.Unlock()
		if removed {
			h.dropped(client, count)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientSubs)
}

// Interested returns how many subscribers currently follow symbol.
func (h *Hub) Interested(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[symbol])
}

// History builds the snapshot a new subscriber for symbol would receive.
func (h *Hub) History(symbol string) protocol.HistoryMessage {
	if h.cfg.SeedEnabled && h.store.Len(symbol) < h.cfg.MinHistory {
		return protocol.HistoryMessage{
			Type:   protocol.TypeHistory,
			Symbol: symbol,
			Points: h.seeder.Series(h.seedBase(symbol), h.now()),
			Seeded: true,
		}
	}

	ticks := h.store.Snapshot(symbol, h.cfg.SnapshotPoints)
	points := make([]protocol.Point, len(ticks))
	for i, t := range ticks {
		points[i] = protocol.Point{T: t.TimestampMillis, Price: t.Price}
	}
	return protocol.HistoryMessage{Type: protocol.TypeHistory, Symbol: symbol, Points: points}
}

func (h *Hub) seedBase(symbol string) float64 {
	if last, ok := h.store.Last(symbol); ok {
		return last.Price
	}
	h.seedMu.RLock()
	defer h.seedMu.RUnlock()
	if p, ok := h.seedPrices[symbol]; ok {
		return p
	}
	return DefaultSeedPrice
}

func (h *Hub) sendHistory(client Subscriber, symbol string) bool {
	b, err := json.Marshal(h.History(symbol))
	if err != nil {
		h.logger.Error("failed to encode history", zap.String("symbol", symbol), zap.Error(err))
		return true
	}
	return client.Send(b)
}

func (h *Hub) trackedList() []string {
	out := make([]string, 0, len(h.tracked))
	for s := range h.tracked {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// removeLocked requires h.mu held for writing.
func (h *Hub) removeLocked(client Subscriber) bool {
	subs, ok := h.clientSubs[client]
	if !ok {
		return false
	}
	for sym := range subs {
		h.deleteSubscriber(sym, client)
	}
	delete(h.clientSubs, client)
	client.Close()
	return true
}

func (h *Hub) deleteSubscriber(symbol string, client Subscriber) {
	delete(h.subscribers[symbol], client)
	if len(h.subscribers[symbol]) == 0 {
		delete(h.subscribers, symbol)
	}
}

func (h *Hub) dropped(client Subscriber, count int) {
	h.metrics.RecordSubscriberDrop()
	h.metrics.SetSubscribers(count)
	h.logger.Warn("subscriber removed: send queue full", zap.String("id", client.ID()))
}

func (h *Hub) sendAck(c Subscriber, id, status, msg string) bool {
	return h.sendJSON(c, protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c Subscriber, id, msg string) bool {
	return h.sendJSON(c, protocol.WSResponse{Type: protocol.TypeError, ID: id, Status: "error", Message: msg})
}

func (h *Hub) sendJSON(c Subscriber, v interface{}) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return true
	}
	return c.Send(b)
}
