package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"tickrelay/internal/hub/protocol"
	"tickrelay/internal/memorystore"
	"tickrelay/pkg/reconciler"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	ReconnectDelay time.Duration
	WriteWait      time.Duration
}

// Client subscribes to a relay and keeps one reconciled series per symbol.
type Client struct {
	url      string
	opts     Options
	dialer   *websocket.Dialer
	book     *reconciler.Book
	symbols  *memorystore.MemorySymbolStore
	onUpdate func(symbol string, action reconciler.Action)
	logger   *zap.Logger

	mu   sync.Mutex // guards conn and writes on it
	conn *websocket.Conn
	seq  int
}

func New(url string, opts Options, logger *zap.Logger) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	return &Client{
		url:     url,
		opts:    opts,
		dialer:  websocket.DefaultDialer,
		book:    reconciler.NewBook(),
		symbols: memorystore.NewSymbolStore(),
		logger:  logger,
	}
}

// Book returns the reconciled series.
func (c *Client) Book() *reconciler.Book {
	return c.book
}

// OnUpdate registers a hook called on the read loop after every applied message.
func (c *Client) OnUpdate(fn func(symbol string, action reconciler.Action)) {
	c.onUpdate = fn
}

// Subscribe registers symbols; they are (re)requested on every connect.
func (c *Client) Subscribe(symbols ...string) error {
	var added []string
	for _, s := range normalize(symbols) {
		if c.symbols.Add(s) {
			added = append(added, s)
		}
	}
	if len(added) == 0 {
		return nil
	}
	return c.send(protocol.ActionSubscribe, added)
}

// Unsubscribe stops observing symbols and discards their series.
func (c *Client) Unsubscribe(symbols ...string) error {
	var removed []string
	for _, s := range normalize(symbols) {
		if c.symbols.Remove(s) {
			removed = append(removed, s)
			c.book.Drop(s)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	return c.send(protocol.ActionUnsubscribe, removed)
}

func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) send(action string, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.writeLocked(action, symbols)
}

func (c *Client) writeLocked(action string, symbols []string) error {
	c.seq++
	req := protocol.WSRequest{
		Action:  action,
		Payload: protocol.RequestPayload{Symbols: symbols},
		ID:      fmt.Sprintf("%d", c.seq),
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("relay %s failed: %w", action, err)
	}
	return nil
}

// Run connects and reads until ctx is cancelled, reconnecting after every
// failure with a constant delay.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("relay connect failed", zap.String("url", c.url), zap.Error(err))
		} else {
			c.listen(ctx, conn)
		}

		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if symbols := c.symbols.GetAll(); len(symbols) > 0 {
		if err := c.writeLocked(protocol.ActionSubscribe, symbols); err != nil {
			c.conn = nil
			_ = conn.Close()
			return nil, err
		}
	}
	c.logger.Info("connected to relay", zap.String("url", c.url))
	return conn, nil
}

func (c *Client) listen(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("relay read error", zap.Error(err))
			}
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.Handle(msg)
	}
}

// wirePoint decodes missing numbers as NaN so the reconciler drops them.
type wirePoint struct {
	T     *float64 `json:"t"`
	Price *float64 `json:"price"`
}

type wireHistory struct {
	Symbol string      `json:"symbol"`
	Points []wirePoint `json:"points"`
}

type wireTick struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
	T      *float64 `json:"t"`
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Handle applies one server message to the book. Messages for symbols the
// client does not observe are ignored.
func (c *Client) Handle(msg []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Debug("undecodable relay message", zap.Error(err))
		return
	}

	switch env.Type {
	case protocol.TypeHistory:
		var h wireHistory
		if err := json.Unmarshal(msg, &h); err != nil {
			c.logger.Debug("bad history message", zap.Error(err))
			return
		}
		if !c.symbols.Has(h.Symbol) {
			return
		}
		samples := make([]reconciler.Sample, len(h.Points))
		for i, p := range h.Points {
			samples[i] = reconciler.Sample{T: orNaN(p.T), Price: orNaN(p.Price)}
		}
		c.notify(h.Symbol, c.book.ApplySnapshot(h.Symbol, samples))

	case protocol.TypeTick:
		var t wireTick
		if err := json.Unmarshal(msg, &t); err != nil {
			c.logger.Debug("bad tick message", zap.Error(err))
			return
		}
		if !c.symbols.Has(t.Symbol) {
			return
		}
		c.notify(t.Symbol, c.book.ApplyTick(t.Symbol, orNaN(t.T), orNaN(t.Price)))

	case protocol.TypeError:
		var r protocol.WSResponse
		_ = json.Unmarshal(msg, &r)
		c.logger.Warn("relay rejected request", zap.String("id", r.ID), zap.String("message", r.Message))
	}
}

func (c *Client) notify(symbol string, action reconciler.Action) {
	if c.onUpdate != nil {
		c.onUpdate(symbol, action)
	}
}
