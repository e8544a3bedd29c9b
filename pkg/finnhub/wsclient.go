package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"tickrelay/internal/memorystore"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Status is the lifecycle state of the upstream connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WSOptions tunes the connection lifecycle.
type WSOptions struct {
	ReconnectDelay time.Duration // wait before redialing; constant unless BackoffMax is larger
	BackoffMax     time.Duration // cap for doubling the delay; <= ReconnectDelay keeps it constant
	PingInterval   time.Duration
	WriteWait      time.Duration
}

// WSClient owns the single trade stream connection to Finnhub.
// Subscriptions outlive the socket and are replayed after every reconnect.
type WSClient struct {
	url     string
	token   string
	opts    WSOptions
	dialer  *websocket.Dialer
	subs    *memorystore.MemorySymbolStore
	handler func([]byte)
	onState func(Status)
	logger  *zap.Logger

	mu     sync.Mutex // guards conn, status and writes on conn
	conn   *websocket.Conn
	status Status
}

// NewWSClient creates a client for the given stream URL and token.
func NewWSClient(wsURL, token string, opts WSOptions, logger *zap.Logger) *WSClient {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	return &WSClient{
		url:    wsURL,
		token:  token,
		opts:   opts,
		dialer: websocket.DefaultDialer,
		subs:   memorystore.NewSymbolStore(),
		logger: logger,
	}
}

// SetMessageHandler sets the function to handle incoming messages.
// It runs on the read loop and must not block.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// OnStateChange registers a hook called after every status transition.
func (c *WSClient) OnStateChange(fn func(Status)) {
	c.onState = fn
}

// Status returns the current lifecycle state.
func (c *WSClient) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscriptions returns the provider symbols that will be (re)subscribed.
func (c *WSClient) Subscriptions() []string {
	return c.subs.GetAll()
}

// Subscribe registers symbol and, when connected, subscribes it immediately.
// The registration survives reconnects even if the send fails.
func (c *WSClient) Subscribe(symbol string) error {
	if !c.subs.Add(symbol) {
		return nil
	}
	return c.sendIfConnected(controlMessage{Type: "subscribe", Symbol: symbol})
}

// Unsubscribe removes symbol and, when connected, unsubscribes it upstream.
func (c *WSClient) Unsubscribe(symbol string) error {
	if !c.subs.Remove(symbol) {
		return nil
	}
	return c.sendIfConnected(controlMessage{Type: "unsubscribe", Symbol: symbol})
}

func (c *WSClient) sendIfConnected(msg controlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.conn == nil {
		return nil
	}
	if err := c.writeJSONLocked(msg); err != nil {
		return fmt.Errorf("websocket %s %s failed: %w", msg.Type, msg.Symbol, err)
	}
	c.logger.Debug("control message sent", zap.String("type", msg.Type), zap.String("symbol", msg.Symbol))
	return nil
}

func (c *WSClient) writeJSONLocked(v interface{}) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteJSON(v)
}

func (c *WSClient) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	if changed && c.onState != nil {
		c.onState(s)
	}
}

// Run drives the connection until ctx is cancelled:
// Connecting -> Connected -> (close/error) -> Reconnecting -> Connecting ...
// It returns ErrMissingToken without dialing when no token is configured.
func (c *WSClient) Run(ctx context.Context) error {
	if c.token == "" {
		return ErrMissingToken
	}

	delay := c.opts.ReconnectDelay
	for {
		c.setStatus(StatusConnecting)
		conn, err := c.connect(ctx)
		if err != nil {
			c.logger.Error("Failed to connect to WebSocket", zap.String("url", c.url), zap.Error(err))
		} else {
			delay = c.opts.ReconnectDelay
			c.listen(ctx, conn)
		}

		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return nil
		}

		c.setStatus(StatusReconnecting)
		c.logger.Warn("WebSocket closed, reconnecting", zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(StatusDisconnected)
			return nil
		case <-timer.C:
		}
		delay = c.nextDelay(delay)
	}
}

func (c *WSClient) nextDelay(cur time.Duration) time.Duration {
	if c.opts.BackoffMax <= c.opts.ReconnectDelay {
		return c.opts.ReconnectDelay
	}
	next := cur * 2
	if next > c.opts.BackoffMax {
		next = c.opts.BackoffMax
	}
	return next
}

func (c *WSClient) streamURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect dials, marks the client Connected and replays every registered
// subscription while holding the lock, so no Subscribe call can slip between.
func (c *WSClient) connect(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.streamURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.status = StatusConnected
	symbols := c.subs.GetAll()
	for _, s := range symbols {
		if err := c.writeJSONLocked(controlMessage{Type: "subscribe", Symbol: s}); err != nil {
			c.conn = nil
			c.status = StatusConnecting
			c.mu.Unlock()
			_ = conn.Close()
			return nil, fmt.Errorf("websocket subscribe failed: %w", err)
		}
	}
	c.mu.Unlock()

	if c.onState != nil {
		c.onState(StatusConnected)
	}
	c.logger.Info("WebSocket connected", zap.String("url", c.url), zap.Strings("subscribed", symbols))
	return conn, nil
}

// listen reads until the socket fails or ctx is cancelled. Individual
// messages never end the loop; decoding is the handler's business.
func (c *WSClient) listen(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(c.opts.WriteWait)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			c.drop(conn)
			return
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}
