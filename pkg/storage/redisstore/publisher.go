package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"tickrelay/internal/tick"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultKeyPrefix     = "stock:"
	DefaultChannelPrefix = "prices."
)

type Options struct {
	KeyPrefix     string
	ChannelPrefix string
	TTL           time.Duration // 0 keeps keys forever
	QueueSize     int
}

// PricePublisher mirrors accepted ticks into Redis: the latest tick is kept
// under KeyPrefix+SYMBOL and every tick is published on ChannelPrefix+SYMBOL.
type PricePublisher struct {
	client  *redis.Client
	opts    Options
	queue   chan tick.Tick
	logger  *zap.Logger
	dropped atomic.Uint64
}

func NewPricePublisher(client *redis.Client, opts Options, logger *zap.Logger) *PricePublisher {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.ChannelPrefix == "" {
		opts.ChannelPrefix = DefaultChannelPrefix
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	return &PricePublisher{
		client: client,
		opts:   opts,
		queue:  make(chan tick.Tick, opts.QueueSize),
		logger: logger,
	}
}

// Observe queues t for publishing without blocking. Ticks are dropped while
// the queue is full.
func (p *PricePublisher) Observe(t tick.Tick) {
	select {
	case p.queue <- t:
	default:
		if n := p.dropped.Add(1); n%1000 == 1 {
			p.logger.Warn("redis publish queue full, dropping ticks", zap.Uint64("dropped", n))
		}
	}
}

// Dropped returns how many ticks Observe discarded.
func (p *PricePublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run publishes queued ticks until ctx is cancelled.
func (p *PricePublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := p.Publish(wctx, t)
			cancel()
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("failed to publish tick to redis", zap.String("symbol", t.Symbol), zap.Error(err))
			}
		}
	}
}

// Publish writes t synchronously in one pipeline.
func (p *PricePublisher) Publish(ctx context.Context, t tick.Tick) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tick: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.opts.KeyPrefix+t.Symbol, payload, p.opts.TTL)
	pipe.Publish(ctx, p.opts.ChannelPrefix+t.Symbol, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// LastTicks fetches the stored latest tick for each symbol (MGET). Symbols
// without a stored value are absent from the result.
func (p *PricePublisher) LastTicks(ctx context.Context, symbols []string) (map[string]tick.Tick, error) {
	out := make(map[string]tick.Tick, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = p.opts.KeyPrefix + sym
	}

	results, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, val := range results {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var t tick.Tick
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			continue // Skip invalid JSON
		}
		out[strings.TrimPrefix(keys[i], p.opts.KeyPrefix)] = t
	}
	return out, nil
}

func (p *PricePublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *PricePublisher) Close() error {
	return p.client.Close()
}
