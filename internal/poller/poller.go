package poller

import (
	"context"
	"sync"
	"time"

	"tickrelay/internal/metrics"
	"tickrelay/internal/tick"

	"go.uber.org/zap"
)

// QuoteSource fetches the latest price for a provider symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (tick.Quote, error)
}

// FreshnessChecker reports whether a symbol received a tick recently.
type FreshnessChecker interface {
	IsFresh(symbol string) bool
}

// Sink receives polled quotes as raw trades.
type Sink interface {
	HandleRaw(source tick.Source, raw tick.RawTrade) error
}

// Target pairs a tracked symbol with the symbol the quote source knows it by.
type Target struct {
	Symbol         string
	ProviderSymbol string
}

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poller periodically pulls a quote for every tracked symbol that has gone
// stale. At most one pull per symbol is in flight at a time.
type Poller struct {
	targets []Target
	source  QuoteSource
	fresh   FreshnessChecker
	sink    Sink
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

func New(targets []Target, source QuoteSource, fresh FreshnessChecker, sink Sink, opts Options, logger *zap.Logger, m *metrics.Recorder) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Poller{
		targets:  targets,
		source:   source,
		fresh:    fresh,
		sink:     sink,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		inflight: make(map[string]bool, len(targets)),
	}
}

// Run polls every Interval until ctx is cancelled, then waits for pulls in flight.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer func() {
		ticker.Stop()
		p.wg.Wait()
	}()

	p.logger.Info("fallback poller started", zap.Duration("interval", p.opts.Interval), zap.Int("symbols", len(p.targets)))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce starts a pull for each stale symbol without one in flight and
// returns the number of pulls started.
func (p *Poller) PollOnce(ctx context.Context) int {
	started := 0
	for _, target := range p.targets {
		if p.fresh.IsFresh(target.Symbol) {
			continue
		}
		if !p.acquire(target.Symbol) {
			continue
		}

		started++
		p.wg.Add(1)
		go func(target Target) {
			defer p.wg.Done()
			defer p.release(target.Symbol)
			p.pull(ctx, target)
		}(target)
	}
	return started
}

// Wait blocks until every pull in flight has finished.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) acquire(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[symbol] {
		return false
	}
	p.inflight[symbol] = true
	return true
}

func (p *Poller) release(symbol string) {
	p.mu.Lock()
	delete(p.inflight, symbol)
	p.mu.Unlock()
}

func (p *Poller) pull(ctx context.Context, target Target) {
	// Context with timeout for safety
	reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	q, err := p.source.Quote(reqCtx, target.ProviderSymbol)
	cancel()
	if err != nil {
		p.metrics.RecordPoll(target.Symbol, "error")
		if ctx.Err() == nil {
			p.logger.Warn("fallback quote failed", zap.String("symbol", target.Symbol), zap.Error(err))
		}
		return
	}
	p.metrics.RecordPoll(target.Symbol, "ok")

	raw := tick.RawTrade{
		ProviderSymbol: target.ProviderSymbol,
		Price:          q.Price,
		Timestamp:      float64(q.TimestampSeconds),
		Unit:           tick.UnitSeconds,
	}
	if q.TimestampSeconds <= 0 {
		raw.Timestamp = float64(p.now().UnixMilli())
		raw.Unit = tick.UnitMillis
	}

	if err := p.sink.HandleRaw(tick.SourcePoll, raw); err != nil {
		p.logger.Debug("polled quote rejected", zap.String("symbol", target.Symbol), zap.Error(err))
	}
}
