package relay

import (
	"context"
	"sync"
	"time"

	"tickrelay/internal/tick"
	"tickrelay/pkg/storage/postgres"

	"go.uber.org/zap"
)

// PriceArchive persists the last price per instrument.
type PriceArchive interface {
	UpsertPrice(ctx context.Context, record *postgres.InstrumentRecord) error
	ListInstruments(ctx context.Context) ([]postgres.InstrumentRecord, error)
}

// Archiver collects the newest tick per symbol and writes them to the
// archive every interval. Only last prices are kept, never the tick stream.
type Archiver struct {
	archive    PriceArchive
	providerOf func(string) string
	interval   time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	dirty map[string]tick.Tick
}

func NewArchiver(archive PriceArchive, providerOf func(string) string, interval time.Duration, logger *zap.Logger) *Archiver {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Archiver{
		archive:    archive,
		providerOf: providerOf,
		interval:   interval,
		logger:     logger,
		dirty:      make(map[string]tick.Tick),
	}
}

func (a *Archiver) Observe(t tick.Tick) {
	a.mu.Lock()
	if cur, ok := a.dirty[t.Symbol]; !ok || t.TimestampMillis >= cur.TimestampMillis {
		a.dirty[t.Symbol] = t
	}
	a.mu.Unlock()
}

// Pending returns the number of symbols waiting to be flushed.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.dirty)
}

// Flush writes every pending price. Failed writes stay pending unless a
// newer tick arrived meanwhile.
func (a *Archiver) Flush(ctx context.Context) int {
	a.mu.Lock()
	batch := a.dirty
	a.dirty = make(map[string]tick.Tick, len(batch))
	a.mu.Unlock()

	written := 0
	for sym, t := range batch {
		rec := &postgres.InstrumentRecord{
			Symbol:         sym,
			ProviderSymbol: a.providerOf(sym),
			Price:          t.Price,
			PriceAt:        time.UnixMilli(t.TimestampMillis).UTC(),
		}
		if err := a.archive.UpsertPrice(ctx, rec); err != nil {
			a.logger.Warn("failed to archive price", zap.String("symbol", sym), zap.Error(err))
			a.Observe(t)
			continue
		}
		written++
	}
	return written
}

// Run flushes every interval until ctx is cancelled, then flushes once more.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.Flush(final)
			cancel()
			return
		case <-ticker.C:
			if n := a.Flush(ctx); n > 0 {
				a.logger.Debug("archived prices", zap.Int("count", n))
			}
		}
	}
}

// SeedPrices loads archived last prices keyed by symbol.
func (a *Archiver) SeedPrices(ctx context.Context) (map[string]float64, error) {
	recs, err := a.archive.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(recs))
	for _, r := range recs {
		if r.Price > 0 {
			out[r.Symbol] = r.Price
		}
	}
	return out, nil
}
