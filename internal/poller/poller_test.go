package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tickrelay/internal/memorystore"
	"tickrelay/internal/tick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	quote tick.Quote
	err   error
	gate  chan struct{} // when set, Quote blocks until it is closed
}

func newFakeSource(q tick.Quote) *fakeSource {
	return &fakeSource{calls: make(map[string]int), quote: q}
}

func (f *fakeSource) Quote(ctx context.Context, symbol string) (tick.Quote, error) {
	f.mu.Lock()
	f.calls[symbol]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return tick.Quote{}, ctx.Err()
		}
	}
	return f.quote, f.err
}

func (f *fakeSource) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

// storeSink normalizes and stores, like the relay does.
type storeSink struct {
	norm  *tick.Normalizer
	store *memorystore.HistoryStore

	mu      sync.Mutex
	sources []tick.Source
}

func (s *storeSink) HandleRaw(source tick.Source, raw tick.RawTrade) error {
	t, err := s.norm.Normalize(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sources = append(s.sources, source)
	s.mu.Unlock()
	s.store.Push(t)
	return nil
}

func setup(now time.Time) (*memorystore.HistoryStore, *storeSink) {
	store := memorystore.NewHistoryStore(600, 10*time.Second, memorystore.WithClock(func() time.Time { return now }))
	store.Track("AAPL", "TSLA")
	return store, &storeSink{norm: tick.NewNormalizer([]string{"AAPL", "TSLA"}, nil), store: store}
}

var targets = []Target{{Symbol: "AAPL", ProviderSymbol: "AAPL"}, {Symbol: "TSLA", ProviderSymbol: "TSLA"}}

// go test -v --run TestPollOnlyStaleSymbols
func TestPollOnlyStaleSymbols(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store, sink := setup(now)
	store.Push(tick.Tick{Symbol: "AAPL", Price: 170, TimestampMillis: now.UnixMilli() - 2000})

	src := newFakeSource(tick.Quote{Price: 250.25, TimestampSeconds: now.Unix()})
	p := New(targets, src, store, sink, Options{Timeout: time.Second}, zap.NewNop(), nil)

	assert.Equal(t, 1, p.PollOnce(context.Background()))
	p.Wait()

	assert.Equal(t, 0, src.count("AAPL"))
	assert.Equal(t, 1, src.count("TSLA"))

	last, ok := store.Last("TSLA")
	require.True(t, ok)
	assert.Equal(t, 250.25, last.Price)
	assert.Equal(t, now.Unix()*1000, last.TimestampMillis)
	assert.Equal(t, []tick.Source{tick.SourcePoll}, sink.sources)
	assert.True(t, store.IsFresh("TSLA"))

	// fresh now: the next interval issues nothing
	assert.Equal(t, 0, p.PollOnce(context.Background()))
}

// go test -v --run TestPollSingleFlight
func TestPollSingleFlight(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store, sink := setup(now)

	src := newFakeSource(tick.Quote{Price: 250})
	src.gate = make(chan struct{})
	p := New(targets[1:], src, store, sink, Options{Timeout: 5 * time.Second}, zap.NewNop(), nil)
	p.now = func() time.Time { return now }

	// overlapping intervals while the first pull is still outstanding
	assert.Equal(t, 1, p.PollOnce(context.Background()))
	assert.Equal(t, 0, p.PollOnce(context.Background()))
	assert.Equal(t, 0, p.PollOnce(context.Background()))

	close(src.gate)
	p.Wait()
	assert.Equal(t, 1, src.count("TSLA"))

	// missing source timestamp falls back to the poll time
	last, ok := store.Last("TSLA")
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), last.TimestampMillis)
}

// go test -v --run TestPollFailureIsRetried
func TestPollFailureIsRetried(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store, sink := setup(now)

	src := newFakeSource(tick.Quote{})
	src.err = errors.New("rate limited")
	p := New(targets[1:], src, store, sink, Options{}, zap.NewNop(), nil)

	p.PollOnce(context.Background())
	p.Wait()
	p.PollOnce(context.Background())
	p.Wait()

	assert.Equal(t, 2, src.count("TSLA"))
	assert.Equal(t, 0, store.Len("TSLA"))
	assert.False(t, store.IsFresh("TSLA"))
}

// go test -v --run TestRunStopsOnCancel
func TestRunStopsOnCancel(t *testing.T) {
	store, sink := setup(time.Now())
	src := newFakeSource(tick.Quote{Price: 1})
	p := New(targets, src, store, sink, Options{Interval: 10 * time.Millisecond}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.count("AAPL") > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
