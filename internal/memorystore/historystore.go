package memorystore

import (
	"sort"
	"sync"
	"time"

	"tickrelay/internal/tick"
)

// HistoryStore keeps a bounded, time-ordered tick history per symbol.
// It is the single source of truth for both the hub and new subscribers.
type HistoryStore struct {
	globalMu sync.RWMutex
	data     map[string]*symbolHistory

	capacity  int
	freshness time.Duration
	now       func() time.Time
}

type symbolHistory struct {
	mu         sync.RWMutex
	ticks      []tick.Tick // ascending by TimestampMillis, unique timestamps
	lastTickAt int64       // max accepted TimestampMillis
}

// Option configures a HistoryStore.
type Option func(*HistoryStore)

// WithClock overrides the wall clock used by IsFresh.
func WithClock(now func() time.Time) Option {
	return func(s *HistoryStore) { s.now = now }
}

// NewHistoryStore creates a store holding at most capacity ticks per symbol.
// A symbol is fresh while its latest tick is younger than freshness.
func NewHistoryStore(capacity int, freshness time.Duration, opts ...Option) *HistoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	s := &HistoryStore{
		data:      make(map[string]*symbolHistory),
		capacity:  capacity,
		freshness: freshness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track pre-registers symbols so they show up in Symbols before their first tick.
func (s *HistoryStore) Track(symbols ...string) {
	for _, sym := range symbols {
		s.get(sym, true)
	}
}

func (s *HistoryStore) get(symbol string, create bool) *symbolHistory {
	// Fast path: lock per-symbol store only
	s.globalMu.RLock()
	store, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if ok || !create {
		return store
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if store, ok = s.data[symbol]; !ok {
		store = &symbolHistory{}
		s.data[symbol] = store
	}
	return store
}

// Push inserts t in timestamp order. A tick at an existing timestamp replaces
// that entry (last writer wins). The oldest entries are evicted beyond capacity.
// It reports whether an existing entry was replaced.
func (s *HistoryStore) Push(t tick.Tick) bool {
	store := s.get(t.Symbol, true)

	store.mu.Lock()
	defer store.mu.Unlock()

	if t.TimestampMillis > store.lastTickAt {
		store.lastTickAt = t.TimestampMillis
	}

	n := len(store.ticks)
	// Common case: strictly newer than everything held
	if n == 0 || store.ticks[n-1].TimestampMillis < t.TimestampMillis {
		store.ticks = append(store.ticks, t)
		store.evict(s.capacity)
		return false
	}

	i := sort.Search(n, func(i int) bool {
		return store.ticks[i].TimestampMillis >= t.TimestampMillis
	})
	if store.ticks[i].TimestampMillis == t.TimestampMillis {
		store.ticks[i] = t
		return true
	}

	store.ticks = append(store.ticks, tick.Tick{})
	copy(store.ticks[i+1:], store.ticks[i:])
	store.ticks[i] = t
	store.evict(s.capacity)
	return false
}

func (h *symbolHistory) evict(capacity int) {
	excess := len(h.ticks) - capacity
	if excess <= 0 {
		return
	}
	copy(h.ticks, h.ticks[excess:])
	h.ticks = h.ticks[:capacity]
}

// Snapshot returns a copy of the most recent maxPoints ticks, ascending by time.
func (s *HistoryStore) Snapshot(symbol string, maxPoints int) []tick.Tick {
	store := s.get(symbol, false)
	if store == nil || maxPoints <= 0 {
		return []tick.Tick{}
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	start := len(store.ticks) - maxPoints
	if start < 0 {
		start = 0
	}
	cp := make([]tick.Tick, len(store.ticks)-start)
	copy(cp, store.ticks[start:])
	return cp
}

// IsFresh reports whether symbol received a tick within the freshness window.
func (s *HistoryStore) IsFresh(symbol string) bool {
	last := s.LastTickAt(symbol)
	return s.now().UnixMilli()-last < s.freshness.Milliseconds()
}

// LastTickAt returns the latest accepted tick timestamp (ms) for symbol, or 0.
func (s *HistoryStore) LastTickAt(symbol string) int64 {
	store := s.get(symbol, false)
	if store == nil {
		return 0
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.lastTickAt
}

// Last returns the most recent tick held for symbol.
func (s *HistoryStore) Last(symbol string) (tick.Tick, bool) {
	store := s.get(symbol, false)
	if store == nil {
		return tick.Tick{}, false
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	if len(store.ticks) == 0 {
		return tick.Tick{}, false
	}
	return store.ticks[len(store.ticks)-1], true
}

// Len returns the number of ticks held for symbol.
func (s *HistoryStore) Len(symbol string) int {
	store := s.get(symbol, false)
	if store == nil {
		return 0
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.ticks)
}

// Symbols lists every symbol the store knows about, sorted.
func (s *HistoryStore) Symbols() []string {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	out := make([]string, 0, len(s.data))
	for sym := range s.data {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// CountAll returns the total number of ticks stored across all symbols.
func (s *HistoryStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, store := range s.data {
		store.mu.RLock()
		total += len(store.ticks)
		store.mu.RUnlock()
	}
	return total
}
