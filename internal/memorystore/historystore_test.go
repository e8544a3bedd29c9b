package memorystore

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"tickrelay/internal/tick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aapl(ts int64, price float64) tick.Tick {
	return tick.Tick{Symbol: "AAPL", Price: price, TimestampMillis: ts}
}

func assertInvariant(t *testing.T, ticks []tick.Tick, capacity int) {
	t.Helper()
	require.LessOrEqual(t, len(ticks), capacity)
	for i := 1; i < len(ticks); i++ {
		require.Less(t, ticks[i-1].TimestampMillis, ticks[i].TimestampMillis, "history must be strictly ascending at %d", i)
	}
}

// go test -v --run TestPushKeepsOrderUniqueAndBounded
func TestPushKeepsOrderUniqueAndBounded(t *testing.T) {
	const capacity = 50
	s := NewHistoryStore(capacity, 10*time.Second)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		s.Push(aapl(int64(rng.Intn(400)+1), float64(i+1)))
		if i%97 == 0 {
			assertInvariant(t, s.Snapshot("AAPL", capacity*2), capacity)
		}
	}
	assertInvariant(t, s.Snapshot("AAPL", capacity*2), capacity)
	assert.Equal(t, capacity, s.Len("AAPL"))
}

// go test -v --run TestPushReplacesEqualTimestamp
func TestPushReplacesEqualTimestamp(t *testing.T) {
	s := NewHistoryStore(600, 10*time.Second)
	s.Push(aapl(1000, 170.0))
	s.Push(aapl(2000, 171.0))

	replaced := s.Push(aapl(1000, 170.5))

	assert.True(t, replaced)
	assert.Equal(t, []tick.Tick{aapl(1000, 170.5), aapl(2000, 171.0)}, s.Snapshot("AAPL", 10))
}

// go test -v --run TestPushInsertsOutOfOrder
func TestPushInsertsOutOfOrder(t *testing.T) {
	s := NewHistoryStore(600, 10*time.Second)
	s.Push(aapl(3000, 3))
	s.Push(aapl(1000, 1))
	s.Push(aapl(2000, 2))

	assert.Equal(t, []tick.Tick{aapl(1000, 1), aapl(2000, 2), aapl(3000, 3)}, s.Snapshot("AAPL", 10))
	assert.Equal(t, int64(3000), s.LastTickAt("AAPL"))
}

// go test -v --run TestPushEvictsOldest
func TestPushEvictsOldest(t *testing.T) {
	s := NewHistoryStore(3, 10*time.Second)
	for ts := int64(1); ts <= 5; ts++ {
		s.Push(aapl(ts*1000, float64(ts)))
	}

	assert.Equal(t, []tick.Tick{aapl(3000, 3), aapl(4000, 4), aapl(5000, 5)}, s.Snapshot("AAPL", 10))
}

// go test -v --run TestSnapshotIsBoundedCopy
func TestSnapshotIsBoundedCopy(t *testing.T) {
	s := NewHistoryStore(600, 10*time.Second)
	for ts := int64(1); ts <= 10; ts++ {
		s.Push(aapl(ts, float64(ts)))
	}

	snap := s.Snapshot("AAPL", 4)
	require.Len(t, snap, 4)
	assert.Equal(t, int64(7), snap[0].TimestampMillis)
	assert.Equal(t, int64(10), snap[3].TimestampMillis)

	snap[0].Price = -1
	again := s.Snapshot("AAPL", 4)
	assert.Equal(t, float64(7), again[0].Price)
	assert.Equal(t, 10, s.Len("AAPL"))

	assert.Empty(t, s.Snapshot("MSFT", 4))
	assert.Empty(t, s.Snapshot("AAPL", 0))
}

// go test -v --run TestIsFresh
func TestIsFresh(t *testing.T) {
	now := time.UnixMilli(100_000)
	s := NewHistoryStore(600, 10*time.Second, WithClock(func() time.Time { return now }))

	assert.False(t, s.IsFresh("TSLA"))

	s.Push(tick.Tick{Symbol: "TSLA", Price: 230, TimestampMillis: 95_000})
	assert.True(t, s.IsFresh("TSLA"))

	now = time.UnixMilli(105_000)
	assert.False(t, s.IsFresh("TSLA"), "exactly one window old is stale")

	// an older tick never moves lastTickAt backwards
	s.Push(tick.Tick{Symbol: "TSLA", Price: 229, TimestampMillis: 90_000})
	assert.Equal(t, int64(95_000), s.LastTickAt("TSLA"))
}

// go test -v --run TestConcurrentPushes
func TestConcurrentPushes(t *testing.T) {
	s := NewHistoryStore(100, 10*time.Second)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				sym := "AAPL"
				if i%2 == 0 {
					sym = "MSFT"
				}
				s.Push(tick.Tick{Symbol: sym, Price: 1, TimestampMillis: int64(w*1000 + i + 1)})
				_ = s.Snapshot(sym, 20)
			}
		}(w)
	}
	wg.Wait()

	assertInvariant(t, s.Snapshot("AAPL", 1000), 100)
	assertInvariant(t, s.Snapshot("MSFT", 1000), 100)
	assert.Equal(t, []string{"AAPL", "MSFT"}, s.Symbols())
	assert.Equal(t, 200, s.CountAll())
}
