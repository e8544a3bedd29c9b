package hub_test

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"tickrelay/internal/hub"
	"tickrelay/internal/hub/protocol"
	"tickrelay/internal/memorystore"
	"tickrelay/internal/tick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockClient records every queued message; with limit > 0 it refuses to
// queue more than limit messages.
type mockClient struct {
	id    string
	limit int

	mu     sync.Mutex
	raw    [][]byte
	closed bool
}

func newMockClient(id string) *mockClient { return &mockClient{id: id} }

func (m *mockClient) ID() string { return m.id }

func (m *mockClient) Send(b []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && len(m.raw) >= m.limit {
		return false
	}
	m.raw = append(m.raw, b)
	return true
}

func (m *mockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockClient) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockClient) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.raw))
	for _, b := range m.raw {
		var env protocol.Envelope
		_ = json.Unmarshal(b, &env)
		out = append(out, env.Type)
	}
	return out
}

func (m *mockClient) histories(t *testing.T) []protocol.HistoryMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.HistoryMessage
	for _, b := range m.raw {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		if env.Type != protocol.TypeHistory {
			continue
		}
		var h protocol.HistoryMessage
		require.NoError(t, json.Unmarshal(b, &h))
		out = append(out, h)
	}
	return out
}

var tracked = []string{"AAPL", "MSFT", "TSLA"}

func setup(cfg hub.Config) (*hub.Hub, *memorystore.HistoryStore, time.Time) {
	now := time.UnixMilli(1_700_000_000_000)
	store := memorystore.NewHistoryStore(600, 10*time.Second)
	store.Track(tracked...)
	cfg.TrackedSymbols = tracked
	seeder := hub.NewSeeder(30, time.Second, rand.New(rand.NewPCG(1, 2)))
	h := hub.NewHub(cfg, store, zap.NewNop(), hub.WithSeeder(seeder), hub.WithClock(func() time.Time { return now }))
	return h, store, now
}

func subscribeReq(id string, symbols ...string) protocol.WSRequest {
	return protocol.WSRequest{
		Action:  protocol.ActionSubscribe,
		Payload: protocol.RequestPayload{Symbols: symbols},
		ID:      id,
	}
}

// go test -v --run TestHubSeedsShortHistory
func TestHubSeedsShortHistory(t *testing.T) {
	h, store, now := setup(hub.Config{SeedEnabled: true, MinHistory: 10})
	store.Push(tick.Tick{Symbol: "AAPL", Price: 170.0, TimestampMillis: now.UnixMilli() - 2000})
	store.Push(tick.Tick{Symbol: "AAPL", Price: 170.5, TimestampMillis: now.UnixMilli() - 1000})

	c := newMockClient("c1")
	h.Register(c)
	h.HandleCommand(c, subscribeReq("1", "aapl "))

	hist := c.histories(t)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Seeded)
	require.Len(t, hist[0].Points, 30)
	assert.Equal(t, now.UnixMilli(), hist[0].Points[29].T)
	for i := 1; i < len(hist[0].Points); i++ {
		assert.Equal(t, int64(1000), hist[0].Points[i].T-hist[0].Points[i-1].T)
	}
	// the walk stays within a small band of the last stored price
	assert.InDelta(t, 170.5, hist[0].Points[0].Price, 170.5*0.001)

	// seeding never touches the store
	assert.Equal(t, 2, store.Len("AAPL"))
}

// go test -v --run TestHubSeedBaseFallsBack
func TestHubSeedBaseFallsBack(t *testing.T) {
	h, _, _ := setup(hub.Config{SeedEnabled: true})
	h.SetSeedPrice("MSFT", 410)

	msft := h.History("MSFT")
	assert.True(t, msft.Seeded)
	assert.InDelta(t, 410, msft.Points[0].Price, 1)

	tsla := h.History("TSLA")
	assert.InDelta(t, hub.DefaultSeedPrice, tsla.Points[0].Price, 1)
}

// go test -v --run TestHubSnapshotFromStore
func TestHubSnapshotFromStore(t *testing.T) {
	h, store, _ := setup(hub.Config{SeedEnabled: true, MinHistory: 10, SnapshotPoints: 5})
	for i := int64(1); i <= 12; i++ {
		store.Push(tick.Tick{Symbol: "AAPL", Price: float64(100 + i), TimestampMillis: i * 1000})
	}

	msg := h.History("AAPL")
	assert.False(t, msg.Seeded)
	require.Len(t, msg.Points, 5)
	assert.Equal(t, int64(8000), msg.Points[0].T)
	assert.Equal(t, 112.0, msg.Points[4].Price)
}

// go test -v --run TestHubSnapshotPrecedesTicks
func TestHubSnapshotPrecedesTicks(t *testing.T) {
	h, _, _ := setup(hub.Config{})
	c := newMockClient("c1")
	h.Register(c)

	h.Publish(tick.Tick{Symbol: "AAPL", Price: 1, TimestampMillis: 1000})
	h.HandleCommand(c, subscribeReq("1", "AAPL"))
	h.Publish(tick.Tick{Symbol: "AAPL", Price: 2, TimestampMillis: 2000})
	h.Publish(tick.Tick{Symbol: "MSFT", Price: 3, TimestampMillis: 2000})

	assert.Equal(t, []string{protocol.TypeAck, protocol.TypeHistory, protocol.TypeTick}, c.types())
}

// go test -v --run TestHubSubscribeIdempotent
func TestHubSubscribeIdempotent(t *testing.T) {
	h, _, _ := setup(hub.Config{})
	c := newMockClient("c1")
	h.Register(c)

	h.HandleCommand(c, subscribeReq("1", "AAPL"))
	h.HandleCommand(c, subscribeReq("2", "AAPL"))

	assert.Len(t, c.histories(t), 1)
	assert.Equal(t, protocol.TypeError, c.types()[len(c.types())-1])
	assert.Equal(t, 1, h.Interested("AAPL"))
}

// go test -v --run TestHubRejectsUntracked
func TestHubRejectsUntracked(t *testing.T) {
	h, _, _ := setup(hub.Config{})
	c := newMockClient("c1")
	h.Register(c)

	h.HandleCommand(c, subscribeReq("1", "DOGE"))
	assert.Equal(t, []string{protocol.TypeError}, c.types())

	h.HandleCommand(c, protocol.WSRequest{Action: "explode"})
	assert.Equal(t, []string{protocol.TypeError, protocol.TypeError}, c.types())
}

// go test -v --run TestHubUnsubscribe
func TestHubUnsubscribe(t *testing.T) {
	h, store, _ := setup(hub.Config{})
	c := newMockClient("c1")
	h.Register(c)
	h.HandleCommand(c, subscribeReq("1", "AAPL", "MSFT"))

	h.HandleCommand(c, protocol.WSRequest{Action: protocol.ActionUnsubscribe, Payload: protocol.RequestPayload{Symbols: []string{"AAPL"}}})
	assert.Equal(t, 0, h.Interested("AAPL"))
	assert.Equal(t, 1, h.Interested("MSFT"))

	h.HandleCommand(c, protocol.WSRequest{Action: protocol.ActionUnsubscribeAll})
	assert.Equal(t, 0, h.Interested("MSFT"))
	assert.Equal(t, 1, h.SubscriberCount())

	before := len(c.types())
	store.Push(tick.Tick{Symbol: "MSFT", Price: 1, TimestampMillis: 1})
	h.Publish(tick.Tick{Symbol: "MSFT", Price: 1, TimestampMillis: 1})
	assert.Len(t, c.types(), before)
}

// go test -v --run TestHubRemovesFullSubscriber
func TestHubRemovesFullSubscriber(t *testing.T) {
	h, _, _ := setup(hub.Config{})
	slow := newMockClient("slow")
	fast := newMockClient("fast")
	h.Register(slow)
	h.Register(fast)
	h.HandleCommand(slow, subscribeReq("1", "AAPL"))
	h.HandleCommand(fast, subscribeReq("1", "AAPL"))
	slow.limit = 3 // ack, history, one tick

	for i := int64(1); i <= 3; i++ {
		h.Publish(tick.Tick{Symbol: "AAPL", Price: float64(i), TimestampMillis: i})
	}

	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())
	assert.Equal(t, 1, h.SubscriberCount())
	assert.Len(t, fast.types(), 5)

	// late unregister of an already removed subscriber is harmless
	h.Unregister(slow)
	assert.Equal(t, 1, h.SubscriberCount())
}

// go test -v --run TestHubSubscribeAllOnConnect
func TestHubSubscribeAllOnConnect(t *testing.T) {
	h, _, _ := setup(hub.Config{SubscribeAllOnConnect: true})
	c := newMockClient("c1")
	h.Register(c)

	hist := c.histories(t)
	require.Len(t, hist, 3)
	assert.Equal(t, "AAPL", hist[0].Symbol)
	assert.Equal(t, "TSLA", hist[2].Symbol)
	assert.Equal(t, 1, h.Interested("MSFT"))
}
