package relayclient

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tickrelay/internal/gateway"
	"tickrelay/internal/hub"
	"tickrelay/internal/memorystore"
	"tickrelay/internal/tick"
	"tickrelay/pkg/reconciler"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestHandleHistoryDropsMissingValues
func TestHandleHistoryDropsMissingValues(t *testing.T) {
	c := New("ws://unused", Options{}, zap.NewNop())
	require.NoError(t, c.Subscribe("aapl"))

	c.Handle([]byte(`{"type":"history","symbol":"AAPL","points":[
		{"t":1700000003000,"price":12},
		{"t":1700000001000,"price":null},
		{"t":1700000002000,"price":11},
		{"price":9}
	]}`))

	assert.Equal(t, []reconciler.Point{
		{Time: 1700000002, Value: 11},
		{Time: 1700000003, Value: 12},
	}, c.Book().Points("AAPL"))
}

// go test -v --run TestHandleTickSequence
func TestHandleTickSequence(t *testing.T) {
	c := New("ws://unused", Options{}, zap.NewNop())
	require.NoError(t, c.Subscribe("AAPL"))

	var actions []reconciler.Action
	c.OnUpdate(func(symbol string, a reconciler.Action) { actions = append(actions, a) })

	c.Handle([]byte(`{"type":"tick","symbol":"AAPL","price":100,"t":1700000000000}`))
	c.Handle([]byte(`{"type":"tick","symbol":"AAPL","price":99,"t":1699999999000}`))
	c.Handle([]byte(`{"type":"tick","symbol":"AAPL","price":101,"t":1700000000500}`))
	c.Handle([]byte(`{"type":"tick","symbol":"AAPL","price":102,"t":1700000001000}`))
	c.Handle([]byte(`{"type":"tick","symbol":"MSFT","price":1,"t":1700000001000}`))
	c.Handle([]byte(`not json`))

	assert.Equal(t, []reconciler.Action{
		reconciler.ActionSeeded,
		reconciler.ActionIgnored,
		reconciler.ActionUpdated,
		reconciler.ActionAppended,
	}, actions)

	last, ok := c.Book().Last("AAPL")
	require.True(t, ok)
	assert.Equal(t, reconciler.Point{Time: 1700000001, Value: 102}, last)
	assert.Len(t, c.Book().Points("AAPL"), 4)
	assert.Empty(t, c.Book().Points("MSFT"))
}

// go test -v --run TestUnsubscribeDropsSeries
func TestUnsubscribeDropsSeries(t *testing.T) {
	c := New("ws://unused", Options{}, zap.NewNop())
	require.NoError(t, c.Subscribe("AAPL"))
	c.Handle([]byte(`{"type":"tick","symbol":"AAPL","price":100,"t":10}`))
	require.NotEmpty(t, c.Book().Points("AAPL"))

	require.NoError(t, c.Unsubscribe(" aapl "))
	assert.Empty(t, c.Book().Points("AAPL"))

	c.Handle([]byte(`{"type":"tick","symbol":"AAPL","price":100,"t":11}`))
	assert.Empty(t, c.Book().Points("AAPL"))
}

func TestOrNaN(t *testing.T) {
	assert.True(t, math.IsNaN(orNaN(nil)))
	v := 1.5
	assert.Equal(t, 1.5, orNaN(&v))
}

// go test -v --run TestClientAgainstRelay
func TestClientAgainstRelay(t *testing.T) {
	store := memorystore.NewHistoryStore(600, 10*time.Second)
	store.Track("AAPL")
	now := time.Now().UnixMilli()
	for i := int64(0); i < 12; i++ {
		store.Push(tick.Tick{Symbol: "AAPL", Price: 100 + float64(i), TimestampMillis: now - (12-i)*1000})
	}
	h := hub.NewHub(hub.Config{TrackedSymbols: []string{"AAPL"}}, store, zap.NewNop())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gateway.NewClient(conn, h, zap.NewNop(), gateway.Options{}).Start()
	}))
	t.Cleanup(srv.Close)

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), Options{ReconnectDelay: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, c.Subscribe("AAPL"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(c.Book().Points("AAPL")) == 12
	}, 3*time.Second, 10*time.Millisecond)

	h.Publish(tick.Tick{Symbol: "AAPL", Price: 200, TimestampMillis: now + 5000})
	require.Eventually(t, func() bool {
		last, ok := c.Book().Last("AAPL")
		return ok && last.Value == 200
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, c.Book().Points("AAPL"), 13)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
