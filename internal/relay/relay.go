package relay

import (
	"errors"
	"sync"

	"tickrelay/internal/memorystore"
	"tickrelay/internal/metrics"
	"tickrelay/internal/tick"

	"go.uber.org/zap"
)

// Publisher fans accepted ticks out to subscribers.
type Publisher interface {
	Publish(t tick.Tick)
}

// Observer receives accepted ticks after they are stored and published.
// Observe must not block.
type Observer interface {
	Observe(t tick.Tick)
}

// Relay is the single acceptance path shared by the stream and the poller:
// normalize, store, publish.
type Relay struct {
	norm      *tick.Normalizer
	store     *memorystore.HistoryStore
	pub       Publisher
	observers []Observer
	logger    *zap.Logger
	metrics   *metrics.Recorder

	locks sync.Map // symbol -> *sync.Mutex
}

func New(norm *tick.Normalizer, store *memorystore.HistoryStore, pub Publisher, logger *zap.Logger, m *metrics.Recorder, observers ...Observer) *Relay {
	return &Relay{
		norm:      norm,
		store:     store,
		pub:       pub,
		observers: observers,
		logger:    logger,
		metrics:   m,
	}
}

// HandleRaw normalizes raw and accepts the resulting tick. The returned
// error only classifies a discarded message.
func (r *Relay) HandleRaw(source tick.Source, raw tick.RawTrade) error {
	t, err := r.norm.Normalize(raw)
	if err != nil {
		r.metrics.RecordRejected(rejectReason(err))
		return err
	}
	r.Accept(source, t)
	return nil
}

// Accept stores t and publishes it. Push and publish for one symbol are
// serialized so subscribers see ticks in store acceptance order.
func (r *Relay) Accept(source tick.Source, t tick.Tick) {
	mu := r.lock(t.Symbol)
	mu.Lock()
	r.store.Push(t)
	r.pub.Publish(t)
	mu.Unlock()

	r.metrics.RecordAccepted(t.Symbol, string(source), t.Price)
	for _, o := range r.observers {
		o.Observe(t)
	}
}

func (r *Relay) lock(symbol string) *sync.Mutex {
	if mu, ok := r.locks.Load(symbol); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := r.locks.LoadOrStore(symbol, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, tick.ErrUntrackedSymbol):
		return "untracked_symbol"
	case errors.Is(err, tick.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, tick.ErrInvalidTimestamp):
		return "invalid_timestamp"
	default:
		return "other"
	}
}
