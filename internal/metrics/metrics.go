package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the relay's Prometheus collectors on its own registry.
// All methods are safe to call on a nil *Recorder.
type Recorder struct {
	registry *prometheus.Registry

	ticksAccepted      *prometheus.CounterVec
	ticksRejected      *prometheus.CounterVec
	lastPrice          *prometheus.GaugeVec
	upstreamStatus     prometheus.Gauge
	upstreamReconnects prometheus.Counter
	pollRequests       *prometheus.CounterVec
	subscribers        prometheus.Gauge
	subscriberDrops    prometheus.Counter
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ticksAccepted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickrelay_ticks_accepted_total",
				Help: "Ticks accepted into the history store",
			},
			[]string{"symbol", "source"},
		),
		ticksRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickrelay_ticks_rejected_total",
				Help: "Provider messages discarded by the normalizer",
			},
			[]string{"reason"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickrelay_last_price",
				Help: "Last accepted price for a symbol",
			},
			[]string{"symbol"},
		),
		upstreamStatus: f.NewGauge(prometheus.GaugeOpts{
			Name: "tickrelay_upstream_status",
			Help: "Upstream connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		}),
		upstreamReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "tickrelay_upstream_reconnects_total",
			Help: "Transitions of the upstream connection into reconnecting",
		}),
		pollRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickrelay_poll_requests_total",
				Help: "Fallback quote requests issued for stale symbols",
			},
			[]string{"symbol", "result"},
		),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "tickrelay_subscribers",
			Help: "Connected downstream subscribers",
		}),
		subscriberDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "tickrelay_subscriber_drops_total",
			Help: "Subscribers removed because their send queue was full",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordAccepted records a tick accepted from source.
func (r *Recorder) RecordAccepted(symbol, source string, price float64) {
	if r == nil {
		return
	}
	r.ticksAccepted.WithLabelValues(symbol, source).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordRejected records a discarded provider message.
func (r *Recorder) RecordRejected(reason string) {
	if r == nil {
		return
	}
	r.ticksRejected.WithLabelValues(reason).Inc()
}

// RecordUpstreamStatus records a state transition of the upstream connection.
func (r *Recorder) RecordUpstreamStatus(status int, reconnecting bool) {
	if r == nil {
		return
	}
	r.upstreamStatus.Set(float64(status))
	if reconnecting {
		r.upstreamReconnects.Inc()
	}
}

// RecordPoll records the outcome ("ok" or "error") of a fallback request.
func (r *Recorder) RecordPoll(symbol, result string) {
	if r == nil {
		return
	}
	r.pollRequests.WithLabelValues(symbol, result).Inc()
}

// SetSubscribers records the number of connected subscribers.
func (r *Recorder) SetSubscribers(n int) {
	if r == nil {
		return
	}
	r.subscribers.Set(float64(n))
}

// RecordSubscriberDrop records a subscriber removed for backpressure.
func (r *Recorder) RecordSubscriberDrop() {
	if r == nil {
		return
	}
	r.subscriberDrops.Inc()
}
