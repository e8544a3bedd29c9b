package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// go test -v --run TestRecorder
func TestRecorder(t *testing.T) {
	r := New()

	r.RecordAccepted("AAPL", "stream", 170.5)
	r.RecordAccepted("AAPL", "poll", 171)
	r.RecordRejected("invalid_price")
	r.RecordUpstreamStatus(3, true)
	r.RecordPoll("TSLA", "ok")
	r.SetSubscribers(4)
	r.RecordSubscriberDrop()

	assert.Equal(t, float64(1), testutil.ToFloat64(r.ticksAccepted.WithLabelValues("AAPL", "stream")))
	assert.Equal(t, float64(171), testutil.ToFloat64(r.lastPrice.WithLabelValues("AAPL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.upstreamReconnects))
	assert.Equal(t, float64(3), testutil.ToFloat64(r.upstreamStatus))
	assert.Equal(t, float64(4), testutil.ToFloat64(r.subscribers))
}

// go test -v --run TestNilRecorder
func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordAccepted("AAPL", "stream", 1)
		r.RecordRejected("x")
		r.RecordUpstreamStatus(1, false)
		r.RecordPoll("AAPL", "error")
		r.SetSubscribers(1)
		r.RecordSubscriberDrop()
		_ = r.Handler()
	})
}
