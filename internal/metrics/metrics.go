package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

// Channel holds the metrics of one named channel. A nil *Channel is valid
// and records nothing.
type Channel struct {
	set  *vm.Set
	name string

	framesSent     *vm.Counter
	framesReceived *vm.Counter
	protocolErrors *vm.Counter
	reconnects     *vm.Counter
	staleDetected  *vm.Counter
	timeouts       *vm.Counter
	roundTrip      *vm.Histogram
}

// NewChannel registers the channel's metrics in set. A nil set uses a fresh
// private one.
func NewChannel(set *vm.Set, name string) *Channel {
	if set == nil {
		set = vm.NewSet()
	}
	return &Channel{
		set:            set,
		name:           name,
		framesSent:     set.GetOrCreateCounter(metricName("livewire_frames_sent_total", name)),
		framesReceived: set.GetOrCreateCounter(metricName("livewire_frames_received_total", name)),
		protocolErrors: set.GetOrCreateCounter(metricName("livewire_protocol_errors_total", name)),
		reconnects:     set.GetOrCreateCounter(metricName("livewire_reconnects_total", name)),
		staleDetected:  set.GetOrCreateCounter(metricName("livewire_heartbeat_stale_total", name)),
		timeouts:       set.GetOrCreateCounter(metricName("livewire_request_timeouts_total", name)),
		roundTrip:      set.GetOrCreateHistogram(metricName("livewire_request_duration_seconds", name)),
	}
}

// BindPending exposes the pending request count through fn.
func (c *Channel) BindPending(fn func() int) {
	if c == nil {
		return
	}
	c.set.GetOrCreateGauge(metricName("livewire_pending_requests", c.name), func() float64 {
		return float64(fn())
	})
}

// FrameSent counts an outbound frame.
func (c *Channel) FrameSent() {
	if c != nil {
		c.framesSent.Inc()
	}
}

// FrameReceived counts an inbound frame.
func (c *Channel) FrameReceived() {
	if c != nil {
		c.framesReceived.Inc()
	}
}

// ProtocolError counts a frame that failed to decode.
func (c *Channel) ProtocolError() {
	if c != nil {
		c.protocolErrors.Inc()
	}
}

// Reconnect counts a scheduled reconnect.
func (c *Channel) Reconnect() {
	if c != nil {
		c.reconnects.Inc()
	}
}

// Stale counts a heartbeat staleness detection.
func (c *Channel) Stale() {
	if c != nil {
		c.staleDetected.Inc()
	}
}

// Timeout counts a request that expired.
func (c *Channel) Timeout() {
	if c != nil {
		c.timeouts.Inc()
	}
}

// RoundTrip records the latency of a resolved request.
func (c *Channel) RoundTrip(sentAt time.Time) {
	if c != nil {
		c.roundTrip.UpdateDuration(sentAt)
	}
}

// Recorder holds the frame recorder's metrics.
type Recorder struct {
	flushes  *vm.Counter
	inserted *vm.Counter
	skipped  *vm.Counter
	failures *vm.Counter
}

// NewRecorder registers recorder metrics in set.
func NewRecorder(set *vm.Set, name string) *Recorder {
	if set == nil {
		set = vm.NewSet()
	}
	return &Recorder{
		flushes:  set.GetOrCreateCounter(metricName("livewire_recorder_flushes_total", name)),
		inserted: set.GetOrCreateCounter(metricName("livewire_recorder_inserted_total", name)),
		skipped:  set.GetOrCreateCounter(metricName("livewire_recorder_duplicates_total", name)),
		failures: set.GetOrCreateCounter(metricName("livewire_recorder_failures_total", name)),
	}
}

// Flushed records one successful flush.
func (r *Recorder) Flushed(inserted, duplicates int) {
	if r == nil {
		return
	}
	r.flushes.Inc()
	r.inserted.Add(inserted)
	r.skipped.Add(duplicates)
}

// Failed records one failed flush.
func (r *Recorder) Failed() {
	if r != nil {
		r.failures.Inc()
	}
}

// Handler serves set plus the process metrics in Prometheus text format.
func Handler(set *vm.Set) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w, set)
	})
}

// WritePrometheus writes set plus the process metrics to w.
func WritePrometheus(w io.Writer, set *vm.Set) {
	if set != nil {
		set.WritePrometheus(w)
	}
	vm.WritePrometheus(w, true)
}

func metricName(base, channel string) string {
	return fmt.Sprintf(`%s{channel=%q}`, base, channel)
}
