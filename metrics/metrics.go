// Package metrics exposes the client's Prometheus instrumentation. Every
// method is safe to call on a nil *Collector, so components can record
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the client metrics.
type Collector struct {
	framesRead      prometheus.Counter
	frameBytes      prometheus.Histogram
	framesOversized prometheus.Counter
	decodeErrors    prometheus.Counter
	handlerPanics   prometheus.Counter
	eventsDelivered *prometheus.CounterVec
	requestsSent    *prometheus.CounterVec
	idleTicks       prometheus.Counter
	sessionState    prometheus.Gauge
	frameQueue      prometheus.Gauge
	eventQueue      prometheus.Gauge
}

// New registers the client metrics with reg under namespace.
//
// Parameters:
//   - reg: Registry to register with; prometheus.DefaultRegisterer if nil
//   - namespace: Metric name prefix (e.g. "ibclient")
//
// Returns:
//   - A Collector; registering twice on the same registry panics
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		framesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_read_total",
			Help:      "Frames taken off the frame queue by the dispatch loop",
		}),
		frameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Payload size of dispatched frames",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}),
		framesOversized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_oversized_total",
			Help:      "Frames discarded for exceeding the maximum message length",
		}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames discarded because they could not be decoded",
		}),
		handlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered from the user event handler",
		}),
		eventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events pushed to the event queue, by kind",
		}, []string{"kind"}),
		requestsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Requests written to the gateway, by message",
		}, []string{"request"}),
		idleTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_ticks_total",
			Help:      "Dispatch loop idle timeouts",
		}),
		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Connection state: 0 unset, 1 connecting, 2 connected, 3 disconnected",
		}),
		frameQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_queue_depth",
			Help:      "Frames waiting for the dispatch loop",
		}),
		eventQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Events waiting for the consumer",
		}),
	}
}

func (c *Collector) FrameRead(size int) {
	if c == nil {
		return
	}
	c.framesRead.Inc()
	c.frameBytes.Observe(float64(size))
}

func (c *Collector) FrameOversized() {
	if c == nil {
		return
	}
	c.framesOversized.Inc()
}

func (c *Collector) DecodeFailed() {
	if c == nil {
		return
	}
	c.decodeErrors.Inc()
}

func (c *Collector) HandlerPanicked() {
	if c == nil {
		return
	}
	c.handlerPanics.Inc()
}

func (c *Collector) EventDelivered(kind string) {
	if c == nil {
		return
	}
	c.eventsDelivered.WithLabelValues(kind).Inc()
}

func (c *Collector) RequestSent(name string) {
	if c == nil {
		return
	}
	c.requestsSent.WithLabelValues(name).Inc()
}

func (c *Collector) Idle() {
	if c == nil {
		return
	}
	c.idleTicks.Inc()
}

func (c *Collector) SetState(state int) {
	if c == nil {
		return
	}
	c.sessionState.Set(float64(state))
}

func (c *Collector) SetFrameQueue(n int) {
	if c == nil {
		return
	}
	c.frameQueue.Set(float64(n))
}

func (c *Collector) SetEventQueue(n int) {
	if c == nil {
		return
	}
	c.eventQueue.Set(float64(n))
}
