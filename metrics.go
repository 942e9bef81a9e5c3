package streamlink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics shared by all clients of a process.
// A nil *Metrics records nothing.
type Metrics struct {
	latency            *prometheus.GaugeVec
	state              *prometheus.GaugeVec
	reconnects         *prometheus.CounterVec
	frames             *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	subscriberFailures *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamlink",
			Name:      "heartbeat_latency_seconds",
			Help:      "Round trip between the last heartbeat and its acknowledgment",
		}, []string{"client"}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamlink",
			Name:      "state",
			Help:      "Current lifecycle state (see State constants)",
		}, []string{"client"}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamlink",
			Name:      "reconnects_total",
			Help:      "Connections replaced, by reason",
		}, []string{"client", "reason"}),

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamlink",
			Name:      "frames_total",
			Help:      "Decoded inbound frames, by kind",
		}, []string{"client", "kind"}),

		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamlink",
			Name:      "decode_errors_total",
			Help:      "Inbound chunks that failed to decode",
		}, []string{"client"}),

		subscriberFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamlink",
			Name:      "subscriber_failures_total",
			Help:      "Subscriber invocations that returned an error or panicked",
		}, []string{"client", "event"}),
	}

	for _, c := range []prometheus.Collector{
		m.latency, m.state, m.reconnects, m.frames, m.decodeErrors, m.subscriberFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeLatency(client string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(client).Set(d.Seconds())
}

func (m *Metrics) setState(client string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(client).Set(float64(s))
}

func (m *Metrics) reconnect(client, reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(client, reason).Inc()
}

func (m *Metrics) frame(client string, kind FrameKind) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(client, kind.String()).Inc()
}

func (m *Metrics) decodeError(client string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(client).Inc()
}

func (m *Metrics) subscriberFailure(client, event string) {
	if m == nil {
		return
	}
	m.subscriberFailures.WithLabelValues(client, event).Inc()
}
