package streamlink

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	name           string
	logger         *zap.Logger
	registry       *Registry
	dialer         Dialer
	userAgent      string
	reconnectDelay time.Duration
	metrics        *Metrics
	observer       StateObserver
	jitter         func() float64
}

func clientDefaults() options {
	return options{
		logger:         zap.NewNop(),
		reconnectDelay: DefaultReconnectDelay,
		jitter:         rand.Float64,
	}
}

// WithName sets the client name used in logs, errors, events and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry makes the client dispatch into a shared Registry instead
// of a private one.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithDialer replaces the transport factory. Tests use it to inject
// in-memory transports.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithUserAgent sets the User-Agent of the default WebSocket dialer.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithReconnectDelay sets the fixed wait between failed connect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnectDelay = d
		}
	}
}

// WithMetrics records client metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStateObserver registers a callback for every lifecycle transition.
// It runs synchronously on the goroutine that made the transition.
func WithStateObserver(fn StateObserver) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithJitter replaces the source of first-beat jitter. fn must return
// values in [0,1).
func WithJitter(fn func() float64) Option {
	return func(o *options) {
		if fn != nil {
			o.jitter = fn
		}
	}
}
