// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the relay metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "logotopia").
	Namespace string

	// Subsystem is the metrics subsystem (default: "relay").
	Subsystem string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions prometheus.Gauge
	rejectedTotal  prometheus.Counter
	relayedTotal   prometheus.Counter
	droppedTotal   prometheus.Counter
	malformedTotal prometheus.Counter
	evictedTotal   prometheus.Counter
}

func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "logotopia",
		Subsystem: "relay",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_sessions",
			Help:      "Number of admitted sessions",
		}),
		rejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rejected_total",
			Help:      "Connections rejected because the relay was full",
		}),
		relayedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "frames_relayed_total",
			Help:      "Frames handed to recipient send queues",
		}),
		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped for a recipient due to backpressure or a closed transport",
		}),
		malformedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "malformed_messages_total",
			Help:      "Inbound messages dropped because they could not be parsed",
		}),
		evictedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stale_evictions_total",
			Help:      "Sessions removed by the staleness sweep",
		}),
	}
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejectedTotal.Inc()
}

func (m *Metrics) Relayed(sent, dropped int) {
	if m == nil {
		return
	}
	m.relayedTotal.Add(float64(sent))
	m.droppedTotal.Add(float64(dropped))
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformedTotal.Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.evictedTotal.Add(float64(n))
}
