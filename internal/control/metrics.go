// Package control exposes the operational surface around a running set
// of connections: exported Prometheus metrics and a ConfigStore usable
// for hot-reload. Grounded on gravitational-teleport's and
// nabbar-golib's use of github.com/prometheus/client_golang, this
// generalizes the teacher's ad-hoc MetricsRegistry stub into real
// exported counters and gauges.
package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/azure-iot/reverse-tunnel/internal/config"
)

// Metrics is the set of counters and gauges this module exports.
type Metrics struct {
	Reconnects      *prometheus.CounterVec
	FramesSent      prometheus.Counter
	FramesReceived  prometheus.Counter
	MessagesSent    prometheus.Counter
	MessagesRecv    prometheus.Counter
	OutboundQueueDepth prometheus.Gauge
	InboundQueueDepth  prometheus.Gauge
	ConnectionsActive  prometheus.Gauge
}

// NewMetrics constructs and registers Metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid global-registry collisions
// across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reverse_tunnel",
			Name:      "reconnects_total",
			Help:      "Count of reconnect attempts per connection, labeled by outcome.",
		}, []string{"outcome"}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reverse_tunnel", Name: "frames_sent_total", Help: "Wire frames written.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reverse_tunnel", Name: "frames_received_total", Help: "Wire frames read.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reverse_tunnel", Name: "messages_sent_total", Help: "Reassembled messages sent.",
		}),
		MessagesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reverse_tunnel", Name: "messages_received_total", Help: "Reassembled messages delivered to a receiver.",
		}),
		OutboundQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reverse_tunnel", Name: "outbound_queue_depth", Help: "Buffers currently queued for send across all connections.",
		}),
		InboundQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reverse_tunnel", Name: "inbound_queue_depth", Help: "Buffers currently queued for delivery across all connections.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reverse_tunnel", Name: "connections_active", Help: "Connections currently dialed and not yet closed.",
		}),
	}
	reg.MustRegister(m.Reconnects, m.FramesSent, m.FramesReceived, m.MessagesSent,
		m.MessagesRecv, m.OutboundQueueDepth, m.InboundQueueDepth, m.ConnectionsActive)
	return m
}

// ConfigStore holds the live Config plus subscribers notified on reload.
type ConfigStore struct {
	cur       *config.Config
	listeners []func(*config.Config)
}

// NewConfigStore wraps an already-loaded Config.
func NewConfigStore(initial *config.Config) *ConfigStore {
	return &ConfigStore{cur: initial}
}

// Current returns the presently active Config.
func (s *ConfigStore) Current() *config.Config { return s.cur }

// OnReload registers fn to run whenever Reload installs a new Config.
func (s *ConfigStore) OnReload(fn func(*config.Config)) {
	s.listeners = append(s.listeners, fn)
}

// Reload re-validates and installs path as the active Config, notifying
// every registered listener.
func (s *ConfigStore) Reload(path string) error {
	next, err := config.Load(path)
	if err != nil {
		return err
	}
	s.cur = next
	for _, fn := range s.listeners {
		fn(next)
	}
	return nil
}
