// Package relay is the composition root gluing ev-port, pal-socket,
// ws-connection and the worker pool into one running proxy host,
// the way the teacher's facade package wires its pal/transport/pool
// layers behind a single entry point for cmd/ to drive.
package relay

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azure-iot/reverse-tunnel/internal/codec"
	"github.com/azure-iot/reverse-tunnel/internal/config"
	"github.com/azure-iot/reverse-tunnel/internal/control"
	"github.com/azure-iot/reverse-tunnel/internal/discovery"
	"github.com/azure-iot/reverse-tunnel/internal/evport"
	"github.com/azure-iot/reverse-tunnel/internal/logging"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
	"github.com/azure-iot/reverse-tunnel/internal/resolver"
	"github.com/azure-iot/reverse-tunnel/internal/tokenprovider"
	"github.com/azure-iot/reverse-tunnel/internal/wsconn"
	"github.com/azure-iot/reverse-tunnel/internal/wsworker"
)

// Host owns one event port, one worker pool and every live Connection
// dialed through it, plus the collaborators every Connection is built
// against.
type Host struct {
	cfg      *config.Config
	store    *control.ConfigStore
	metrics  *control.Metrics
	log      logging.SLogger
	port     evport.Port
	pool     *wsworker.Pool
	provider tokenprovider.Provider
	resolver resolver.Resolver
	browser  discovery.Browser
	codec    codec.Codec

	conns map[*wsconn.Connection]struct{}
}

// Option customizes a Host at construction time.
type Option func(*Host)

// WithTokenProvider overrides the default static no-op token provider.
func WithTokenProvider(p tokenprovider.Provider) Option { return func(h *Host) { h.provider = p } }

// WithResolver overrides the default DNS-backed resolver.
func WithResolver(r resolver.Resolver) Option { return func(h *Host) { h.resolver = r } }

// WithDiscoveryBrowser attaches a service browser used to find proxy
// hosts when Config.ProxyHost is left empty.
func WithDiscoveryBrowser(b discovery.Browser) Option { return func(h *Host) { h.browser = b } }

// WithCodec overrides the default CBOR codec used for control messages.
func WithCodec(c codec.Codec) Option { return func(h *Host) { h.codec = c } }

// WithRegisterer routes Metrics registration through reg instead of the
// default global prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Host) { h.metrics = control.NewMetrics(reg) }
}

// New builds a Host from cfg: one ev-port, one wsworker.Pool sized from
// cfg.WorkerCount, and the default collaborator set, each overridable
// via Option.
func New(cfg *config.Config, log logging.SLogger, opts ...Option) (*Host, error) {
	if log == nil {
		log = logging.DefaultSLogger()
	}
	port, err := evport.New()
	if err != nil {
		return nil, pnerr.New(pnerr.KindFault, "relay.New", err)
	}
	h := &Host{
		cfg:      cfg,
		store:    control.NewConfigStore(cfg),
		log:      log,
		port:     port,
		pool:     wsworker.New(cfg.WorkerCount, 0),
		provider: tokenprovider.Static{},
		resolver: resolver.Default{},
		codec:    codec.CBOR{},
		conns:    make(map[*wsconn.Connection]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = control.NewMetrics(prometheus.DefaultRegisterer)
	}
	h.store.OnReload(func(next *config.Config) { h.cfg = next })
	return h, nil
}

// ConfigStore exposes the Host's live configuration for hot-reload.
func (h *Host) ConfigStore() *control.ConfigStore { return h.store }

// Metrics exposes the Host's Prometheus collectors.
func (h *Host) Metrics() *control.Metrics { return h.metrics }

// Dial establishes a new self-healing Connection to address, assigning
// it to the least-loaded worker and binding it to that worker's
// Scheduler so all of its I/O runs single-threaded.
func (h *Host) Dial(address string, receiver wsconn.ReceiverFunc, receiverCtx any) (*wsconn.Connection, error) {
	target := address
	if target == "" {
		target = h.cfg.ProxyHost
	}
	if target == "" && h.browser != nil {
		found, err := h.browser.Browse(context.Background(), discovery.Query{Timeout: 5000})
		if err != nil {
			return nil, pnerr.New(pnerr.KindNoHost, "relay.Dial", err)
		}
		svc, ok := <-found
		if !ok {
			return nil, pnerr.New(pnerr.KindNoHost, "relay.Dial", nil)
		}
		target = svc.Addr
	}
	if target == "" {
		return nil, pnerr.New(pnerr.KindNoHost, "relay.Dial", nil)
	}
	if h.cfg.Secure() {
		target = "wss://" + target
	} else {
		target = "ws://" + target
	}

	conn, cerr := wsconn.New(nil, h.port, nil, h.log, target, "X-Proxy-User", "X-Proxy-Pwd", h.provider, receiver, receiverCtx)
	if cerr != nil {
		return nil, cerr
	}
	realSched, aerr := h.pool.Assign(conn)
	if aerr != nil {
		return nil, aerr
	}
	conn.BindScheduler(realSched)

	h.conns[conn] = struct{}{}
	h.metrics.ConnectionsActive.Inc()
	conn.Connect(func(ctx any, lastErr pnerr.Kind) bool {
		outcome := "retry"
		if lastErr == pnerr.KindOK {
			outcome = "success"
		}
		h.metrics.Reconnects.WithLabelValues(outcome).Inc()
		return true
	}, nil)
	return conn, nil
}

// Close tears down every live connection and the underlying event port.
func (h *Host) Close() {
	h.pool.Shutdown()
	for c := range h.conns {
		delete(h.conns, c)
		h.metrics.ConnectionsActive.Dec()
	}
	h.port.Shutdown()
}
