// Package discovery defines the mDNS/DNS-SD announce/browse
// collaborator. Its implementation is out of core scope — only the
// shape consumed by the relay facade is specified here, modeled on the
// announce/browse split used by mDNS client libraries (packet-conn
// based browsers emitting discovered services on a channel).
package discovery

import "context"

// Service is one discoverable endpoint: a name, the host:port it
// resolves to, and free-form TXT attributes.
type Service struct {
	Name string
	Addr string
	Attrs map[string]string
}

// Query selects which services Browse should report.
type Query struct {
	ServiceType string
	Timeout     int // milliseconds, 0 = no timeout
}

// Browser announces this process's own services and browses for peers.
type Browser interface {
	Announce(ctx context.Context, svc Service) error
	Browse(ctx context.Context, q Query) (<-chan Service, error)
}
