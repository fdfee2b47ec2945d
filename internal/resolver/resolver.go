// Package resolver defines the name-resolution collaborator held by the
// relay host, and ships a default stdlib-backed implementation suitable
// for local testing; production name resolution strategies are out of
// core scope. palsocket.Open does not consult a Resolver: it resolves
// addresses with net.LookupIP directly.
package resolver

import (
	"context"
	"net"
)

// Resolver looks up addresses and enumerates local interfaces for bind.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
	Interfaces() ([]net.Interface, error)
}

// Default resolves via the standard library.
type Default struct{}

// Resolve looks up host using net.DefaultResolver.
func (Default) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// Interfaces enumerates local network interfaces.
func (Default) Interfaces() ([]net.Interface, error) {
	return net.Interfaces()
}
