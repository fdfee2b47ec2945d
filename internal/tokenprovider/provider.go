// Package tokenprovider defines the bearer-credential collaborator
// ws-connection calls at the start of each connect episode. Acquiring a
// token is the one synchronous, potentially-blocking exchange the
// connection's scheduler thread is permitted to perform (see the
// concurrency model's suspension points).
package tokenprovider

import (
	"context"
	"time"
)

// Token is a bearer credential plus the policy/user property sent in
// the upgrade request's user header.
type Token struct {
	Bearer string
	Policy string
	TTL    time.Duration
}

// Provider acquires fresh bearer tokens on demand.
type Provider interface {
	Acquire(ctx context.Context) (Token, error)
}

// Static always returns the same Token, for tests and for deployments
// with a long-lived, manually rotated credential.
type Static struct {
	Token Token
}

// Acquire returns the configured Token unconditionally.
func (s Static) Acquire(ctx context.Context) (Token, error) {
	return s.Token, nil
}
