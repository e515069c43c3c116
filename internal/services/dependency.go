package services

import (
	"context"
)

// Dependency is an external system the solver needs to do useful work
type Dependency interface {
	// Type returns the dependency kind, e.g. "postgres" or "docker"
	Type() string

	// HealthCheck returns nil when the dependency is reachable
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a Ping method into a Dependency
type PingFunc struct {
	kind string
	ping func(ctx context.Context) error
}

// NewPingFunc wraps ping as a dependency of the given kind
func NewPingFunc(kind string, ping func(ctx context.Context) error) *PingFunc {
	return &PingFunc{kind: kind, ping: ping}
}

// Type returns the dependency kind
func (p *PingFunc) Type() string {
	return p.kind
}

// HealthCheck calls the wrapped ping
func (p *PingFunc) HealthCheck(ctx context.Context) error {
	return p.ping(ctx)
}
