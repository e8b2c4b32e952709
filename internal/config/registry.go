package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/transport"
)

// ErrTransportNotRegistered is returned by [Registry.CreateTransport] when no
// factory has been registered under the requested name.
var ErrTransportNotRegistered = errors.New("config: transport not registered")

// BuiltinTransports lists the sink names registered by the application.
// Used by [Validate] to warn about unrecognised transport names.
var BuiltinTransports = []string{"websocket", "log"}

// TransportFactory builds a sink from its configuration. ctx bounds any
// connection setup the factory performs.
type TransportFactory func(ctx context.Context, cfg TransportConfig) (transport.Sink, error)

// Registry maps transport names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]TransportFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]TransportFactory),
	}
}

// RegisterTransport registers a sink factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = factory
}

// CreateTransport instantiates a sink using the factory registered under
// cfg.Name. Returns [ErrTransportNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateTransport(ctx context.Context, cfg TransportConfig) (transport.Sink, error) {
	r.mu.RLock()
	factory, ok := r.transports[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTransportNotRegistered, cfg.Name)
	}
	return factory(ctx, cfg)
}

// Transports returns the registered names in sorted order.
func (r *Registry) Transports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
