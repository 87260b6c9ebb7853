package server

import (
	"context"
	"fmt"

	"github.com/kbukum/gokit-discovery/component"
)

var (
	_ component.Component   = (*ServerComponent)(nil)
	_ component.Describable = (*ServerComponent)(nil)
)

// ServerComponent wraps Server to implement component.Component.
type ServerComponent struct {
	name   string
	server *Server
}

// NewComponent returns a component named name backed by s.
func NewComponent(name string, s *Server) *ServerComponent {
	return &ServerComponent{name: name, server: s}
}

// Name returns the component name used for registration.
func (sc *ServerComponent) Name() string { return sc.name }

// Start starts the underlying HTTP server.
func (sc *ServerComponent) Start(ctx context.Context) error {
	return sc.server.Start(ctx)
}

// Stop gracefully shuts down the underlying HTTP server.
func (sc *ServerComponent) Stop(ctx context.Context) error {
	return sc.server.Stop(ctx)
}

// Health reports healthy once the listener is bound.
func (sc *ServerComponent) Health(ctx context.Context) component.Health {
	if sc.server.Port() != 0 {
		return component.Health{Name: sc.name, Status: component.StatusHealthy}
	}
	return component.Health{Name: sc.name, Status: component.StatusUnhealthy, Message: "listener not bound"}
}

// Describe returns the listener summary for the startup display.
func (sc *ServerComponent) Describe() component.Description {
	port := sc.server.Port()
	if port == 0 {
		port = sc.server.config.Port
	}
	return component.Description{
		Name:    sc.name,
		Type:    "server",
		Details: fmt.Sprintf("%s:%d", sc.server.config.Host, port),
		Port:    port,
	}
}
