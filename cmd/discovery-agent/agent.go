package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/gokit-discovery/component"
	"github.com/kbukum/gokit-discovery/discovery"
	"github.com/kbukum/gokit-discovery/logger"
	"github.com/kbukum/gokit-discovery/server"

	// Catalog backends register their factories on import.
	_ "github.com/kbukum/gokit-discovery/discovery/consul"
	_ "github.com/kbukum/gokit-discovery/discovery/etcd"
	_ "github.com/kbukum/gokit-discovery/discovery/memory"
)

const shutdownTimeout = 15 * time.Second

// agent wires discovery, auto-registration and the HTTP listeners into one
// component registry. Components start in registration order and stop in
// reverse, so listeners close before the instance is deregistered.
type agent struct {
	cfg        agentConfig
	log        *logger.Logger
	components *component.Registry
	discovery  *discovery.Component
	auto       *discovery.AutoRegistration
	http       *server.Server
	management *server.Server
}

func newAgent(cfg agentConfig, log *logger.Logger) (*agent, error) {
	a := &agent{
		cfg:        cfg,
		log:        log,
		components: component.NewRegistry(),
	}
	a.discovery = discovery.NewComponent(cfg.Discovery, cfg.providerConfig(), cfg.Name, log)
	a.auto = a.discovery.AutoRegistration()

	a.http = a.newListener(cfg.Server, "")
	if cfg.Management.Enabled {
		a.management = a.newListener(cfg.Management.Config, discovery.NamespaceManagement)
	}
	statusOn := a.http
	if a.management != nil {
		statusOn = a.management
	}
	if cfg.StatusPath != "" {
		statusOn.RegisterStatusEndpoint(cfg.StatusPath, a.auto)
	}

	order := []component.Component{a.discovery, a.auto}
	if a.management != nil {
		order = append(order, server.NewComponent("management-server", a.management))
	}
	order = append(order, server.NewComponent("http-server", a.http))
	for _, c := range order {
		if err := a.components.Register(c); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// newListener builds a server that announces its bound port to
// auto-registration under namespace.
func (a *agent) newListener(cfg server.Config, namespace string) *server.Server {
	s := server.New(cfg, a.log)
	s.ApplyMiddleware()
	s.RegisterHealthEndpoints(a.cfg.Name, a.cfg.Version, a.components.HealthAll)
	s.OnReady(func(ctx context.Context, port int) error {
		return a.auto.OnListenerReady(ctx, discovery.ListenerReadyEvent{Port: port, Namespace: namespace})
	})
	return s
}

func (a *agent) start(ctx context.Context) error {
	if err := a.components.StartAll(ctx); err != nil {
		return err
	}
	for _, d := range a.components.Describe() {
		a.log.Info("component ready", logger.Fields(
			logger.FieldComponent, d.Name,
			"type", d.Type,
			"details", d.Details,
		))
	}
	return nil
}

func (a *agent) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.components.StopAll(ctx)
}

// run starts the agent and blocks until ctx is done or a signal arrives.
func (a *agent) run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return fmt.Errorf("agent start: %w", err)
	}
	a.log.Info("agent ready, waiting for shutdown signal")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.log.Info("received signal, shutting down", logger.Fields("signal", sig.String()))
	case <-ctx.Done():
	}
	return a.stop()
}
