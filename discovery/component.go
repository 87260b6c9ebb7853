package discovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kbukum/gokit-discovery/component"
	"github.com/kbukum/gokit-discovery/logger"
	"github.com/kbukum/gokit-discovery/observability"
)

// ProviderFactory creates a CatalogClient from a Config. providerCfg holds
// provider-specific configuration (e.g. consul.Config); providers
// type-assert it to their own type and fall back to defaults on nil.
type ProviderFactory func(cfg Config, providerCfg any, log *logger.Logger) (CatalogClient, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProviderFactory registers a catalog backend factory under name.
// Backend packages call this from init.
func RegisterProviderFactory(name string, f ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[name] = f
}

// Providers returns the registered provider names.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(name string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[name]
	return f, ok
}

// Component owns the catalog connection and the services built on it:
// heartbeat scheduler, registry, discovery client and registration builder.
type Component struct {
	cfg         Config
	providerCfg any
	appName     string
	log         *logger.Logger
	builderOpts []BuilderOption
	schedOpts   []SchedulerOption

	catalog   CatalogClient
	scheduler *HeartbeatScheduler
	registry  *ServiceRegistry
	client    *Client
	builder   *Builder
	auto      *AutoRegistration
}

var _ component.Component = (*Component)(nil)

// ComponentOption configures a Component.
type ComponentOption func(*Component)

// WithBuilderOptions passes options, such as customizers, to the registration builder.
func WithBuilderOptions(opts ...BuilderOption) ComponentOption {
	return func(c *Component) { c.builderOpts = append(c.builderOpts, opts...) }
}

// WithSchedulerOptions passes options to the heartbeat scheduler.
func WithSchedulerOptions(opts ...SchedulerOption) ComponentOption {
	return func(c *Component) { c.schedOpts = append(c.schedOpts, opts...) }
}

// WithCatalog uses catalog instead of creating one from the provider factory.
func WithCatalog(catalog CatalogClient) ComponentOption {
	return func(c *Component) { c.catalog = catalog }
}

// NewComponent creates a discovery Component for the application appName.
// providerCfg holds provider-specific configuration.
func NewComponent(cfg Config, providerCfg any, appName string, log *logger.Logger, opts ...ComponentOption) *Component {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	cfg.ApplyDefaults()
	c := &Component{
		cfg:         cfg,
		providerCfg: providerCfg,
		appName:     appName,
		log:         log.WithComponent("discovery"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.builder = NewBuilder(cfg, c.builderOpts...)
	return c
}

// Name returns the component name.
func (c *Component) Name() string { return "discovery" }

// Start connects to the catalog and wires the registry and client.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("discovery disabled")
		return nil
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	if c.catalog == nil {
		f, ok := lookupFactory(c.cfg.Provider)
		if !ok {
			return fmt.Errorf("unsupported discovery provider %q (not registered)", c.cfg.Provider)
		}
		catalog, err := f(c.cfg, c.providerCfg, c.log)
		if err != nil {
			return fmt.Errorf("discovery start: %w", err)
		}
		c.catalog = catalog
	}

	metrics := observability.MustDiscoveryMetrics()
	if c.cfg.Heartbeat.Enabled {
		opts := append([]SchedulerOption{
			WithSchedulerLogger(c.log.WithComponent("heartbeat")),
			WithMetrics(metrics),
		}, c.schedOpts...)
		c.scheduler = NewHeartbeatScheduler(c.catalog, c.cfg.Heartbeat, c.cfg.ACLToken, opts...)
	}
	c.registry = NewServiceRegistry(c.catalog, c.cfg, c.scheduler,
		WithRegistryLogger(c.log.WithComponent("registry")),
		WithRegistryMetrics(metrics))
	c.client = NewClient(c.catalog, c.cfg, c.log).WithMetrics(metrics)

	c.log.Info("discovery component started", logger.Fields(
		logger.FieldProvider, c.cfg.Provider,
		"heartbeat", c.cfg.Heartbeat.Enabled,
	))
	return nil
}

// Stop stops heartbeats and releases the catalog connection.
func (c *Component) Stop(ctx context.Context) error {
	c.log.Info("discovery component stopping")
	var errs []error
	if c.registry != nil {
		errs = append(errs, c.registry.Close())
	}
	if closer, ok := c.catalog.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return stderrors.Join(errs...)
}

// Health probes the catalog.
func (c *Component) Health(ctx context.Context) component.Health {
	if !c.cfg.Enabled {
		return component.Health{Name: c.Name(), Status: component.StatusHealthy, Message: "disabled"}
	}
	if c.client == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "discovery not initialized"}
	}
	if err := c.client.Probe(ctx); err != nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns a summary for the startup display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Discovery",
		Type:    "discovery",
		Details: fmt.Sprintf("provider=%s service=%s heartbeat=%t", c.cfg.Provider, c.builder.serviceName(RuntimeContext{ApplicationName: c.appName}), c.cfg.Heartbeat.Enabled),
		Port:    c.cfg.Port,
	}
}

// AutoRegistration returns the registration lifecycle bound to this
// component. Register it after the component and before the listeners.
func (c *Component) AutoRegistration() *AutoRegistration {
	if c.auto == nil {
		c.auto = &AutoRegistration{
			builder: c.builder,
			cfg:     c.cfg,
			log:     c.log.WithComponent("auto-registration"),
			rt: RuntimeContext{
				ApplicationName: c.appName,
				ServicePort:     c.cfg.Port,
				ManagementPort:  c.cfg.Management.Port,
			},
			registryFn: c.Registry,
		}
	}
	return c.auto
}

// Catalog returns the catalog client, nil before Start.
func (c *Component) Catalog() CatalogClient { return c.catalog }

// Scheduler returns the heartbeat scheduler, nil when heartbeats are off.
func (c *Component) Scheduler() *HeartbeatScheduler { return c.scheduler }

// Registry returns the service registry, nil before Start.
func (c *Component) Registry() *ServiceRegistry { return c.registry }

// Client returns the discovery client, nil before Start.
func (c *Component) Client() *Client { return c.client }

// Builder returns the registration builder.
func (c *Component) Builder() *Builder { return c.builder }
