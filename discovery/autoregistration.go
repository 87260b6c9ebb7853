package discovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/kbukum/gokit-discovery/component"
	"github.com/kbukum/gokit-discovery/errors"
	"github.com/kbukum/gokit-discovery/logger"
)

// NamespaceManagement marks the management listener in a ListenerReadyEvent.
const NamespaceManagement = "management"

// ListenerReadyEvent is published once a listener is bound. Namespace is
// empty for the primary listener.
type ListenerReadyEvent struct {
	Port      int
	Namespace string
}

// AutoRegistration registers the local instance when its listeners come up
// and deregisters it on shutdown.
type AutoRegistration struct {
	// registryFn resolves the registry lazily; it is created when the
	// discovery component starts.
	registryFn func() *ServiceRegistry
	builder    *Builder
	cfg        Config
	log        *logger.Logger

	mu         sync.Mutex
	rt         RuntimeContext
	primary    *Registration
	management *Registration
	started    bool
}

var _ component.Component = (*AutoRegistration)(nil)

// NewAutoRegistration creates the registration lifecycle for appName.
func NewAutoRegistration(registry *ServiceRegistry, builder *Builder, cfg Config, appName string, log *logger.Logger) *AutoRegistration {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &AutoRegistration{
		registryFn: func() *ServiceRegistry { return registry },
		builder:    builder,
		cfg:        cfg,
		log:        log.WithComponent("auto-registration"),
		rt: RuntimeContext{
			ApplicationName: appName,
			ServicePort:     cfg.Port,
			ManagementPort:  cfg.Management.Port,
		},
	}
}

// Name returns the component name.
func (a *AutoRegistration) Name() string { return "auto-registration" }

func (a *AutoRegistration) enabled() bool {
	return a.cfg.Enabled && a.cfg.Register
}

// Start prepares the lifecycle. Registration itself waits for the primary
// listener.
func (a *AutoRegistration) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	if !a.enabled() {
		a.log.Info("auto registration disabled")
		return nil
	}
	if a.registryFn() == nil {
		return fmt.Errorf("auto registration: discovery registry not started")
	}
	a.log.Info("waiting for listener before registering", logger.Fields(
		logger.FieldService, a.builder.serviceName(a.rt),
	))
	return nil
}

// OnListenerReady reacts to a bound listener. The primary listener triggers
// registration once; the management listener records its port and registers
// the management instance if the primary is already registered.
func (a *AutoRegistration) OnListenerReady(ctx context.Context, ev ListenerReadyEvent) error {
	if !a.enabled() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Namespace {
	case NamespaceManagement:
		a.rt.ManagementPort = ev.Port
		if a.primary != nil {
			a.primary.SetManagementPort(ev.Port)
			return a.registerManagementLocked(ctx)
		}
		return nil
	case "":
	default:
		a.log.Debug("ignoring listener", logger.Fields("namespace", ev.Namespace, logger.FieldPort, ev.Port))
		return nil
	}

	if a.primary != nil {
		return nil
	}
	if a.rt.ServicePort == 0 {
		a.rt.ServicePort = ev.Port
	}

	reg, err := a.builder.BuildRegistration(a.rt)
	if err != nil {
		return err
	}
	if err := reg.InitializePort(ev.Port); err != nil {
		return err
	}
	if err := a.registryFn().Register(ctx, reg.Service); err != nil {
		return err
	}
	a.primary = reg
	return a.registerManagementLocked(ctx)
}

func (a *AutoRegistration) registerManagementLocked(ctx context.Context) error {
	if a.management != nil || !a.builder.ManagementApplies(a.rt) {
		return nil
	}
	reg, err := a.builder.BuildManagementRegistration(a.rt)
	if err != nil {
		return err
	}
	if err := a.registryFn().Register(ctx, reg.Service); err != nil {
		return err
	}
	a.management = reg
	return nil
}

// Registration returns the primary registration, nil until the primary
// listener is up.
func (a *AutoRegistration) Registration() *Registration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.primary
}

// ManagementRegistration returns the management registration, if any.
func (a *AutoRegistration) ManagementRegistration() *Registration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.management
}

// Stop deregisters the management instance and then the primary one.
func (a *AutoRegistration) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	if !a.enabled() || !a.cfg.Deregister {
		return nil
	}

	var errs []error
	if a.management != nil {
		if err := a.registryFn().Deregister(ctx, a.management.InstanceID()); err != nil {
			errs = append(errs, err)
		}
		a.management = nil
	}
	if a.primary != nil {
		if err := a.registryFn().Deregister(ctx, a.primary.InstanceID()); err != nil {
			errs = append(errs, err)
		}
		a.primary = nil
	}
	return stderrors.Join(errs...)
}

// Health is healthy once registered, degraded while waiting for the listener.
func (a *AutoRegistration) Health(ctx context.Context) component.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case !a.enabled():
		return component.Health{Name: a.Name(), Status: component.StatusHealthy, Message: "disabled"}
	case a.primary != nil:
		return component.Health{Name: a.Name(), Status: component.StatusHealthy, Message: a.primary.InstanceID()}
	case !a.started:
		return component.Health{Name: a.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	default:
		return component.Health{Name: a.Name(), Status: component.StatusDegraded, Message: "waiting for listener"}
	}
}

// Status reports the primary instance's status. It fails until the primary
// listener has been registered.
func (a *AutoRegistration) Status(ctx context.Context) (string, error) {
	reg, registry, err := a.current()
	if err != nil {
		return "", err
	}
	return registry.GetStatus(ctx, reg)
}

// SetStatus changes the primary instance's status.
func (a *AutoRegistration) SetStatus(ctx context.Context, status string) error {
	reg, registry, err := a.current()
	if err != nil {
		return err
	}
	return registry.SetStatus(ctx, reg, status)
}

func (a *AutoRegistration) current() (*Registration, *ServiceRegistry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	registry := a.registryFn()
	if a.primary == nil || registry == nil {
		return nil, nil, errors.ServiceUnavailable("service registration")
	}
	return a.primary, registry, nil
}
