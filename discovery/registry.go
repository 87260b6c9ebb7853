package discovery

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/gokit-discovery/errors"
	"github.com/kbukum/gokit-discovery/logger"
	"github.com/kbukum/gokit-discovery/observability"
	"github.com/kbukum/gokit-discovery/resilience"
)

// ServiceRegistry registers, deregisters and reports the status of local
// instances, arming heartbeats for those with a TTL check.
type ServiceRegistry struct {
	catalog   CatalogClient
	cfg       Config
	scheduler *HeartbeatScheduler
	log       *logger.Logger
	metrics   *observability.DiscoveryMetrics
}

// RegistryOption configures a ServiceRegistry.
type RegistryOption func(*ServiceRegistry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l *logger.Logger) RegistryOption {
	return func(r *ServiceRegistry) { r.log = l }
}

// WithRegistryMetrics records registration outcomes on m.
func WithRegistryMetrics(m *observability.DiscoveryMetrics) RegistryOption {
	return func(r *ServiceRegistry) { r.metrics = m }
}

// NewServiceRegistry creates a registry. scheduler may be nil when
// heartbeats are disabled.
func NewServiceRegistry(catalog CatalogClient, cfg Config, scheduler *HeartbeatScheduler, opts ...RegistryOption) *ServiceRegistry {
	r := &ServiceRegistry{
		catalog:   catalog,
		cfg:       cfg,
		scheduler: scheduler,
		log:       logger.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register submits desc to the catalog. When fail_fast is off a catalog
// failure is logged and swallowed, and no heartbeat is armed.
func (r *ServiceRegistry) Register(ctx context.Context, desc *ServiceDescriptor) (err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanRegister,
		attribute.String(observability.AttrInstanceID, desc.ID),
		attribute.String(observability.AttrServiceName, desc.Name))
	defer func() { observability.EndSpan(span, err) }()

	fields := logger.Fields(logger.FieldInstanceID, desc.ID, logger.FieldService, desc.Name)
	r.log.Info("registering service with catalog", fields)

	start := time.Now()
	err = r.submit(ctx, desc)
	r.metrics.RecordCatalogCall(ctx, "register", time.Since(start), err)
	r.metrics.RecordRegistration(ctx, desc.Name, err)
	if err != nil {
		if r.cfg.FailFast {
			r.log.Error("error registering service with catalog", logger.MergeWithError(fields, err))
			return err
		}
		r.log.Warn("fail_fast is false, error registering service with catalog", logger.MergeWithError(fields, err))
		return nil
	}

	if ttl, ok := desc.TTL(); ok && r.cfg.Heartbeat.Enabled && r.scheduler != nil {
		interval := r.cfg.Heartbeat.Interval()
		if interval <= 0 {
			interval = ttl.TTL
		}
		r.scheduler.Track(desc, interval)
	}
	return nil
}

func (r *ServiceRegistry) submit(ctx context.Context, desc *ServiceDescriptor) error {
	register := func() error {
		return r.catalog.RegisterService(ctx, desc, r.cfg.ACLToken)
	}
	if !r.cfg.FailFast || !r.cfg.Retry.Enabled {
		return register()
	}

	retryCfg := r.cfg.Retry.resilience()
	retryCfg.RetryIf = errors.IsRetryable
	retryCfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		r.log.Warn("registration failed, retrying", logger.MergeWithError(logger.Fields(
			logger.FieldInstanceID, desc.ID,
			"attempt", attempt,
			"backoff", backoff.String(),
		), err))
	}
	return resilience.RetryFunc(ctx, retryCfg, register)
}

// Deregister stops the heartbeat for instanceID, then removes it from the catalog.
func (r *ServiceRegistry) Deregister(ctx context.Context, instanceID string) (err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanDeregister,
		attribute.String(observability.AttrInstanceID, instanceID))
	defer func() { observability.EndSpan(span, err) }()

	if r.scheduler != nil {
		r.scheduler.Disarm(instanceID)
	}

	fields := logger.Fields(logger.FieldInstanceID, instanceID)
	r.log.Info("deregistering service with catalog", fields)

	start := time.Now()
	err = r.catalog.DeregisterService(ctx, instanceID, r.cfg.ACLToken)
	r.metrics.RecordCatalogCall(ctx, "deregister", time.Since(start), err)
	if err != nil {
		r.log.Error("error deregistering service", logger.MergeWithError(fields, err))
	}
	return err
}

// SetStatus puts the instance into maintenance for OUT_OF_SERVICE and takes
// it out for UP. Status names are case-insensitive.
func (r *ServiceRegistry) SetStatus(ctx context.Context, reg *Registration, status string) (err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanSetStatus,
		attribute.String(observability.AttrInstanceID, reg.InstanceID()),
		attribute.String(observability.AttrCatalogStatus, status))
	defer func() { observability.EndSpan(span, err) }()

	var enable bool
	switch {
	case strings.EqualFold(status, StatusOutOfService):
		enable = true
	case strings.EqualFold(status, StatusUp):
		enable = false
	default:
		return errors.UnsupportedStatus(status)
	}

	start := time.Now()
	err = r.catalog.SetMaintenance(ctx, reg.InstanceID(), enable)
	r.metrics.RecordCatalogCall(ctx, "set_maintenance", time.Since(start), err)
	if err != nil {
		return err
	}
	r.log.Info("instance status changed", logger.Fields(
		logger.FieldInstanceID, reg.InstanceID(),
		logger.FieldStatus, strings.ToUpper(status),
	))
	return nil
}

// GetStatus returns OUT_OF_SERVICE while the instance is in maintenance, UP otherwise.
func (r *ServiceRegistry) GetStatus(ctx context.Context, reg *Registration) (status string, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanGetStatus,
		attribute.String(observability.AttrInstanceID, reg.InstanceID()))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	checks, err := r.catalog.ListHealthChecksForService(ctx, reg.ServiceName())
	r.metrics.RecordCatalogCall(ctx, "health_checks", time.Since(start), err)
	if err != nil {
		return "", err
	}
	for _, check := range checks {
		if check.ServiceID == reg.InstanceID() && strings.EqualFold(check.Name, MaintenanceCheckName) {
			return StatusOutOfService, nil
		}
	}
	return StatusUp, nil
}

// Close stops all heartbeats.
func (r *ServiceRegistry) Close() error {
	if r.scheduler == nil {
		return nil
	}
	return r.scheduler.Close()
}
