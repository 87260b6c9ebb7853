// Package memory is an in-process catalog for development and tests. TTL
// checks turn critical when no pass arrives within the TTL, and instances
// critical for longer than their deregistration timeout are dropped.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/gokit-discovery/discovery"
	"github.com/kbukum/gokit-discovery/errors"
	"github.com/kbukum/gokit-discovery/logger"
)

// NodeName is the node every instance is reported on.
const NodeName = "memory"

type entry struct {
	desc        *discovery.ServiceDescriptor
	lastPass    time.Time
	passed      bool // a TTL check is critical until its first pass
	maintenance bool
}

// Catalog implements discovery.CatalogClient in memory.
type Catalog struct {
	mu       sync.RWMutex
	services map[string]*entry // keyed by instance id
	failures map[string]error  // keyed by operation
	calls    []string
	now      func() time.Time
	log      *logger.Logger
}

var _ discovery.CatalogClient = (*Catalog)(nil)

func init() {
	discovery.RegisterProviderFactory("memory", func(_ discovery.Config, _ any, log *logger.Logger) (discovery.CatalogClient, error) {
		return New(WithLogger(log)), nil
	})
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithNow replaces time.Now for TTL evaluation.
func WithNow(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithLogger sets the catalog's logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l.WithComponent("memory-catalog")
		}
	}
}

// New creates an empty Catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		services: make(map[string]*entry),
		failures: make(map[string]error),
		now:      time.Now,
		log:      logger.WithComponent("memory-catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Operation names accepted by FailNext and reported by Calls.
const (
	OpRegister     = "register"
	OpDeregister   = "deregister"
	OpMaintenance  = "maintenance"
	OpHealth       = "health service"
	OpServices     = "catalog services"
	OpHealthChecks = "health checks"
	OpCheckPass    = "check pass"
	OpLeader       = "status leader"
)

// FailNext makes the next call of op return err.
func (c *Catalog) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = err
}

// Calls returns the operations invoked so far, in order.
func (c *Catalog) Calls() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.calls)
}

// Service returns a copy of the registered descriptor for instanceID.
func (c *Catalog) Service(instanceID string) (*discovery.ServiceDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.services[instanceID]
	if !ok {
		return nil, false
	}
	return e.desc.Clone(), true
}

// begin records op and returns an injected failure. Callers hold c.mu.
func (c *Catalog) begin(ctx context.Context, op string) error {
	c.calls = append(c.calls, op)
	if err := ctx.Err(); err != nil {
		return errors.Catalog(op, 0, err)
	}
	if err, ok := c.failures[op]; ok {
		delete(c.failures, op)
		return err
	}
	return nil
}

func notFound(op, format string, args ...any) error {
	return errors.Catalog(op, http.StatusNotFound, fmt.Errorf(format, args...))
}

// RegisterService stores desc, replacing an instance with the same id.
func (c *Catalog) RegisterService(ctx context.Context, desc *discovery.ServiceDescriptor, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpRegister); err != nil {
		return err
	}
	if desc.ID == "" || desc.Name == "" {
		return errors.Catalog(OpRegister, http.StatusBadRequest, fmt.Errorf("service id and name are required"))
	}
	c.services[desc.ID] = &entry{desc: desc.Clone(), lastPass: c.now()}
	c.log.Debug("service registered", logger.Fields(logger.FieldInstanceID, desc.ID, logger.FieldService, desc.Name))
	return nil
}

// DeregisterService removes instanceID.
func (c *Catalog) DeregisterService(ctx context.Context, instanceID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpDeregister); err != nil {
		return err
	}
	if _, ok := c.services[instanceID]; !ok {
		return notFound(OpDeregister, "unknown service id %q", instanceID)
	}
	delete(c.services, instanceID)
	return nil
}

// SetMaintenance toggles maintenance mode for instanceID.
func (c *Catalog) SetMaintenance(ctx context.Context, instanceID string, enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpMaintenance); err != nil {
		return err
	}
	e, ok := c.services[instanceID]
	if !ok {
		return notFound(OpMaintenance, "unknown service id %q", instanceID)
	}
	e.maintenance = enable
	return nil
}

// QueryHealthyInstances returns the instances of serviceName sorted by id.
func (c *Catalog) QueryHealthyInstances(ctx context.Context, serviceName string, filter discovery.HealthFilter) ([]discovery.HealthRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpHealth); err != nil {
		return nil, err
	}
	c.reapLocked()

	var out []discovery.HealthRecord
	for _, e := range c.sortedLocked() {
		if e.desc.Name != serviceName {
			continue
		}
		rec := discovery.HealthRecord{
			Node: discovery.NodeRecord{Name: NodeName, Address: "127.0.0.1"},
			Service: discovery.ServiceRecord{
				ID:      e.desc.ID,
				Name:    e.desc.Name,
				Address: e.desc.Address,
				Port:    e.desc.Port,
				Tags:    slices.Clone(e.desc.Tags),
				Meta:    cloneMeta(e.desc.Meta),
			},
			Checks: c.checksLocked(e),
		}
		if matches(rec, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListServiceNames returns each service with the union of its instance tags.
func (c *Catalog) ListServiceNames(ctx context.Context, _ discovery.QueryOptions) (map[string][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpServices); err != nil {
		return nil, err
	}
	c.reapLocked()

	out := make(map[string][]string)
	for _, e := range c.sortedLocked() {
		tags, ok := out[e.desc.Name]
		if !ok {
			tags = []string{}
		}
		for _, t := range e.desc.Tags {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
		out[e.desc.Name] = tags
	}
	return out, nil
}

// ListHealthChecksForService returns the checks of every instance of serviceName.
func (c *Catalog) ListHealthChecksForService(ctx context.Context, serviceName string) ([]discovery.CheckRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpHealthChecks); err != nil {
		return nil, err
	}
	c.reapLocked()

	var out []discovery.CheckRecord
	for _, e := range c.sortedLocked() {
		if e.desc.Name == serviceName {
			out = append(out, c.checksLocked(e)...)
		}
	}
	return out, nil
}

// CheckPass records a pass for the TTL check checkID.
func (c *Catalog) CheckPass(ctx context.Context, checkID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpCheckPass); err != nil {
		return err
	}
	e, ok := c.services[discovery.InstanceIDFromCheckID(checkID)]
	if !ok {
		return notFound(OpCheckPass, "unknown check id %q", checkID)
	}
	if _, ok := e.desc.TTL(); !ok {
		return notFound(OpCheckPass, "CheckID %q does not have associated TTL", checkID)
	}
	e.lastPass = c.now()
	e.passed = true
	return nil
}

// ProbeLeader always answers with NodeName.
func (c *Catalog) ProbeLeader(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpLeader); err != nil {
		return "", err
	}
	return NodeName, nil
}

func (c *Catalog) checksLocked(e *entry) []discovery.CheckRecord {
	var checks []discovery.CheckRecord
	if e.desc.Check != nil {
		checks = append(checks, discovery.CheckRecord{
			CheckID:     discovery.CheckIDFor(e.desc.ID),
			Name:        "Service '" + e.desc.Name + "' check",
			Status:      c.statusLocked(e),
			ServiceID:   e.desc.ID,
			ServiceName: e.desc.Name,
			Node:        NodeName,
		})
	}
	if e.maintenance {
		checks = append(checks, discovery.CheckRecord{
			CheckID:     "_service_maintenance:" + e.desc.ID,
			Name:        discovery.MaintenanceCheckName,
			Status:      discovery.CheckCritical,
			ServiceID:   e.desc.ID,
			ServiceName: e.desc.Name,
			Node:        NodeName,
		})
	}
	return checks
}

func (c *Catalog) statusLocked(e *entry) string {
	if ttl, ok := e.desc.TTL(); ok && (!e.passed || c.now().Sub(e.lastPass) > ttl.TTL) {
		return discovery.CheckCritical
	}
	return discovery.CheckPassing
}

// reapLocked drops instances whose TTL check has been critical for longer
// than their deregistration timeout.
func (c *Catalog) reapLocked() {
	now := c.now()
	for id, e := range c.services {
		ttl, ok := e.desc.TTL()
		if !ok || e.desc.Check.DeregisterCriticalServiceAfter <= 0 {
			continue
		}
		if now.Sub(e.lastPass) > ttl.TTL+e.desc.Check.DeregisterCriticalServiceAfter {
			delete(c.services, id)
			c.log.Info("deregistered critical service", logger.Fields(logger.FieldInstanceID, id))
		}
	}
}

func (c *Catalog) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(c.services))
	for _, e := range c.services {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.desc.ID, b.desc.ID)
	})
	return entries
}

func matches(rec discovery.HealthRecord, filter discovery.HealthFilter) bool {
	for _, tag := range filter.Tags {
		if !slices.Contains(rec.Service.Tags, tag) {
			return false
		}
	}
	if filter.PassingOnly {
		for _, chk := range rec.Checks {
			if chk.Status != discovery.CheckPassing {
				return false
			}
		}
	}
	return true
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
