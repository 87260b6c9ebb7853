package discovery

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kbukum/gokit-discovery/errors"
)

const defaultApplicationName = "application"

// Customizer transforms a descriptor before it is registered.
type Customizer func(ServiceDescriptor) ServiceDescriptor

// RuntimeContext carries what is known about the running application when a
// registration is built. Zero ports are not yet known.
type RuntimeContext struct {
	ApplicationName string
	ServicePort     int
	ManagementPort  int
}

// Registration is a built descriptor together with the context it was built
// from, so the port can be filled in once the listener is up.
type Registration struct {
	Service *ServiceDescriptor

	rt         RuntimeContext
	builder    *Builder
	management bool
}

// InstanceID returns the descriptor's instance id.
func (r *Registration) InstanceID() string { return r.Service.ID }

// ServiceName returns the descriptor's service name.
func (r *Registration) ServiceName() string { return r.Service.Name }

// Management reports whether r registers the management listener.
func (r *Registration) Management() bool { return r.management }

// Runtime returns the runtime context r was built with.
func (r *Registration) Runtime() RuntimeContext { return r.rt }

// InitializePort sets the port when none was configured and derives the
// health check, which needs the port.
func (r *Registration) InitializePort(port int) error {
	if r.Service.Port == 0 {
		r.Service.Port = port
	}
	if !r.management {
		r.rt.ServicePort = r.Service.Port
	}
	return r.builder.setCheck(r.Service, r.rt, r.management)
}

// SetManagementPort records the management listener port once it is known.
func (r *Registration) SetManagementPort(port int) {
	r.rt.ManagementPort = port
}

// Builder turns configuration and runtime context into registrations.
type Builder struct {
	cfg                   Config
	customizers           []Customizer
	managementCustomizers []Customizer
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCustomizers appends customizers applied, in order, to the primary registration.
func WithCustomizers(c ...Customizer) BuilderOption {
	return func(b *Builder) { b.customizers = append(b.customizers, c...) }
}

// WithManagementCustomizers appends customizers applied to the management registration.
func WithManagementCustomizers(c ...Customizer) BuilderOption {
	return func(b *Builder) { b.managementCustomizers = append(b.managementCustomizers, c...) }
}

// NewBuilder creates a Builder for cfg.
func NewBuilder(cfg Config, opts ...BuilderOption) *Builder {
	b := &Builder{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildRegistration builds the primary registration. The port is taken from
// configuration when set; otherwise it stays 0 until InitializePort.
func (b *Builder) BuildRegistration(rt RuntimeContext) (*Registration, error) {
	id, err := b.instanceID(rt, b.cfg.IncludeHostnameInInstanceID)
	if err != nil {
		return nil, err
	}
	name, err := NormalizeForDNS(b.serviceName(rt))
	if err != nil {
		return nil, err
	}

	desc := &ServiceDescriptor{
		ID:                id,
		Name:              name,
		Tags:              slices.Clone(b.cfg.Tags),
		Meta:              b.metadata(),
		EnableTagOverride: b.cfg.EnableTagOverride,
	}
	if !b.cfg.PreferAgentAddress {
		desc.Address = b.cfg.Host()
	}

	if b.cfg.Port != 0 {
		desc.Port = b.cfg.Port
		rt.ServicePort = b.cfg.Port
		if err := b.setCheck(desc, rt, false); err != nil {
			return nil, err
		}
	}

	return &Registration{
		Service: customize(desc, b.customizers),
		rt:      rt,
		builder: b,
	}, nil
}

// BuildManagementRegistration builds the registration for the management
// listener. Call it only when ManagementApplies(rt) holds.
func (b *Builder) BuildManagementRegistration(rt RuntimeContext) (*Registration, error) {
	suffix := b.cfg.Management.Suffix

	var id string
	if b.cfg.InstanceID != "" {
		normalized, err := NormalizeForDNS(b.cfg.InstanceID + "-" + suffix)
		if err != nil {
			return nil, err
		}
		id = normalized
	} else {
		base, err := b.instanceID(rt, false)
		if err != nil {
			return nil, err
		}
		id = base + "-" + suffix
	}

	name, err := NormalizeForDNS(b.serviceName(rt))
	if err != nil {
		return nil, err
	}

	port := b.managementPort(rt)
	desc := &ServiceDescriptor{
		ID:                id,
		Name:              name + "-" + suffix,
		Address:           b.cfg.Host(),
		Port:              port,
		Tags:              slices.Clone(b.cfg.Management.Tags),
		Meta:              maps.Clone(b.cfg.Management.Metadata),
		EnableTagOverride: b.cfg.Management.EnableTagOverride,
	}
	if b.cfg.RegisterHealthCheck {
		check, err := b.createCheck(id, port)
		if err != nil {
			return nil, err
		}
		desc.Check = check
	}

	return &Registration{
		Service:    customize(desc, b.managementCustomizers),
		rt:         rt,
		builder:    b,
		management: true,
	}, nil
}

// ManagementApplies reports whether a separate management registration is
// wanted: it is enabled and the management port is known and distinct.
func (b *Builder) ManagementApplies(rt RuntimeContext) bool {
	port := b.managementPort(rt)
	return b.cfg.Management.Register && port != 0 && port != b.servicePort(rt)
}

func (b *Builder) setCheck(desc *ServiceDescriptor, rt RuntimeContext, management bool) error {
	if !b.cfg.RegisterHealthCheck || desc.Check != nil {
		return nil
	}
	port := desc.Port
	if !management && b.ManagementApplies(rt) {
		port = b.managementPort(rt)
	}
	check, err := b.createCheck(desc.ID, port)
	if err != nil {
		return err
	}
	desc.Check = check
	return nil
}

func (b *Builder) createCheck(instanceID string, port int) (*HealthCheck, error) {
	if port == 0 {
		return nil, errors.MissingPort(instanceID)
	}
	check := &HealthCheck{DeregisterCriticalServiceAfter: b.cfg.HealthCheckCriticalTimeout}
	if b.cfg.Heartbeat.Enabled {
		check.Variant = TTLCheck{TTL: b.cfg.Heartbeat.TTL}
		return check, nil
	}

	url := b.cfg.HealthCheckURL
	if url == "" {
		path := b.cfg.HealthCheckPath
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		url = fmt.Sprintf("%s://%s:%d%s", strings.ToLower(b.cfg.Scheme), b.cfg.Host(), port, path)
	}
	check.Variant = HTTPCheck{
		URL:           url,
		Header:        maps.Clone(b.cfg.HealthCheckHeaders),
		Interval:      b.cfg.HealthCheckInterval,
		Timeout:       b.cfg.HealthCheckTimeout,
		TLSSkipVerify: b.cfg.HealthCheckTLSSkipVerify,
	}
	return check, nil
}

func (b *Builder) metadata() map[string]string {
	meta := maps.Clone(b.cfg.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	if b.cfg.InstanceZone != "" {
		meta[b.cfg.DefaultZoneMetadataName] = b.cfg.InstanceZone
	}
	if b.cfg.InstanceGroup != "" {
		meta["group"] = b.cfg.InstanceGroup
	}
	meta[MetaSecure] = strconv.FormatBool(b.cfg.IsSecure())
	return meta
}

// instanceID returns the configured id or a default of the form
// [hostname-]application-port, normalized.
func (b *Builder) instanceID(rt RuntimeContext, includeHostname bool) (string, error) {
	if b.cfg.InstanceID != "" {
		return NormalizeForDNS(b.cfg.InstanceID)
	}

	var parts []string
	if includeHostname && b.cfg.Hostname != "" {
		parts = append(parts, b.cfg.Hostname)
	}
	parts = append(parts, applicationName(rt))
	if port := b.servicePort(rt); port != 0 {
		parts = append(parts, strconv.Itoa(port))
	} else {
		parts = append(parts, uuid.NewString()[:8])
	}
	return NormalizeForDNS(strings.Join(parts, "-"))
}

func (b *Builder) serviceName(rt RuntimeContext) string {
	if b.cfg.ServiceName != "" {
		return b.cfg.ServiceName
	}
	return applicationName(rt)
}

func (b *Builder) servicePort(rt RuntimeContext) int {
	if b.cfg.Port != 0 {
		return b.cfg.Port
	}
	return rt.ServicePort
}

func (b *Builder) managementPort(rt RuntimeContext) int {
	if b.cfg.Management.Port != 0 {
		return b.cfg.Management.Port
	}
	return rt.ManagementPort
}

func applicationName(rt RuntimeContext) string {
	if rt.ApplicationName != "" {
		return rt.ApplicationName
	}
	return defaultApplicationName
}

func customize(desc *ServiceDescriptor, customizers []Customizer) *ServiceDescriptor {
	if len(customizers) == 0 {
		return desc
	}
	out := *desc.Clone()
	for _, c := range customizers {
		out = c(out)
	}
	return &out
}
