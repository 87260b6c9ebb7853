package consul

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/gokit-discovery/discovery"
	"github.com/kbukum/gokit-discovery/errors"
	"github.com/kbukum/gokit-discovery/logger"
)

// maintenanceReason is recorded by the agent with the maintenance check.
const maintenanceReason = "Service marked out of service"

// Provider implements discovery.CatalogClient against a Consul agent.
type Provider struct {
	client *api.Client
	log    *logger.Logger
}

var _ discovery.CatalogClient = (*Provider)(nil)

func init() {
	discovery.RegisterProviderFactory("consul", func(_ discovery.Config, providerCfg any, log *logger.Logger) (discovery.CatalogClient, error) {
		return fromProviderConfig(providerCfg, log)
	})
}

func fromProviderConfig(providerCfg any, log *logger.Logger) (*Provider, error) {
	var cfg Config
	switch c := providerCfg.(type) {
	case *Config:
		cfg = *c
	case Config:
		cfg = c
	case nil:
	default:
		return nil, fmt.Errorf("consul: unexpected provider config %T", providerCfg)
	}
	return NewProvider(cfg, log)
}

// NewProvider creates a Provider from the given Config.
func NewProvider(cfg Config, log *logger.Logger) (*Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Scheme = cfg.Scheme
	apiCfg.Datacenter = cfg.Datacenter
	apiCfg.Token = cfg.Token
	apiCfg.Namespace = cfg.Namespace
	apiCfg.Partition = cfg.Partition
	if cfg.TLS != nil && cfg.TLS.Enabled {
		apiCfg.TLSConfig = api.TLSConfig{
			Address:            cfg.TLS.ServerName,
			CAFile:             cfg.TLS.CACert,
			CAPath:             cfg.TLS.CAPath,
			CertFile:           cfg.TLS.ClientCert,
			KeyFile:            cfg.TLS.ClientKey,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}
	}
	if t := apiCfg.Transport; t != nil {
		t.DialContext = (&net.Dialer{Timeout: cfg.Transport.DialTimeout, KeepAlive: 30 * time.Second}).DialContext
		t.ResponseHeaderTimeout = cfg.Transport.ReadTimeout
		t.MaxIdleConnsPerHost = cfg.Transport.MaxIdleConnsPerHost
		t.IdleConnTimeout = cfg.Transport.IdleConnTimeout
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Provider{client: client, log: log.WithComponent("consul")}, nil
}

// RegisterService registers desc with the local agent.
func (p *Provider) RegisterService(ctx context.Context, desc *discovery.ServiceDescriptor, token string) error {
	reg := &api.AgentServiceRegistration{
		ID:                desc.ID,
		Name:              desc.Name,
		Address:           desc.Address,
		Port:              desc.Port,
		Tags:              desc.Tags,
		Meta:              desc.Meta,
		EnableTagOverride: desc.EnableTagOverride,
		Check:             toAgentCheck(desc.Check),
	}
	opts := api.ServiceRegisterOpts{Token: token}.WithContext(ctx)
	if err := p.client.Agent().ServiceRegisterOpts(reg, opts); err != nil {
		return catalogError("register", err)
	}
	p.log.Debug("service registered", logger.Fields(
		logger.FieldInstanceID, desc.ID,
		logger.FieldService, desc.Name,
		logger.FieldPort, desc.Port,
	))
	return nil
}

// DeregisterService removes instanceID from the local agent.
func (p *Provider) DeregisterService(ctx context.Context, instanceID, token string) error {
	q := (&api.QueryOptions{Token: token}).WithContext(ctx)
	if err := p.client.Agent().ServiceDeregisterOpts(instanceID, q); err != nil {
		return catalogError("deregister", err)
	}
	return nil
}

// SetMaintenance toggles the agent's maintenance mode for instanceID.
func (p *Provider) SetMaintenance(ctx context.Context, instanceID string, enable bool) error {
	q := (&api.QueryOptions{}).WithContext(ctx)
	var err error
	if enable {
		err = p.client.Agent().EnableServiceMaintenanceOpts(instanceID, maintenanceReason, q)
	} else {
		err = p.client.Agent().DisableServiceMaintenanceOpts(instanceID, q)
	}
	if err != nil {
		return catalogError("maintenance", err)
	}
	return nil
}

// QueryHealthyInstances queries the health endpoint for serviceName.
func (p *Provider) QueryHealthyInstances(ctx context.Context, serviceName string, filter discovery.HealthFilter) ([]discovery.HealthRecord, error) {
	entries, _, err := p.client.Health().ServiceMultipleTags(serviceName, filter.Tags, filter.PassingOnly, queryOptions(ctx, filter.QueryOptions))
	if err != nil {
		return nil, catalogError("health service", err)
	}
	records := make([]discovery.HealthRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, toHealthRecord(e))
	}
	return records, nil
}

// ListServiceNames returns the catalog's services and their tags.
func (p *Provider) ListServiceNames(ctx context.Context, opts discovery.QueryOptions) (map[string][]string, error) {
	services, _, err := p.client.Catalog().Services(queryOptions(ctx, opts))
	if err != nil {
		return nil, catalogError("catalog services", err)
	}
	return services, nil
}

// ListHealthChecksForService returns the checks of every instance of serviceName.
func (p *Provider) ListHealthChecksForService(ctx context.Context, serviceName string) ([]discovery.CheckRecord, error) {
	checks, _, err := p.client.Health().Checks(serviceName, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, catalogError("health checks", err)
	}
	records := make([]discovery.CheckRecord, 0, len(checks))
	for _, c := range checks {
		records = append(records, toCheckRecord(c))
	}
	return records, nil
}

// CheckPass marks the TTL check passing.
func (p *Provider) CheckPass(ctx context.Context, checkID string) error {
	q := (&api.QueryOptions{}).WithContext(ctx)
	if err := p.client.Agent().UpdateTTLOpts(checkID, "", api.HealthPassing, q); err != nil {
		return catalogError("check pass", err)
	}
	return nil
}

// ProbeLeader returns the raft leader address.
func (p *Provider) ProbeLeader(ctx context.Context) (string, error) {
	leader, err := p.client.Status().LeaderWithQueryOptions((&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", catalogError("status leader", err)
	}
	return leader, nil
}

// catalogError keeps the status code the agent answered with; anything else
// is a transport failure with status 0.
func catalogError(op string, err error) error {
	var statusErr api.StatusError
	if stderrors.As(err, &statusErr) {
		return errors.Catalog(op, statusErr.Code, err)
	}
	return errors.Catalog(op, 0, err)
}

func queryOptions(ctx context.Context, opts discovery.QueryOptions) *api.QueryOptions {
	q := &api.QueryOptions{Token: opts.Token}
	switch opts.Consistency {
	case discovery.ConsistencyConsistent:
		q.RequireConsistent = true
	case discovery.ConsistencyStale:
		q.AllowStale = true
	}
	return q.WithContext(ctx)
}

func toAgentCheck(check *discovery.HealthCheck) *api.AgentServiceCheck {
	if check == nil {
		return nil
	}
	out := &api.AgentServiceCheck{}
	if check.DeregisterCriticalServiceAfter > 0 {
		out.DeregisterCriticalServiceAfter = check.DeregisterCriticalServiceAfter.String()
	}
	switch v := check.Variant.(type) {
	case discovery.TTLCheck:
		out.TTL = v.WireTTL()
	case discovery.HTTPCheck:
		out.HTTP = v.URL
		out.Header = v.Header
		out.TLSSkipVerify = v.TLSSkipVerify
		if v.Interval > 0 {
			out.Interval = v.Interval.String()
		}
		if v.Timeout > 0 {
			out.Timeout = v.Timeout.String()
		}
	}
	return out
}

func toHealthRecord(e *api.ServiceEntry) discovery.HealthRecord {
	var rec discovery.HealthRecord
	if e.Node != nil {
		rec.Node = discovery.NodeRecord{Name: e.Node.Node, Address: e.Node.Address}
	}
	if e.Service != nil {
		rec.Service = discovery.ServiceRecord{
			ID:      e.Service.ID,
			Name:    e.Service.Service,
			Address: e.Service.Address,
			Port:    e.Service.Port,
			Tags:    e.Service.Tags,
			Meta:    e.Service.Meta,
		}
	}
	for _, c := range e.Checks {
		rec.Checks = append(rec.Checks, toCheckRecord(c))
	}
	return rec
}

func toCheckRecord(c *api.HealthCheck) discovery.CheckRecord {
	return discovery.CheckRecord{
		CheckID:     c.CheckID,
		Name:        c.Name,
		Status:      c.Status,
		ServiceID:   c.ServiceID,
		ServiceName: c.ServiceName,
		Node:        c.Node,
	}
}
