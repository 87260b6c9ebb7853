package discovery

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/gokit-discovery/logger"
	"github.com/kbukum/gokit-discovery/observability"
)

// Client resolves instances of other services from the catalog.
type Client struct {
	catalog CatalogClient
	cfg     Config
	log     *logger.Logger
	metrics *observability.DiscoveryMetrics
}

// NewClient creates a Client.
func NewClient(catalog CatalogClient, cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Client{
		catalog: catalog,
		cfg:     cfg,
		log:     log.WithComponent("discovery-client"),
	}
}

// WithMetrics returns c recording catalog latency on m.
func (c *Client) WithMetrics(m *observability.DiscoveryMetrics) *Client {
	c.metrics = m
	return c
}

// GetInstances returns the instances of serviceID using the configured
// consistency mode. The result is never nil.
func (c *Client) GetInstances(ctx context.Context, serviceID string) ([]ServiceInstance, error) {
	return c.GetInstancesWithOptions(ctx, serviceID, QueryOptions{
		Consistency: ConsistencyMode(c.cfg.ConsistencyMode),
	})
}

// GetInstancesWithOptions returns the instances of serviceID, filtered by
// the configured passing flag and query tags. The query always carries the
// configured ACL token; only the consistency mode comes from opts.
func (c *Client) GetInstancesWithOptions(ctx context.Context, serviceID string, opts QueryOptions) (instances []ServiceInstance, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanGetInstances,
		attribute.String(observability.AttrServiceName, serviceID))
	defer func() {
		span.SetAttributes(attribute.Int(observability.AttrInstancesResult, len(instances)))
		observability.EndSpan(span, err)
	}()

	opts.Token = c.cfg.ACLToken
	filter := HealthFilter{
		QueryOptions: opts,
		PassingOnly:  c.cfg.QueryPassing,
		Tags:         c.cfg.QueryTagsFor(serviceID),
	}

	start := time.Now()
	records, err := c.catalog.QueryHealthyInstances(ctx, serviceID, filter)
	c.metrics.RecordCatalogCall(ctx, "health_service", time.Since(start), err)
	if err != nil {
		c.log.Warn("instance query failed", logger.MergeWithError(logger.Fields(logger.FieldService, serviceID), err))
		return []ServiceInstance{}, err
	}

	instances = make([]ServiceInstance, 0, len(records))
	for _, rec := range records {
		instances = append(instances, toInstance(serviceID, rec))
	}
	return instances, nil
}

// GetAllInstances returns the instances of every known service.
func (c *Client) GetAllInstances(ctx context.Context) ([]ServiceInstance, error) {
	services, err := c.catalog.ListServiceNames(ctx, QueryOptions{})
	if err != nil {
		return []ServiceInstance{}, err
	}

	all := []ServiceInstance{}
	for _, name := range sortedKeys(services) {
		instances, err := c.GetInstancesWithOptions(ctx, name, QueryOptions{})
		if err != nil {
			return []ServiceInstance{}, err
		}
		all = append(all, instances...)
	}
	return all, nil
}

// GetServices returns the sorted names of all services in the catalog.
func (c *Client) GetServices(ctx context.Context) (names []string, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanGetServices)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	services, err := c.catalog.ListServiceNames(ctx, QueryOptions{Token: c.cfg.ACLToken})
	c.metrics.RecordCatalogCall(ctx, "catalog_services", time.Since(start), err)
	if err != nil {
		return []string{}, err
	}
	return sortedKeys(services), nil
}

// Probe checks that the catalog answers by asking for its leader.
func (c *Client) Probe(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanProbe)
	defer func() { observability.EndSpan(span, err) }()

	_, err = c.catalog.ProbeLeader(ctx)
	return err
}

func toInstance(serviceID string, rec HealthRecord) ServiceInstance {
	host := rec.Service.Address
	if host == "" {
		host = rec.Node.Address
	}
	meta := rec.Service.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return ServiceInstance{
		InstanceID: rec.Service.ID,
		ServiceID:  serviceID,
		Host:       host,
		Port:       rec.Service.Port,
		Secure:     meta[MetaSecure] == "true",
		Tags:       slices.Clone(rec.Service.Tags),
		Metadata:   meta,
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
