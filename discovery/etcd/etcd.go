package etcd

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	"go.etcd.io/etcd/client/pkg/v3/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kbukum/gokit-discovery/discovery"
	"github.com/kbukum/gokit-discovery/errors"
	"github.com/kbukum/gokit-discovery/logger"
)

// Key layout under Config.Prefix:
//
//	services/<name>/<id>  instance record (JSON), bound to the instance lease
//	instances/<id>        index entry (JSON), bound to the same lease
//	maintenance/<id>      maintenance reason, bound to the same lease
const (
	servicesDir    = "services"
	instancesDir   = "instances"
	maintenanceDir = "maintenance"
)

const maintenanceReason = "Service marked out of service"

// instanceRecord is the value stored for each registered instance.
type instanceRecord struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Address           string            `json:"address"`
	Port              int               `json:"port"`
	Tags              []string          `json:"tags,omitempty"`
	Meta              map[string]string `json:"meta,omitempty"`
	EnableTagOverride bool              `json:"enable_tag_override,omitempty"`
	Node              string            `json:"node"`
	CheckType         string            `json:"check_type,omitempty"`
	TTLSeconds        int64             `json:"ttl_seconds,omitempty"`
	CheckURL          string            `json:"check_url,omitempty"`
	RegisteredAt      time.Time         `json:"registered_at"`
}

// indexEntry maps an instance id to its service and lease.
type indexEntry struct {
	Service string `json:"service"`
	Lease   int64  `json:"lease,omitempty"`
}

// Provider implements discovery.CatalogClient on etcd v3. TTL checks are
// leases: CheckPass keeps the lease alive, and an expired lease removes the
// instance, which makes the next CheckPass fail with a not-found error.
// HTTP checks are recorded but not executed.
type Provider struct {
	client  *clientv3.Client
	cfg     Config
	node    string
	log     *logger.Logger
	timeout time.Duration
}

var _ discovery.CatalogClient = (*Provider)(nil)

func init() {
	discovery.RegisterProviderFactory("etcd", func(_ discovery.Config, providerCfg any, log *logger.Logger) (discovery.CatalogClient, error) {
		var cfg Config
		switch c := providerCfg.(type) {
		case *Config:
			cfg = *c
		case Config:
			cfg = c
		case nil:
		default:
			return nil, fmt.Errorf("etcd: unexpected provider config %T", providerCfg)
		}
		return NewProvider(cfg, log)
	})
}

// NewProvider connects to etcd.
func NewProvider(cfg Config, log *logger.Logger) (*Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		info := transport.TLSInfo{
			CertFile:           cfg.TLS.ClientCert,
			KeyFile:            cfg.TLS.ClientKey,
			TrustedCAFile:      cfg.TLS.CACert,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
			ServerName:         cfg.TLS.ServerName,
		}
		tlsCfg, err := info.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("etcd tls: %w", err)
		}
		clientCfg.TLS = tlsCfg
	}

	client, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	return newWithClient(client, cfg, log), nil
}

func newWithClient(client *clientv3.Client, cfg Config, log *logger.Logger) *Provider {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	node, _ := os.Hostname()
	return &Provider{
		client:  client,
		cfg:     cfg,
		node:    node,
		log:     log.WithComponent("etcd"),
		timeout: cfg.RequestTimeout,
	}
}

// Close closes the etcd client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// RegisterService writes the instance record. A TTL check grants a new lease
// and revokes the one held by a previous registration of the same id.
func (p *Provider) RegisterService(ctx context.Context, desc *discovery.ServiceDescriptor, _ string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rec := instanceRecord{
		ID:                desc.ID,
		Name:              desc.Name,
		Address:           desc.Address,
		Port:              desc.Port,
		Tags:              desc.Tags,
		Meta:              desc.Meta,
		EnableTagOverride: desc.EnableTagOverride,
		Node:              p.node,
		RegisteredAt:      time.Now().UTC(),
	}

	var opts []clientv3.OpOption
	entry := indexEntry{Service: desc.Name}
	if desc.Check != nil {
		switch v := desc.Check.Variant.(type) {
		case discovery.TTLCheck:
			ttl := max(int64(v.TTL/time.Second), 1)
			lease, err := p.client.Grant(ctx, ttl)
			if err != nil {
				return catalogError("register", err)
			}
			rec.CheckType, rec.TTLSeconds = "ttl", ttl
			entry.Lease = int64(lease.ID)
			opts = append(opts, clientv3.WithLease(lease.ID))
		case discovery.HTTPCheck:
			rec.CheckType, rec.CheckURL = "http", v.URL
		}
	}

	previous, err := p.lookup(ctx, desc.ID)
	if err != nil {
		return catalogError("register", err)
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return errors.Internal(err)
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return errors.Internal(err)
	}

	ops := []clientv3.Op{
		clientv3.OpPut(p.serviceKey(desc.Name, desc.ID), string(recJSON), opts...),
		clientv3.OpPut(p.key(instancesDir, desc.ID), string(entryJSON), opts...),
	}
	if previous != nil && previous.Service != desc.Name {
		ops = append(ops, clientv3.OpDelete(p.serviceKey(previous.Service, desc.ID)))
	}
	if _, err := p.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return catalogError("register", err)
	}

	if previous != nil && previous.Lease != 0 && previous.Lease != entry.Lease {
		if _, err := p.client.Revoke(ctx, clientv3.LeaseID(previous.Lease)); err != nil && !isLeaseNotFound(err) {
			p.log.Warn("revoking previous lease failed", logger.MergeWithError(logger.Fields(logger.FieldInstanceID, desc.ID), err))
		}
	}
	return nil
}

// DeregisterService removes the instance and revokes its lease.
func (p *Provider) DeregisterService(ctx context.Context, instanceID, _ string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	entry, err := p.lookup(ctx, instanceID)
	if err != nil {
		return catalogError("deregister", err)
	}
	if entry == nil {
		return errors.Catalog("deregister", http.StatusNotFound, fmt.Errorf("unknown service id %q", instanceID))
	}

	_, err = p.client.Txn(ctx).Then(
		clientv3.OpDelete(p.serviceKey(entry.Service, instanceID)),
		clientv3.OpDelete(p.key(instancesDir, instanceID)),
		clientv3.OpDelete(p.key(maintenanceDir, instanceID)),
	).Commit()
	if err != nil {
		return catalogError("deregister", err)
	}
	if entry.Lease != 0 {
		if _, err := p.client.Revoke(ctx, clientv3.LeaseID(entry.Lease)); err != nil && !isLeaseNotFound(err) {
			return catalogError("deregister", err)
		}
	}
	return nil
}

// SetMaintenance writes or removes the maintenance key for instanceID.
func (p *Provider) SetMaintenance(ctx context.Context, instanceID string, enable bool) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	entry, err := p.lookup(ctx, instanceID)
	if err != nil {
		return catalogError("maintenance", err)
	}
	if entry == nil {
		return errors.Catalog("maintenance", http.StatusNotFound, fmt.Errorf("unknown service id %q", instanceID))
	}

	key := p.key(maintenanceDir, instanceID)
	if !enable {
		_, err = p.client.Delete(ctx, key)
	} else if entry.Lease != 0 {
		_, err = p.client.Put(ctx, key, maintenanceReason, clientv3.WithLease(clientv3.LeaseID(entry.Lease)))
	} else {
		_, err = p.client.Put(ctx, key, maintenanceReason)
	}
	if err != nil {
		return catalogError("maintenance", err)
	}
	return nil
}

// QueryHealthyInstances lists the instances of serviceName.
func (p *Provider) QueryHealthyInstances(ctx context.Context, serviceName string, filter discovery.HealthFilter) ([]discovery.HealthRecord, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	records, maint, err := p.instances(ctx, serviceName, filter.Consistency)
	if err != nil {
		return nil, catalogError("health service", err)
	}
	out := make([]discovery.HealthRecord, 0, len(records))
	for _, rec := range records {
		hr := toHealthRecord(rec, maint[rec.ID])
		if matches(hr, filter) {
			out = append(out, hr)
		}
	}
	return out, nil
}

// ListServiceNames returns every service with the union of its instance tags.
func (p *Provider) ListServiceNames(ctx context.Context, opts discovery.QueryOptions) (map[string][]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.client.Get(ctx, p.key(servicesDir, ""), append(readOpts(opts.Consistency), clientv3.WithPrefix())...)
	if err != nil {
		return nil, catalogError("catalog services", err)
	}
	services := make(map[string][]string)
	for _, kv := range resp.Kvs {
		var rec instanceRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			p.log.Warn("skipping malformed instance record", logger.Fields("key", string(kv.Key)))
			continue
		}
		tags := services[rec.Name]
		for _, t := range rec.Tags {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
		if tags == nil {
			tags = []string{}
		}
		services[rec.Name] = tags
	}
	return services, nil
}

// ListHealthChecksForService returns the checks of every instance of serviceName.
func (p *Provider) ListHealthChecksForService(ctx context.Context, serviceName string) ([]discovery.CheckRecord, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	records, maint, err := p.instances(ctx, serviceName, discovery.ConsistencyDefault)
	if err != nil {
		return nil, catalogError("health checks", err)
	}
	var checks []discovery.CheckRecord
	for _, rec := range records {
		checks = append(checks, checksFor(rec, maint[rec.ID])...)
	}
	return checks, nil
}

// CheckPass renews the lease behind the TTL check.
func (p *Provider) CheckPass(ctx context.Context, checkID string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	instanceID := discovery.InstanceIDFromCheckID(checkID)
	entry, err := p.lookup(ctx, instanceID)
	if err != nil {
		return catalogError("check pass", err)
	}
	if entry == nil || entry.Lease == 0 {
		return errors.Catalog("check pass", http.StatusNotFound,
			fmt.Errorf("CheckID %q does not have associated TTL", checkID))
	}
	if _, err := p.client.KeepAliveOnce(ctx, clientv3.LeaseID(entry.Lease)); err != nil {
		return catalogError("check pass", err)
	}
	return nil
}

// ProbeLeader returns the hex member id of the cluster leader.
func (p *Provider) ProbeLeader(ctx context.Context) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var lastErr error
	for _, ep := range p.client.Endpoints() {
		resp, err := p.client.Status(ctx, ep)
		if err != nil {
			lastErr = err
			continue
		}
		return strconv.FormatUint(resp.Leader, 16), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no etcd endpoints")
	}
	return "", catalogError("status leader", lastErr)
}

func (p *Provider) instances(ctx context.Context, serviceName string, mode discovery.ConsistencyMode) ([]instanceRecord, map[string]bool, error) {
	resp, err := p.client.Get(ctx, p.serviceKey(serviceName, ""), append(readOpts(mode), clientv3.WithPrefix())...)
	if err != nil {
		return nil, nil, err
	}
	records := make([]instanceRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec instanceRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			p.log.Warn("skipping malformed instance record", logger.Fields("key", string(kv.Key)))
			continue
		}
		records = append(records, rec)
	}

	maintResp, err := p.client.Get(ctx, p.key(maintenanceDir, ""), append(readOpts(mode), clientv3.WithPrefix(), clientv3.WithKeysOnly())...)
	if err != nil {
		return nil, nil, err
	}
	maint := make(map[string]bool, len(maintResp.Kvs))
	for _, kv := range maintResp.Kvs {
		maint[strings.TrimPrefix(string(kv.Key), p.key(maintenanceDir, ""))] = true
	}
	return records, maint, nil
}

func (p *Provider) lookup(ctx context.Context, instanceID string) (*indexEntry, error) {
	resp, err := p.client.Get(ctx, p.key(instancesDir, instanceID))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var entry indexEntry
	if err := json.Unmarshal(resp.Kvs[0].Value, &entry); err != nil {
		return nil, fmt.Errorf("decode index entry %q: %w", instanceID, err)
	}
	return &entry, nil
}

func (p *Provider) key(dir, name string) string {
	return p.cfg.Prefix + "/" + dir + "/" + name
}

func (p *Provider) serviceKey(service, instanceID string) string {
	return p.key(servicesDir, service) + "/" + instanceID
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func readOpts(mode discovery.ConsistencyMode) []clientv3.OpOption {
	if mode == discovery.ConsistencyStale {
		return []clientv3.OpOption{clientv3.WithSerializable()}
	}
	return nil
}

func checksFor(rec instanceRecord, inMaintenance bool) []discovery.CheckRecord {
	var checks []discovery.CheckRecord
	if rec.CheckType != "" {
		checks = append(checks, discovery.CheckRecord{
			CheckID:     discovery.CheckIDFor(rec.ID),
			Name:        "Service '" + rec.Name + "' check",
			Status:      discovery.CheckPassing,
			ServiceID:   rec.ID,
			ServiceName: rec.Name,
			Node:        rec.Node,
		})
	}
	if inMaintenance {
		checks = append(checks, discovery.CheckRecord{
			CheckID:     "_service_maintenance:" + rec.ID,
			Name:        discovery.MaintenanceCheckName,
			Status:      discovery.CheckCritical,
			ServiceID:   rec.ID,
			ServiceName: rec.Name,
			Node:        rec.Node,
		})
	}
	return checks
}

func toHealthRecord(rec instanceRecord, inMaintenance bool) discovery.HealthRecord {
	return discovery.HealthRecord{
		Node: discovery.NodeRecord{Name: rec.Node},
		Service: discovery.ServiceRecord{
			ID:      rec.ID,
			Name:    rec.Name,
			Address: rec.Address,
			Port:    rec.Port,
			Tags:    rec.Tags,
			Meta:    rec.Meta,
		},
		Checks: checksFor(rec, inMaintenance),
	}
}

func matches(hr discovery.HealthRecord, filter discovery.HealthFilter) bool {
	for _, tag := range filter.Tags {
		if !slices.Contains(hr.Service.Tags, tag) {
			return false
		}
	}
	if filter.PassingOnly {
		for _, c := range hr.Checks {
			if c.Status != discovery.CheckPassing {
				return false
			}
		}
	}
	return true
}

func isLeaseNotFound(err error) bool {
	return stderrors.Is(err, rpctypes.ErrLeaseNotFound) || stderrors.Is(rpctypes.Error(err), rpctypes.ErrLeaseNotFound)
}

// catalogError maps etcd failures to catalog errors. Errors the server
// answered with get an HTTP-equivalent status; unavailability, timeouts and
// cancellation are transport failures with status 0.
func catalogError(op string, err error) error {
	if isLeaseNotFound(err) {
		return errors.Catalog(op, http.StatusNotFound, err)
	}

	code := codes.Unknown
	var etcdErr rpctypes.EtcdError
	if stderrors.As(rpctypes.Error(err), &etcdErr) {
		code = etcdErr.Code()
	} else if s, ok := status.FromError(err); ok {
		code = s.Code()
	}
	return errors.Catalog(op, httpStatus(code), err)
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Internal, codes.DataLoss:
		return http.StatusInternalServerError
	default:
		return 0
	}
}
