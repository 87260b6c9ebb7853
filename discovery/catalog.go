package discovery

import (
	"context"
	"strings"
)

// CatalogClient is the narrow view of the catalog the agent depends on.
// Implementations report failures as errors.Catalog so callers can tell
// errors the catalog answered with from transport failures.
type CatalogClient interface {
	RegisterService(ctx context.Context, desc *ServiceDescriptor, token string) error
	DeregisterService(ctx context.Context, instanceID, token string) error
	SetMaintenance(ctx context.Context, instanceID string, enable bool) error
	QueryHealthyInstances(ctx context.Context, serviceName string, filter HealthFilter) ([]HealthRecord, error)
	ListServiceNames(ctx context.Context, opts QueryOptions) (map[string][]string, error)
	ListHealthChecksForService(ctx context.Context, serviceName string) ([]CheckRecord, error)
	CheckPass(ctx context.Context, checkID string) error
	// ProbeLeader returns the catalog's current leader address.
	ProbeLeader(ctx context.Context) (string, error)
}

// ConsistencyMode selects the read consistency of catalog queries.
type ConsistencyMode string

const (
	ConsistencyDefault    ConsistencyMode = "default"
	ConsistencyConsistent ConsistencyMode = "consistent"
	ConsistencyStale      ConsistencyMode = "stale"
)

// QueryOptions are the per-request parameters shared by catalog reads.
type QueryOptions struct {
	Consistency ConsistencyMode
	Token       string
}

// HealthFilter narrows QueryHealthyInstances.
type HealthFilter struct {
	QueryOptions
	PassingOnly bool
	// Tags must all be present on a returned instance.
	Tags []string
}

// HealthRecord is one service instance together with its node and checks.
type HealthRecord struct {
	Node    NodeRecord
	Service ServiceRecord
	Checks  []CheckRecord
}

// NodeRecord is the catalog node an instance runs on.
type NodeRecord struct {
	Name    string
	Address string
}

// ServiceRecord is the registered service as stored by the catalog.
type ServiceRecord struct {
	ID      string
	Name    string
	Address string
	Port    int
	Tags    []string
	Meta    map[string]string
}

// Check states reported in CheckRecord.Status.
const (
	CheckPassing  = "passing"
	CheckWarning  = "warning"
	CheckCritical = "critical"
)

// MaintenanceCheckName is the name the catalog gives the check it adds while
// an instance is in maintenance mode.
const MaintenanceCheckName = "Service Maintenance Mode"

// CheckRecord is a single health check as reported by the catalog.
type CheckRecord struct {
	CheckID     string
	Name        string
	Status      string
	ServiceID   string
	ServiceName string
	Node        string
}

const checkIDPrefix = "service:"

// CheckIDFor returns the id of the TTL check registered with instanceID.
func CheckIDFor(instanceID string) string {
	if strings.HasPrefix(instanceID, checkIDPrefix) {
		return instanceID
	}
	return checkIDPrefix + instanceID
}

// InstanceIDFromCheckID reverses CheckIDFor.
func InstanceIDFromCheckID(checkID string) string {
	return strings.TrimPrefix(checkID, checkIDPrefix)
}
