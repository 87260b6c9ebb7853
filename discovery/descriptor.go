package discovery

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Instance status values accepted by SetStatus and returned by GetStatus.
const (
	StatusUp           = "UP"
	StatusOutOfService = "OUT_OF_SERVICE"
)

// MetaSecure is the metadata key carrying whether the instance speaks https.
const MetaSecure = "secure"

// ServiceDescriptor is the registration payload submitted to the catalog.
type ServiceDescriptor struct {
	ID      string
	Name    string
	Address string
	// Port is 0 until the listener port is known.
	Port              int
	Tags              []string
	Meta              map[string]string
	EnableTagOverride bool
	Check             *HealthCheck
}

// Clone returns a deep copy of d.
func (d *ServiceDescriptor) Clone() *ServiceDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = slices.Clone(d.Tags)
	c.Meta = maps.Clone(d.Meta)
	if d.Check != nil {
		chk := d.Check.clone()
		c.Check = &chk
	}
	return &c
}

// TTL returns the TTL check of d, if it has one.
func (d *ServiceDescriptor) TTL() (TTLCheck, bool) {
	if d == nil || d.Check == nil {
		return TTLCheck{}, false
	}
	ttl, ok := d.Check.Variant.(TTLCheck)
	return ttl, ok
}

func (d *ServiceDescriptor) String() string {
	return fmt.Sprintf("ServiceDescriptor{id=%s name=%s address=%s port=%d tags=%v}",
		d.ID, d.Name, d.Address, d.Port, d.Tags)
}

// HealthCheck is the catalog-side check attached to a descriptor.
type HealthCheck struct {
	Variant CheckVariant
	// DeregisterCriticalServiceAfter is 0 when the catalog should keep
	// critical instances.
	DeregisterCriticalServiceAfter time.Duration
}

func (h HealthCheck) clone() HealthCheck {
	if hc, ok := h.Variant.(HTTPCheck); ok {
		hc.Header = maps.Clone(hc.Header)
		h.Variant = hc
	}
	return h
}

// CheckVariant is implemented by TTLCheck and HTTPCheck only.
type CheckVariant interface {
	isCheckVariant()
}

// TTLCheck is satisfied by explicit pass signals at least once per TTL.
type TTLCheck struct {
	TTL time.Duration
}

// HTTPCheck is probed by the catalog.
type HTTPCheck struct {
	URL           string
	Header        map[string][]string
	Interval      time.Duration
	Timeout       time.Duration
	TLSSkipVerify bool
}

func (TTLCheck) isCheckVariant()  {}
func (HTTPCheck) isCheckVariant() {}

// WireTTL renders the TTL as whole seconds, e.g. "30s".
func (t TTLCheck) WireTTL() string {
	return strconv.FormatInt(int64(t.TTL/time.Second), 10) + "s"
}

// ServiceInstance is a resolved instance of another service.
type ServiceInstance struct {
	InstanceID string
	ServiceID  string
	Host       string
	Port       int
	Secure     bool
	Tags       []string
	Metadata   map[string]string
}

// URI returns scheme://host:port for the instance.
func (s ServiceInstance) URI() string {
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}
