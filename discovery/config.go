package discovery

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kbukum/gokit-discovery/resilience"
	"github.com/kbukum/gokit-discovery/validation"
)

// Config holds service registration, heartbeat and discovery configuration.
type Config struct {
	// Enabled controls whether the discovery component is active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Provider selects the catalog backend: "consul", "etcd" or "memory".
	Provider string `yaml:"provider" mapstructure:"provider" validate:"oneof=consul etcd memory"`

	// Register and Deregister switch automatic registration on listener
	// start and deregistration on shutdown.
	Register   bool `yaml:"register" mapstructure:"register"`
	Deregister bool `yaml:"deregister" mapstructure:"deregister"`

	// FailFast makes registration errors abort startup instead of being logged.
	FailFast bool        `yaml:"fail_fast" mapstructure:"fail_fast"`
	Retry    RetryConfig `yaml:"retry" mapstructure:"retry"`

	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	InstanceID  string `yaml:"instance_id" mapstructure:"instance_id"`
	// IncludeHostnameInInstanceID prefixes the default instance id with the hostname.
	IncludeHostnameInInstanceID bool `yaml:"include_hostname_in_instance_id" mapstructure:"include_hostname_in_instance_id"`

	Hostname        string `yaml:"hostname" mapstructure:"hostname"`
	IPAddress       string `yaml:"ip_address" mapstructure:"ip_address"`
	PreferIPAddress bool   `yaml:"prefer_ip_address" mapstructure:"prefer_ip_address"`
	// PreferAgentAddress leaves the address empty so the catalog agent's own
	// address is used.
	PreferAgentAddress bool `yaml:"prefer_agent_address" mapstructure:"prefer_agent_address"`
	// Port overrides the listener port; 0 means use the port the listener reports.
	Port   int    `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	Scheme string `yaml:"scheme" mapstructure:"scheme" validate:"oneof=http https HTTP HTTPS"`

	Tags                    []string          `yaml:"tags" mapstructure:"tags"`
	EnableTagOverride       bool              `yaml:"enable_tag_override" mapstructure:"enable_tag_override"`
	Metadata                map[string]string `yaml:"metadata" mapstructure:"metadata"`
	InstanceZone            string            `yaml:"instance_zone" mapstructure:"instance_zone"`
	InstanceGroup           string            `yaml:"instance_group" mapstructure:"instance_group"`
	DefaultZoneMetadataName string            `yaml:"default_zone_metadata_name" mapstructure:"default_zone_metadata_name"`

	RegisterHealthCheck        bool                `yaml:"register_health_check" mapstructure:"register_health_check"`
	HealthCheckPath            string              `yaml:"health_check_path" mapstructure:"health_check_path"`
	HealthCheckURL             string              `yaml:"health_check_url" mapstructure:"health_check_url" validate:"omitempty,url"`
	HealthCheckInterval        time.Duration       `yaml:"health_check_interval" mapstructure:"health_check_interval"`
	HealthCheckTimeout         time.Duration       `yaml:"health_check_timeout" mapstructure:"health_check_timeout"`
	HealthCheckCriticalTimeout time.Duration       `yaml:"health_check_critical_timeout" mapstructure:"health_check_critical_timeout"`
	HealthCheckHeaders         map[string][]string `yaml:"health_check_headers" mapstructure:"health_check_headers"`
	HealthCheckTLSSkipVerify   bool                `yaml:"health_check_tls_skip_verify" mapstructure:"health_check_tls_skip_verify"`

	Heartbeat  HeartbeatConfig  `yaml:"heartbeat" mapstructure:"heartbeat"`
	Management ManagementConfig `yaml:"management" mapstructure:"management"`

	ACLToken string `yaml:"acl_token" mapstructure:"acl_token"`

	// QueryPassing restricts instance queries to instances whose checks pass.
	QueryPassing    bool   `yaml:"query_passing" mapstructure:"query_passing"`
	ConsistencyMode string `yaml:"consistency_mode" mapstructure:"consistency_mode" validate:"oneof=default consistent stale"`
	// DefaultQueryTag is applied to services without an entry in ServerListQueryTags.
	DefaultQueryTag string `yaml:"default_query_tag" mapstructure:"default_query_tag"`
	// ServerListQueryTags maps a service name to a comma-separated tag list.
	ServerListQueryTags map[string]string `yaml:"server_list_query_tags" mapstructure:"server_list_query_tags"`
}

// HeartbeatConfig configures TTL checks and the timers that keep them passing.
type HeartbeatConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// IntervalRatio sets the tick interval as a fraction of TTL. 0 ticks once per TTL.
	IntervalRatio              float64 `yaml:"interval_ratio" mapstructure:"interval_ratio" validate:"gte=0,lte=1"`
	ReregisterServiceOnFailure bool    `yaml:"reregister_service_on_failure" mapstructure:"reregister_service_on_failure"`
}

// Interval returns how often a TTL check is marked passing: TTL*ratio, at
// least one second and at most one second short of the TTL.
func (h HeartbeatConfig) Interval() time.Duration {
	if h.IntervalRatio <= 0 {
		return h.TTL
	}
	ttl := h.TTL.Seconds()
	interval := max(ttl*h.IntervalRatio, 1)
	interval = min(ttl-1, interval)
	if interval <= 0 {
		return h.TTL
	}
	return time.Duration(interval * float64(time.Second)).Round(time.Millisecond)
}

// ManagementConfig configures the secondary registration for the management listener.
type ManagementConfig struct {
	// Register enables the management registration when a distinct
	// management port is known.
	Register          bool              `yaml:"register" mapstructure:"register"`
	Suffix            string            `yaml:"suffix" mapstructure:"suffix"`
	Port              int               `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	Tags              []string          `yaml:"tags" mapstructure:"tags"`
	Metadata          map[string]string `yaml:"metadata" mapstructure:"metadata"`
	EnableTagOverride bool              `yaml:"enable_tag_override" mapstructure:"enable_tag_override"`
}

// RetryConfig configures the startup retry applied to fail-fast registration.
type RetryConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	Multiplier      float64       `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
}

func (r RetryConfig) resilience() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialInterval,
		BackoffFactor:  r.Multiplier,
		MaxBackoff:     r.MaxInterval,
	}
}

// DefaultConfig returns a Config with every default applied, including the
// switches that default to true. Load file values over it.
func DefaultConfig() Config {
	cfg := Config{
		Enabled:             true,
		Register:            true,
		Deregister:          true,
		FailFast:            true,
		RegisterHealthCheck: true,
		Heartbeat: HeartbeatConfig{
			IntervalRatio:              2.0 / 3.0,
			ReregisterServiceOnFailure: true,
		},
		Management: ManagementConfig{Register: true},
		Retry:      RetryConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields. It cannot tell an explicit false
// or zero from an unset value, so switches that default to true and the
// heartbeat interval ratio are set by DefaultConfig only.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "consul"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	if c.IPAddress == "" {
		c.IPAddress = localIP()
	}
	if c.DefaultZoneMetadataName == "" {
		c.DefaultZoneMetadataName = "zone"
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
	if c.ConsistencyMode == "" {
		c.ConsistencyMode = string(ConsistencyDefault)
	}
	if c.Heartbeat.TTL == 0 {
		c.Heartbeat.TTL = 30 * time.Second
	}
	if c.Management.Suffix == "" {
		c.Management.Suffix = "management"
	}
	if c.Management.Tags == nil {
		c.Management.Tags = []string{"management"}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 6
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 1.1
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = 2 * time.Second
	}
}

// Validate checks struct constraints and the rules spanning several fields.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	v := validation.New().Merge(validation.Validate(c))
	if c.Heartbeat.Enabled {
		v.Custom(c.Heartbeat.TTL >= time.Second, "heartbeat.ttl", "must be at least 1s when heartbeat is enabled")
	}
	if c.Management.Port != 0 && c.Port != 0 {
		v.Custom(c.Management.Port != c.Port, "management.port", "must differ from port")
	}
	if !c.PreferAgentAddress {
		v.Custom(c.Host() != "", "hostname", "could not be determined; set hostname or ip_address")
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}
	return nil
}

// Host returns the address advertised for the instance.
func (c *Config) Host() string {
	if c.PreferIPAddress {
		return c.IPAddress
	}
	return c.Hostname
}

// IsSecure reports whether the configured scheme is https.
func (c *Config) IsSecure() bool {
	return strings.EqualFold(c.Scheme, "https")
}

// QueryTagsFor returns the tags instance queries for service must carry.
func (c *Config) QueryTagsFor(service string) []string {
	if raw, ok := c.ServerListQueryTags[service]; ok && raw != "" {
		var tags []string
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	}
	if c.DefaultQueryTag != "" {
		return []string{c.DefaultQueryTag}
	}
	return nil
}

// localIP returns the first non-loopback IPv4 address of the host.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}
