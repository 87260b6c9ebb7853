package consul

import (
	"time"

	"github.com/kbukum/gokit-discovery/validation"
)

// Config holds the Consul agent connection settings.
type Config struct {
	// Address of the local agent, host:port.
	Address    string `yaml:"address" mapstructure:"address"`
	Scheme     string `yaml:"scheme" mapstructure:"scheme"`
	Datacenter string `yaml:"datacenter" mapstructure:"datacenter"`

	// Token is the agent default ACL token. Registration calls use the
	// discovery acl_token instead when it is set.
	Token string `yaml:"token" mapstructure:"token"`

	// Namespace and Partition are only honored by Consul Enterprise.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	Partition string `yaml:"partition" mapstructure:"partition"`

	TLS       *TLSConfig      `yaml:"tls" mapstructure:"tls"`
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
}

// TLSConfig points at the files used to talk to an HTTPS agent.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	CACert             string `yaml:"ca_cert" mapstructure:"ca_cert"`
	CAPath             string `yaml:"ca_path" mapstructure:"ca_path"`
	ClientCert         string `yaml:"client_cert" mapstructure:"client_cert"`
	ClientKey          string `yaml:"client_key" mapstructure:"client_key"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name" mapstructure:"server_name"`
}

// TransportConfig tunes the HTTP transport of the agent client. Heartbeats
// reuse idle connections, so the pool only needs to cover one agent.
type TransportConfig struct {
	DialTimeout         time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"gte=0"`
	ReadTimeout         time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gte=0"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host" validate:"gte=0"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout" validate:"gte=0"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:8500"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = 10 * time.Second
	}
	if c.Transport.ReadTimeout == 0 {
		c.Transport.ReadTimeout = 30 * time.Second
	}
	if c.Transport.MaxIdleConnsPerHost == 0 {
		c.Transport.MaxIdleConnsPerHost = 4
	}
	if c.Transport.IdleConnTimeout == 0 {
		c.Transport.IdleConnTimeout = 90 * time.Second
	}
}

// Validate checks the connection settings.
func (c *Config) Validate() error {
	tlsOn := c.TLS != nil && c.TLS.Enabled
	return validation.New().
		Merge(validation.Validate(c)).
		Required("consul.address", c.Address).
		OneOf("consul.scheme", c.Scheme, []string{"http", "https"}).
		Custom(!tlsOn || c.Scheme == "https", "consul.scheme", "must be https when tls is enabled").
		Validate()
}
