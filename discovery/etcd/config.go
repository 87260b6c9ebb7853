package etcd

import (
	"strings"
	"time"

	"github.com/kbukum/gokit-discovery/validation"
)

// Config holds etcd connection settings and the key layout.
type Config struct {
	Endpoints []string `yaml:"endpoints" mapstructure:"endpoints" validate:"required,dive,required"`

	// Prefix roots every key written by the provider (default: /discovery).
	Prefix string `yaml:"prefix" mapstructure:"prefix"`

	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"gte=0"`

	// RequestTimeout bounds single requests when the caller's context has no deadline.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gte=0"`

	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	TLS *TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// TLSConfig holds client TLS files.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	CACert             string `yaml:"ca_cert" mapstructure:"ca_cert"`
	ClientCert         string `yaml:"client_cert" mapstructure:"client_cert"`
	ClientKey          string `yaml:"client_key" mapstructure:"client_key"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name" mapstructure:"server_name"`
}

// ApplyDefaults sets sensible defaults for Config.
func (c *Config) ApplyDefaults() {
	if len(c.Endpoints) == 0 {
		c.Endpoints = []string{"localhost:2379"}
	}
	if c.Prefix == "" {
		c.Prefix = "/discovery"
	}
	c.Prefix = "/" + strings.Trim(c.Prefix, "/")
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

// Validate checks the endpoints and credentials.
func (c *Config) Validate() error {
	v := validation.New().Merge(validation.Validate(c))
	for _, ep := range c.Endpoints {
		v.Custom(strings.TrimSpace(ep) != "", "etcd.endpoints", "must not contain blank entries")
	}
	return v.Custom(c.Password == "" || c.Username != "", "etcd.username", "is required when a password is set").
		Validate()
}
