package main

import (
	"fmt"

	"github.com/kbukum/gokit-discovery/config"
	"github.com/kbukum/gokit-discovery/discovery"
	"github.com/kbukum/gokit-discovery/discovery/consul"
	"github.com/kbukum/gokit-discovery/discovery/etcd"
	"github.com/kbukum/gokit-discovery/observability"
	"github.com/kbukum/gokit-discovery/server"
	"github.com/kbukum/gokit-discovery/validation"
)

// agentConfig is the file and environment layout of the agent.
type agentConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Discovery     discovery.Config     `yaml:"discovery" mapstructure:"discovery"`
	Consul        consul.Config        `yaml:"consul" mapstructure:"consul"`
	Etcd          etcd.Config          `yaml:"etcd" mapstructure:"etcd"`
	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Management    managementConfig     `yaml:"management" mapstructure:"management"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	// StatusPath exposes the instance status endpoint, on the management
	// listener when it is enabled.
	StatusPath string `yaml:"status_path" mapstructure:"status_path"`
}

// managementConfig is the optional second listener. Its port is registered
// as a separate instance.
type managementConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	server.Config `yaml:",inline" mapstructure:",squash"`
}

func defaultAgentConfig() agentConfig {
	return agentConfig{
		Discovery:  discovery.DefaultConfig(),
		Server:     server.Config{Port: 8080},
		StatusPath: "/service-registry",
	}
}

func (c *agentConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	c.Consul.ApplyDefaults()
	c.Etcd.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Management.ApplyDefaults()
	c.Observability.ApplyDefaults()
	if c.Management.Enabled && c.Discovery.Management.Port == 0 {
		c.Discovery.Management.Port = c.Management.Port
	}
}

func (c *agentConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if c.Management.Enabled {
		if err := c.Management.Validate(); err != nil {
			return fmt.Errorf("management: %w", err)
		}
	}
	if err := validation.Validate(c.Observability); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// providerConfig returns the backend section matching discovery.provider.
func (c *agentConfig) providerConfig() any {
	switch c.Discovery.Provider {
	case "consul":
		return &c.Consul
	case "etcd":
		return &c.Etcd
	default:
		return nil
	}
}
