package server

import (
	"time"

	"github.com/kbukum/gokit-discovery/server/middleware"
	"github.com/kbukum/gokit-discovery/validation"
)

// Config describes one HTTP listener. Port 0 binds an ephemeral port, which
// ready hooks receive once the socket is open.
type Config struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`

	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gte=0"`

	// MaxBodySize caps request bodies, e.g. "64KB". Status updates are tiny.
	MaxBodySize string `yaml:"max_body_size" mapstructure:"max_body_size"`

	CORS middleware.CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// ApplyDefaults fills the timeouts, body limit and CORS lists.
func (c *Config) ApplyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = time.Minute
	}
	if c.MaxBodySize == "" {
		c.MaxBodySize = "1MB"
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Type", "Accept"}
	}
}

// Validate checks the port range, the timeouts and the body size.
func (c *Config) Validate() error {
	_, sizeErr := middleware.ParseSize(c.MaxBodySize)
	return validation.New().
		Merge(validation.Validate(c)).
		Custom(c.MaxBodySize == "" || sizeErr == nil, "server.max_body_size", "must be a size such as 512KB or 1MB").
		Validate()
}
