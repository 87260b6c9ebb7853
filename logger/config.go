package logger

import (
	"strings"

	"github.com/kbukum/gokit-discovery/validation"
)

// Config selects the log level, encoding and destination.
type Config struct {
	// ServiceName is stamped on every entry. config.ServiceConfig fills it
	// from the service name.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	Level string `yaml:"level" mapstructure:"level"`

	// Format is json, or console / pretty for the human-readable writer.
	Format string `yaml:"format" mapstructure:"format"`

	// Output is stdout or stderr.
	Output string `yaml:"output" mapstructure:"output"`

	NoColor     bool `yaml:"no_color" mapstructure:"no_color"`
	NoTimestamp bool `yaml:"no_timestamp" mapstructure:"no_timestamp"`
	Caller      bool `yaml:"caller" mapstructure:"caller"`
}

var (
	levels  = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	formats = []string{"json", "console", FormatPretty}
	outputs = []string{"stdout", "stderr"}
)

// ApplyDefaults logs info to stdout through the console writer.
func (c *Config) ApplyDefaults() {
	c.Level = strings.ToLower(c.Level)
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// Validate rejects settings the logger cannot honor.
func (c *Config) Validate() error {
	return validation.New().
		Required("logging.level", c.Level).
		OneOf("logging.level", c.Level, levels).
		OneOf("logging.format", c.Format, formats).
		OneOf("logging.output", c.Output, outputs).
		Validate()
}
