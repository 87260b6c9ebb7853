// Package validation checks agent configuration before any catalog call is made.
//
// Struct tag validation uses go-playground/validator and reports fields by
// their mapstructure key, so messages match the YAML the operator wrote:
//
//	type HeartbeatConfig struct {
//	    TTL time.Duration `mapstructure:"ttl" validate:"min=1s"`
//	}
//	err := validation.Validate(cfg)
//
// Cross-field rules use the programmatic Validator:
//
//	v := validation.New()
//	v.OneOf("discovery.scheme", cfg.Scheme, []string{"http", "https"})
//	if err := v.Validate(); err != nil { ... }
package validation
