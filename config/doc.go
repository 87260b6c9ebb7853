// Package config loads agent configuration from YAML files, .env files and
// environment variables using Viper.
//
// # Usage
//
//	cfg := AgentConfig{Discovery: discovery.DefaultConfig()}
//	err := config.LoadConfig("discovery-agent", &cfg, config.WithEnvPrefix("AGENT"))
//
// Values already present in cfg act as defaults: keys missing from every
// source leave the corresponding fields untouched. Environment variables
// carrying the prefix override file values, e.g. AGENT_DISCOVERY_FAIL_FAST.
package config
