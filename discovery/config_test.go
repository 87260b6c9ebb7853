package discovery

import (
	"reflect"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled || !cfg.Register || !cfg.Deregister || !cfg.FailFast {
		t.Errorf("expected lifecycle switches on by default: %+v", cfg)
	}
	if cfg.Heartbeat.Enabled {
		t.Error("heartbeat should be off by default")
	}
	if cfg.Heartbeat.TTL != 30*time.Second || !cfg.Heartbeat.ReregisterServiceOnFailure {
		t.Errorf("unexpected heartbeat defaults %+v", cfg.Heartbeat)
	}
	if cfg.HealthCheckPath != "/health" || cfg.HealthCheckInterval != 10*time.Second {
		t.Errorf("unexpected health check defaults")
	}
	if cfg.Management.Suffix != "management" || !reflect.DeepEqual(cfg.Management.Tags, []string{"management"}) {
		t.Errorf("unexpected management defaults %+v", cfg.Management)
	}
	if cfg.Provider != "consul" || cfg.ConsistencyMode != "default" || cfg.DefaultZoneMetadataName != "zone" {
		t.Errorf("unexpected provider/query defaults")
	}
	if !cfg.Retry.Enabled || cfg.Retry.MaxAttempts != 6 || cfg.Retry.InitialInterval != time.Second {
		t.Errorf("unexpected retry defaults %+v", cfg.Retry)
	}
}

func TestHeartbeatInterval(t *testing.T) {
	tests := []struct {
		name  string
		ttl   time.Duration
		ratio float64
		want  time.Duration
	}{
		{"ratio zero uses ttl", 10 * time.Second, 0, 10 * time.Second},
		{"two thirds", 30 * time.Second, 2.0 / 3.0, 20 * time.Second},
		{"floor one second", 2 * time.Second, 0.1, time.Second},
		{"one second short of ttl", 10 * time.Second, 1, 9 * time.Second},
		{"one second ttl", time.Second, 0.5, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HeartbeatConfig{TTL: tt.ttl, IntervalRatio: tt.ratio}
			if got := h.Interval(); got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"disabled skips validation", func(c *Config) { c.Enabled = false; c.Provider = "zk" }, false},
		{"unknown provider", func(c *Config) { c.Provider = "zk" }, true},
		{"bad consistency", func(c *Config) { c.ConsistencyMode = "eventual" }, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
		{"sub-second ttl", func(c *Config) { c.Heartbeat.Enabled = true; c.Heartbeat.TTL = 500 * time.Millisecond }, true},
		{"same management port", func(c *Config) { c.Port = 8080; c.Management.Port = 8080 }, true},
		{"no host", func(c *Config) { c.Hostname = "" }, true},
		{"no host but agent address", func(c *Config) { c.Hostname = ""; c.PreferAgentAddress = true }, false},
		{"bad check url", func(c *Config) { c.HealthCheckURL = "not a url" }, true},
		{"ratio above one", func(c *Config) { c.Heartbeat.IntervalRatio = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueryTagsFor(t *testing.T) {
	cfg := testConfig()
	if tags := cfg.QueryTagsFor("orders"); tags != nil {
		t.Errorf("expected no tags, got %v", tags)
	}

	cfg.DefaultQueryTag = "prod"
	cfg.ServerListQueryTags = map[string]string{"orders": "v1, blue,,"}
	if got := cfg.QueryTagsFor("orders"); !reflect.DeepEqual(got, []string{"v1", "blue"}) {
		t.Errorf("QueryTagsFor(orders) = %v", got)
	}
	if got := cfg.QueryTagsFor("billing"); !reflect.DeepEqual(got, []string{"prod"}) {
		t.Errorf("QueryTagsFor(billing) = %v", got)
	}
}

func TestHostAndSecure(t *testing.T) {
	cfg := testConfig()
	if cfg.Host() != "host-a" {
		t.Errorf("Host() = %q", cfg.Host())
	}
	cfg.PreferIPAddress = true
	if cfg.Host() != "10.0.0.5" {
		t.Errorf("Host() with prefer_ip_address = %q", cfg.Host())
	}
	cfg.Scheme = "HTTPS"
	if !cfg.IsSecure() {
		t.Error("HTTPS should be secure regardless of case")
	}
}
