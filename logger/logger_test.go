package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newJSONLogger(buf *bytes.Buffer, service string) *Logger {
	return NewWithWriter(&Config{Level: "debug", Format: "json"}, service, buf)
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if idx := strings.LastIndex(line, "\n"); idx >= 0 {
		line = line[idx+1:]
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid json log line %q: %v", line, err)
	}
	return m
}

func TestNewDefault(t *testing.T) {
	l := NewDefault("test-svc")
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	if l.service != "test-svc" {
		t.Errorf("expected service 'test-svc', got %q", l.service)
	}
}

func TestNewInvalidLevel(t *testing.T) {
	l := New(&Config{Level: "invalid-level", Format: "json", Output: "stdout"}, "test")
	if l == nil {
		t.Fatal("expected logger to be created even with invalid level")
	}
}

func TestNewWithWriter_ServiceField(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(&buf, "orders")
	l.Info("hello")

	m := decodeLine(t, &buf)
	if m[FieldService] != "orders" {
		t.Errorf("expected service=orders, got %v", m[FieldService])
	}
	if m["message"] != "hello" {
		t.Errorf("expected message=hello, got %v", m["message"])
	}
}

func TestTimestampToggle(t *testing.T) {
	var buf bytes.Buffer
	newJSONLogger(&buf, "").Info("stamped")
	if _, ok := decodeLine(t, &buf)["time"]; !ok {
		t.Error("expected a time field by default")
	}

	buf.Reset()
	NewWithWriter(&Config{Level: "debug", Format: "json", NoTimestamp: true}, "", &buf).Info("bare")
	if _, ok := decodeLine(t, &buf)["time"]; ok {
		t.Error("expected no time field with no_timestamp")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(&buf, "test").WithComponent("heartbeat")
	if l.service != "test" {
		t.Errorf("service should be preserved, got %q", l.service)
	}
	l.Warn("tick failed", Fields(FieldCheckID, "service:a"))

	m := decodeLine(t, &buf)
	if m[FieldComponent] != "heartbeat" {
		t.Errorf("expected component=heartbeat, got %v", m[FieldComponent])
	}
	if m[FieldCheckID] != "service:a" {
		t.Errorf("expected check_id field, got %v", m[FieldCheckID])
	}
	if m["level"] != "warn" {
		t.Errorf("expected level=warn, got %v", m["level"])
	}
}

func TestWithFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(&buf, "").WithFields(map[string]interface{}{"key": "value"}).WithError(errors.New("boom"))
	l.Error("failed")

	m := decodeLine(t, &buf)
	if m["key"] != "value" {
		t.Errorf("expected key=value, got %v", m["key"])
	}
	if m["error"] != "boom" {
		t.Errorf("expected error=boom, got %v", m["error"])
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("discarded")
	l.WithComponent("x").Error("also discarded")
}

func TestInitAndGlobal(t *testing.T) {
	Init(Config{Level: "info", Format: "json", Output: "stdout", ServiceName: "agent"})
	gl := GetGlobalLogger()
	if gl == nil {
		t.Fatal("expected global logger to be set after Init")
	}
	if gl.service != "agent" {
		t.Errorf("expected service 'agent', got %q", gl.service)
	}

	custom := NewDefault("custom")
	SetGlobalLogger(custom)
	if GetGlobalLogger() != custom {
		t.Error("expected SetGlobalLogger to set the global logger")
	}

	globalLogger = nil
	if GetGlobalLogger() == nil {
		t.Fatal("expected default global logger to be created")
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{Level: "DEBUG"}
	cfg.ApplyDefaults()

	if cfg.Level != "debug" {
		t.Errorf("expected level lowered to 'debug', got %q", cfg.Level)
	}
	if cfg.Format != "console" {
		t.Errorf("expected format 'console', got %q", cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("expected output 'stdout', got %q", cfg.Output)
	}
	if cfg.NoTimestamp {
		t.Error("expected timestamps on by default")
	}

	empty := Config{}
	empty.ApplyDefaults()
	if empty.Level != "info" {
		t.Errorf("expected level 'info', got %q", empty.Level)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Level: "info", Format: "json"}, false},
		{"valid console", Config{Level: "debug", Format: "console"}, false},
		{"invalid level", Config{Level: "bad", Format: "json"}, true},
		{"invalid format", Config{Level: "info", Format: "xml"}, true},
		{"missing level", Config{Format: "json"}, true},
		{"stderr", Config{Level: "warn", Format: "pretty", Output: "stderr"}, false},
		{"file output", Config{Level: "info", Format: "json", Output: "/var/log/agent.log"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFieldsHelpers(t *testing.T) {
	f := Fields("a", 1, "b")
	if len(f) != 1 || f["a"] != 1 {
		t.Errorf("unexpected fields %v", f)
	}

	ef := ErrorFields("register", errors.New("nope"))
	if ef[FieldOperation] != "register" || ef[FieldError] != "nope" {
		t.Errorf("unexpected error fields %v", ef)
	}

	df := DurationFields("tick", 1500*time.Millisecond)
	if df[FieldDuration] != int64(1500) {
		t.Errorf("expected 1500ms, got %v", df[FieldDuration])
	}

	merged := MergeWithError(nil, errors.New("x"))
	if merged[FieldError] != "x" {
		t.Errorf("expected error field, got %v", merged)
	}
}
