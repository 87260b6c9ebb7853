package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCatalog records calls and answers from canned values.
type fakeCatalog struct {
	mu sync.Mutex

	calls          []string
	registered     []*ServiceDescriptor
	registerTokens []string
	registerErrs   []error
	deregistered   []string
	checkPassErrs  []error
	maintenance    map[string]bool
	maintenanceErr error

	records  map[string][]HealthRecord
	filters  []HealthFilter
	services map[string][]string
	listOpts []QueryOptions
	checks   []CheckRecord
	probeErr error

	onDeregister func(instanceID string)
	onRegister   func(desc *ServiceDescriptor)
	passes       chan string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		maintenance: map[string]bool{},
		records:     map[string][]HealthRecord{},
		passes:      make(chan string, 64),
	}
}

func (f *fakeCatalog) RegisterService(_ context.Context, desc *ServiceDescriptor, token string) error {
	if f.onRegister != nil {
		f.onRegister(desc)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "register:"+desc.ID)
	if len(f.registerErrs) > 0 {
		err := f.registerErrs[0]
		f.registerErrs = f.registerErrs[1:]
		if err != nil {
			return err
		}
	}
	f.registered = append(f.registered, desc.Clone())
	f.registerTokens = append(f.registerTokens, token)
	return nil
}

func (f *fakeCatalog) DeregisterService(_ context.Context, instanceID, _ string) error {
	if f.onDeregister != nil {
		f.onDeregister(instanceID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "deregister:"+instanceID)
	f.deregistered = append(f.deregistered, instanceID)
	return nil
}

func (f *fakeCatalog) SetMaintenance(_ context.Context, instanceID string, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "maintenance:"+instanceID)
	if f.maintenanceErr != nil {
		return f.maintenanceErr
	}
	f.maintenance[instanceID] = enable
	return nil
}

func (f *fakeCatalog) QueryHealthyInstances(_ context.Context, serviceName string, filter HealthFilter) ([]HealthRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "health:"+serviceName)
	f.filters = append(f.filters, filter)
	return f.records[serviceName], nil
}

func (f *fakeCatalog) ListServiceNames(_ context.Context, opts QueryOptions) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "services")
	f.listOpts = append(f.listOpts, opts)
	return f.services, nil
}

func (f *fakeCatalog) ListHealthChecksForService(_ context.Context, serviceName string) ([]CheckRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "checks:"+serviceName)
	return f.checks, nil
}

func (f *fakeCatalog) CheckPass(_ context.Context, checkID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "pass:"+checkID)
	var err error
	if len(f.checkPassErrs) > 0 {
		err = f.checkPassErrs[0]
		f.checkPassErrs = f.checkPassErrs[1:]
	}
	f.mu.Unlock()
	f.passes <- checkID
	return err
}

func (f *fakeCatalog) ProbeLeader(context.Context) (string, error) {
	if f.probeErr != nil {
		return "", f.probeErr
	}
	return "10.0.0.1:8300", nil
}

// failPasses makes the next CheckPass calls return errs in order.
func (f *fakeCatalog) failPasses(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkPassErrs = append(f.checkPassErrs, errs...)
}

func (f *fakeCatalog) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCatalog) registrations() []*ServiceDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ServiceDescriptor(nil), f.registered...)
}

// waitPass waits for the next CheckPass and returns its check id.
func (f *fakeCatalog) waitPass(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.passes:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for check pass")
		return ""
	}
}

// expectNoPass fails if a CheckPass arrives within a short window.
func (f *fakeCatalog) expectNoPass(t *testing.T) {
	t.Helper()
	select {
	case id := <-f.passes:
		t.Fatalf("unexpected check pass %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeClock hands out tickers that only fire on Advance.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	stopped  atomic.Bool
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1), interval: d}
	c.tickers = append(c.tickers, t)
	return t
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

// fire delivers a tick even if the ticker was stopped.
func (t *fakeTicker) fire() {
	select {
	case t.ch <- time.Now():
	default:
	}
}

// Advance fires every running ticker once.
func (c *fakeClock) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			t.fire()
		}
	}
}

func (c *fakeClock) ticker(i int) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[i]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Hostname = "host-a"
	cfg.IPAddress = "10.0.0.5"
	return cfg
}
