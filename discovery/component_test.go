package discovery_test

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/gokit-discovery/component"
	"github.com/kbukum/gokit-discovery/discovery"
	"github.com/kbukum/gokit-discovery/discovery/memory"
	"github.com/kbukum/gokit-discovery/logger"
)

func memoryConfig() discovery.Config {
	cfg := discovery.DefaultConfig()
	cfg.Provider = "memory"
	cfg.Hostname = "host-a"
	cfg.IPAddress = "10.0.0.5"
	return cfg
}

func TestProvidersRegistered(t *testing.T) {
	if !slices.Contains(discovery.Providers(), "memory") {
		t.Errorf("memory provider not registered: %v", discovery.Providers())
	}
}

func TestComponentLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Heartbeat.Enabled = true
	cfg.Tags = []string{"v1"}

	comp := discovery.NewComponent(cfg, nil, "orders", logger.Nop())
	auto := comp.AutoRegistration()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := auto.Start(ctx); err != nil {
		t.Fatalf("auto Start: %v", err)
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("health = %+v", h)
	}

	if err := auto.OnListenerReady(ctx, discovery.ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("OnListenerReady: %v", err)
	}
	if !comp.Scheduler().Armed("orders-8080") {
		t.Error("expected heartbeat armed for TTL check")
	}

	instances, err := comp.Client().GetInstances(ctx, "orders")
	if err != nil {
		t.Fatalf("GetInstances: %v", err)
	}
	if len(instances) != 1 || instances[0].Host != "host-a" || instances[0].Port != 8080 {
		t.Fatalf("instances = %+v", instances)
	}

	services, err := comp.Client().GetServices(ctx)
	if err != nil || !slices.Equal(services, []string{"orders"}) {
		t.Errorf("GetServices = %v, %v", services, err)
	}

	if err := auto.Stop(ctx); err != nil {
		t.Fatalf("auto Stop: %v", err)
	}
	if comp.Scheduler().Armed("orders-8080") {
		t.Error("heartbeat survived deregistration")
	}
	services, _ = comp.Client().GetServices(ctx)
	if len(services) != 0 {
		t.Errorf("expected empty catalog, got %v", services)
	}
	if err := comp.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestComponentStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	catalog := memory.New()
	comp := discovery.NewComponent(memoryConfig(), nil, "orders", logger.Nop(), discovery.WithCatalog(catalog))
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer comp.Stop(ctx)

	auto := comp.AutoRegistration()
	if err := auto.Start(ctx); err != nil {
		t.Fatalf("auto Start: %v", err)
	}
	if err := auto.OnListenerReady(ctx, discovery.ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("OnListenerReady: %v", err)
	}
	reg := auto.Registration()

	if err := comp.Registry().SetStatus(ctx, reg, discovery.StatusOutOfService); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if status, err := comp.Registry().GetStatus(ctx, reg); err != nil || status != discovery.StatusOutOfService {
		t.Errorf("GetStatus = %q, %v", status, err)
	}
	if err := comp.Registry().SetStatus(ctx, reg, "up"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if status, _ := comp.Registry().GetStatus(ctx, reg); status != discovery.StatusUp {
		t.Errorf("GetStatus = %q", status)
	}
}

func TestComponentReregistersAfterCatalogLoss(t *testing.T) {
	ctx := context.Background()
	var now atomic.Int64
	now.Store(time.Unix(1_700_000_000, 0).Unix())
	catalog := memory.New(memory.WithNow(func() time.Time { return time.Unix(now.Load(), 0) }))

	cfg := memoryConfig()
	cfg.InstanceID = "orders-1"
	cfg.Port = 8080
	cfg.Heartbeat.Enabled = true
	cfg.Heartbeat.TTL = 10 * time.Second
	cfg.HealthCheckCriticalTimeout = time.Second

	comp := discovery.NewComponent(cfg, nil, "orders", logger.Nop(), discovery.WithCatalog(catalog))
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer comp.Stop(ctx)

	reg, err := comp.Builder().BuildRegistration(discovery.RuntimeContext{ApplicationName: "orders"})
	if err != nil {
		t.Fatalf("BuildRegistration: %v", err)
	}
	if err := comp.Registry().Register(ctx, reg.Service); err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitForCall(t, catalog, memory.OpCheckPass)
	now.Add(int64(time.Minute / time.Second))
	if services, _ := catalog.ListServiceNames(ctx, discovery.QueryOptions{}); len(services) != 0 {
		t.Fatalf("expected the critical instance to be reaped, got %v", services)
	}

	if err := comp.Scheduler().Tick(ctx, "orders-1"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok := catalog.Service("orders-1"); !ok {
		t.Fatal("instance was not registered again")
	}
}

func TestComponentProviderNotLinked(t *testing.T) {
	cfg := memoryConfig()
	cfg.Provider = "consul"
	comp := discovery.NewComponent(cfg, nil, "orders", logger.Nop())
	if err := comp.Start(context.Background()); err == nil {
		t.Error("expected error for a provider whose package is not imported")
	}
}

func TestComponentDisabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Enabled = false
	comp := discovery.NewComponent(cfg, nil, "orders", logger.Nop())
	if err := comp.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h := comp.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("disabled health = %v", h.Status)
	}
	if comp.Registry() != nil {
		t.Error("disabled component must not build a registry")
	}
}

// waitForCall waits until the catalog has served op at least once.
func waitForCall(t *testing.T, catalog *memory.Catalog, op string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Contains(catalog.Calls(), op) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("catalog never served %q, calls %v", op, catalog.Calls())
}
