package discovery

import (
	"context"
	"reflect"
	"testing"

	"github.com/kbukum/gokit-discovery/component"
	"github.com/kbukum/gokit-discovery/errors"
	"github.com/kbukum/gokit-discovery/logger"
)

func newTestAutoRegistration(t *testing.T, cfg Config) (*AutoRegistration, *fakeCatalog) {
	t.Helper()
	catalog := newFakeCatalog()
	registry := NewServiceRegistry(catalog, cfg, nil, WithRegistryLogger(logger.Nop()))
	a := NewAutoRegistration(registry, NewBuilder(cfg), cfg, "orders", logger.Nop())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a, catalog
}

func TestAutoRegistrationPrimaryOnce(t *testing.T) {
	a, catalog := newTestAutoRegistration(t, testConfig())
	ctx := context.Background()

	if h := a.Health(ctx); h.Status != component.StatusDegraded {
		t.Errorf("health before listener = %v", h.Status)
	}
	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("OnListenerReady: %v", err)
	}
	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 8081}); err != nil {
		t.Fatalf("second OnListenerReady: %v", err)
	}

	regs := catalog.registrations()
	if len(regs) != 1 {
		t.Fatalf("expected one registration, got %v", catalog.callLog())
	}
	if regs[0].ID != "orders-8080" || regs[0].Port != 8080 || regs[0].Check == nil {
		t.Errorf("registered %v", regs[0])
	}
	if a.Registration() == nil || a.ManagementRegistration() != nil {
		t.Error("unexpected registration state")
	}
	if h := a.Health(ctx); h.Status != component.StatusHealthy || h.Message != "orders-8080" {
		t.Errorf("health after registration = %+v", h)
	}
}

func TestAutoRegistrationIgnoresOtherNamespaces(t *testing.T) {
	a, catalog := newTestAutoRegistration(t, testConfig())
	if err := a.OnListenerReady(context.Background(), ListenerReadyEvent{Port: 9000, Namespace: "grpc"}); err != nil {
		t.Fatalf("OnListenerReady: %v", err)
	}
	if len(catalog.callLog()) != 0 {
		t.Errorf("unexpected calls %v", catalog.callLog())
	}
}

func TestAutoRegistrationManagementBeforePrimary(t *testing.T) {
	a, catalog := newTestAutoRegistration(t, testConfig())
	ctx := context.Background()

	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 9090, Namespace: NamespaceManagement}); err != nil {
		t.Fatalf("management listener: %v", err)
	}
	if len(catalog.callLog()) != 0 {
		t.Fatalf("management must wait for the primary, got %v", catalog.callLog())
	}
	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("primary listener: %v", err)
	}

	want := []string{"register:orders-8080", "register:orders-8080-management"}
	if got := catalog.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	primary := catalog.registrations()[0]
	if got := primary.Check.Variant.(HTTPCheck).URL; got != "http://host-a:9090/health" {
		t.Errorf("primary check URL = %q", got)
	}
}

func TestAutoRegistrationManagementAfterPrimary(t *testing.T) {
	a, catalog := newTestAutoRegistration(t, testConfig())
	ctx := context.Background()

	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("primary listener: %v", err)
	}
	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 9090, Namespace: NamespaceManagement}); err != nil {
		t.Fatalf("management listener: %v", err)
	}
	mgmt := a.ManagementRegistration()
	if mgmt == nil || mgmt.Service.Port != 9090 {
		t.Fatalf("management registration = %v", mgmt)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := catalog.deregistered; !reflect.DeepEqual(got, []string{"orders-8080-management", "orders-8080"}) {
		t.Errorf("deregistration order = %v", got)
	}
	if a.Registration() != nil {
		t.Error("registration should be cleared after Stop")
	}
}

func TestAutoRegistrationStopWithoutDeregister(t *testing.T) {
	cfg := testConfig()
	cfg.Deregister = false
	a, catalog := newTestAutoRegistration(t, cfg)
	ctx := context.Background()

	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("OnListenerReady: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(catalog.deregistered) != 0 {
		t.Errorf("deregister disabled, got %v", catalog.deregistered)
	}
}

func TestAutoRegistrationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Register = false
	a, catalog := newTestAutoRegistration(t, cfg)
	ctx := context.Background()

	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("OnListenerReady: %v", err)
	}
	if len(catalog.callLog()) != 0 {
		t.Errorf("unexpected calls %v", catalog.callLog())
	}
	if h := a.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("disabled health = %v", h.Status)
	}
}

func TestAutoRegistrationFailFast(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.Enabled = false
	a, catalog := newTestAutoRegistration(t, cfg)
	catalog.registerErrs = []error{errors.Catalog("register", 500, nil)}

	err := a.OnListenerReady(context.Background(), ListenerReadyEvent{Port: 8080})
	if !errors.IsCatalogOperationError(err) {
		t.Fatalf("expected catalog error, got %v", err)
	}
	if a.Registration() != nil {
		t.Error("failed registration must not be recorded")
	}
}

func TestAutoRegistrationRequiresRegistry(t *testing.T) {
	cfg := testConfig()
	a := NewAutoRegistration(nil, NewBuilder(cfg), cfg, "orders", logger.Nop())
	if h := a.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("health before start = %v", h.Status)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("expected error without a registry")
	}
}

func TestAutoRegistrationStatus(t *testing.T) {
	a, catalog := newTestAutoRegistration(t, testConfig())
	ctx := context.Background()

	if _, err := a.Status(ctx); !errors.IsCode(err, errors.ErrCodeServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE before registration, got %v", err)
	}
	if err := a.OnListenerReady(ctx, ListenerReadyEvent{Port: 8080}); err != nil {
		t.Fatalf("OnListenerReady: %v", err)
	}
	if err := a.SetStatus(ctx, "OUT_OF_SERVICE"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if !catalog.maintenance["orders-8080"] {
		t.Error("expected maintenance enabled on the primary instance")
	}
	catalog.checks = []CheckRecord{{Name: MaintenanceCheckName, ServiceID: "orders-8080"}}
	status, err := a.Status(ctx)
	if err != nil || status != StatusOutOfService {
		t.Errorf("Status = %q, %v", status, err)
	}
}
