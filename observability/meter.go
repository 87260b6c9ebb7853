package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/gokit-discovery/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Insecure       bool
	Interval       time.Duration
}

// InitMeter installs a global meter provider exporting over OTLP/HTTP.
func InitMeter(ctx context.Context, cfg MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		logger.FieldService, cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		logger.FieldInterval, cfg.Interval.String(),
	))
	return mp, nil
}

// Meter returns the agent's meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(tracerName)
}

// DiscoveryMetrics holds the instruments recorded by registration and heartbeats.
type DiscoveryMetrics struct {
	registrations   metric.Int64Counter
	heartbeats      metric.Int64Counter
	reregistrations metric.Int64Counter
	catalogLatency  metric.Float64Histogram
	armedTimers     metric.Int64UpDownCounter
}

// NewDiscoveryMetrics creates the instruments on meter.
func NewDiscoveryMetrics(meter metric.Meter) (*DiscoveryMetrics, error) {
	registrations, err := meter.Int64Counter("discovery.registrations",
		metric.WithDescription("Registration attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating discovery.registrations counter: %w", err)
	}
	heartbeats, err := meter.Int64Counter("discovery.heartbeats",
		metric.WithDescription("Heartbeat ticks by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating discovery.heartbeats counter: %w", err)
	}
	reregistrations, err := meter.Int64Counter("discovery.reregistrations",
		metric.WithDescription("Re-registrations triggered by heartbeat failures"))
	if err != nil {
		return nil, fmt.Errorf("creating discovery.reregistrations counter: %w", err)
	}
	catalogLatency, err := meter.Float64Histogram("discovery.catalog.duration",
		metric.WithDescription("Duration of catalog calls in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating discovery.catalog.duration histogram: %w", err)
	}
	armedTimers, err := meter.Int64UpDownCounter("discovery.heartbeat.armed",
		metric.WithDescription("Heartbeat timers currently armed"))
	if err != nil {
		return nil, fmt.Errorf("creating discovery.heartbeat.armed counter: %w", err)
	}

	return &DiscoveryMetrics{
		registrations:   registrations,
		heartbeats:      heartbeats,
		reregistrations: reregistrations,
		catalogLatency:  catalogLatency,
		armedTimers:     armedTimers,
	}, nil
}

// MustDiscoveryMetrics is NewDiscoveryMetrics on the global meter. It falls
// back to the no-op provider's instruments if creation fails.
func MustDiscoveryMetrics() *DiscoveryMetrics {
	m, err := NewDiscoveryMetrics(Meter())
	if err != nil {
		logger.Warn("discovery metrics disabled", logger.ErrorFields("metrics", err))
		m, _ = NewDiscoveryMetrics(noopMeter())
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRegistration counts a registration attempt.
func (m *DiscoveryMetrics) RecordRegistration(ctx context.Context, service string, err error) {
	if m == nil {
		return
	}
	m.registrations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordHeartbeat counts a heartbeat tick.
func (m *DiscoveryMetrics) RecordHeartbeat(ctx context.Context, instanceID string, err error) {
	if m == nil {
		return
	}
	m.heartbeats.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instance_id", instanceID),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordReregistration counts a re-registration triggered by a failed tick.
func (m *DiscoveryMetrics) RecordReregistration(ctx context.Context, instanceID string, err error) {
	if m == nil {
		return
	}
	m.reregistrations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instance_id", instanceID),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordCatalogCall records the latency of a catalog operation.
func (m *DiscoveryMetrics) RecordCatalogCall(ctx context.Context, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.catalogLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome(err)),
	))
}

// TimerArmed adjusts the armed heartbeat timer gauge by delta.
func (m *DiscoveryMetrics) TimerArmed(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.armedTimers.Add(ctx, delta)
}
