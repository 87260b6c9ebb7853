// Package observability wires OpenTelemetry tracing and metrics for the agent.
//
//	shutdown, err := observability.Init(ctx, cfg.Observability, "discovery-agent", version)
//	defer shutdown(ctx)
//
// Catalog operations open spans with StartSpan and the heartbeat scheduler
// records its outcomes through DiscoveryMetrics. With no provider installed
// both fall back to the otel no-op implementations.
package observability
