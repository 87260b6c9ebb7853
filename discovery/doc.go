// Package discovery registers the running application with a service catalog,
// keeps the registration alive with TTL heartbeats and resolves healthy
// instances of other services.
//
// # Architecture
//
//   - Builder: derives a normalized ServiceDescriptor and its health check
//     from Config and the RuntimeContext.
//   - HeartbeatScheduler: one fixed-rate timer per registered instance that
//     marks its TTL check passing and re-registers on catalog failures.
//   - ServiceRegistry: register, deregister and maintenance status, wiring
//     the scheduler in and out.
//   - Client: health-filtered instance queries.
//   - AutoRegistration: reacts to ListenerReadyEvent and drives the above.
//
// All catalog traffic goes through the CatalogClient interface.
//
// # Backends
//
//   - discovery/consul: HashiCorp Consul agent API
//   - discovery/etcd: etcd v3 with leases standing in for TTL checks
//   - discovery/memory: in-process catalog for development and tests
package discovery
