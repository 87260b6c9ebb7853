package observability

import "github.com/kbukum/gokit-discovery/component"

// ServiceHealth is the aggregated health reported by the agent's /health endpoint.
type ServiceHealth struct {
	Service    string             `json:"service"`
	Status     string             `json:"status"`
	Version    string             `json:"version,omitempty"`
	Components []component.Health `json:"components,omitempty"`
}

// Health status values reported in ServiceHealth.Status.
const (
	HealthUp       = "UP"
	HealthDown     = "DOWN"
	HealthDegraded = "DEGRADED"
)

// NewServiceHealth aggregates component health. Any unhealthy component makes
// the service DOWN; any degraded one makes it DEGRADED.
func NewServiceHealth(service, version string, components []component.Health) *ServiceHealth {
	sh := &ServiceHealth{Service: service, Status: HealthUp, Version: version}
	for _, ch := range components {
		sh.add(ch)
	}
	return sh
}

func (sh *ServiceHealth) add(ch component.Health) {
	sh.Components = append(sh.Components, ch)
	switch ch.Status {
	case component.StatusUnhealthy:
		sh.Status = HealthDown
	case component.StatusDegraded:
		if sh.Status != HealthDown {
			sh.Status = HealthDegraded
		}
	}
}

// Healthy reports whether the service should answer with a success status.
func (sh *ServiceHealth) Healthy() bool { return sh.Status != HealthDown }
