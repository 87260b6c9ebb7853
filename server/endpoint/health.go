package endpoint

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/gokit-discovery/component"
	"github.com/kbukum/gokit-discovery/observability"
)

// HealthChecker returns health status for registered components.
type HealthChecker func(ctx context.Context) []component.Health

// Health reports aggregated component health. It answers 503 when any
// component is unhealthy, which fails the catalog's HTTP check.
func Health(serviceName, version string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var components []component.Health
		if checker != nil {
			components = checker(c.Request.Context())
		}
		health := observability.NewServiceHealth(serviceName, version, components)

		status := http.StatusOK
		if !health.Healthy() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	}
}
