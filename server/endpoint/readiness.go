package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/gokit-discovery/component"
)

// Readiness answers 503 until every component reports healthy.
func Readiness(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "ready", http.StatusOK
		if checker != nil {
			for _, ch := range checker(c.Request.Context()) {
				if ch.Status != component.StatusHealthy {
					status, code = "not_ready", http.StatusServiceUnavailable
					break
				}
			}
		}
		c.JSON(code, gin.H{"status": status, "service": serviceName})
	}
}
