package endpoint

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/gokit-discovery/errors"
)

// StatusManager reads and changes the status of the registered instance.
type StatusManager interface {
	Status(ctx context.Context) (string, error)
	SetStatus(ctx context.Context, status string) error
}

// StatusRequest is the body accepted by SetStatus.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// StatusResponse is the body returned by GetStatus.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body written for failed requests.
type ErrorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details map[string]any      `json:"details,omitempty"`
}

// GetStatus returns the instance status, UP or OUT_OF_SERVICE.
func GetStatus(m StatusManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := m.Status(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, StatusResponse{Status: status})
	}
}

// SetStatus changes the instance status from a StatusRequest body.
func SetStatus(m StatusManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.InvalidInput("status", err.Error()))
			return
		}
		if err := m.SetStatus(c.Request.Context(), req.Status); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// respondError derives the status from an *AppError. Catalog failures
// without a catalog status become 502; other errors become 500.
func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}
	status := appErr.HTTPStatus
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	c.JSON(status, ErrorResponse{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details})
}
