package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

const internalErrorMessage = "internal server error"

// statusFor сопоставляет вид доменной ошибки HTTP-статусу.
func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsUnauthorized(err):
		return http.StatusUnauthorized
	case domain.IsInvalidState(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		entry := h.logger.WithError(err).WithField("route", routeOf(c))
		var opErr *domain.OperationError
		if errors.As(err, &opErr) {
			entry = entry.WithFields(log.Fields{"op": opErr.Op, "cause": opErr.Cause})
		}
		entry.Error("request failed with internal error")
		c.AbortWithStatusJSON(status, gin.H{"error": internalErrorMessage})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}
