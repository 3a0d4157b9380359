package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"certportal/internal/middleware"
	"certportal/internal/service"
)

func (h HandlerSet) respondError(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
	case errors.Is(err, service.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		event := h.log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", middleware.RequestIDFrom(c))
		var uploadErr *service.UploadError
		if errors.As(err, &uploadErr) {
			failed := make([]string, 0, len(uploadErr.Compensation))
			for _, f := range uploadErr.Compensation {
				failed = append(failed, f.Kind+":"+f.Key)
			}
			event = event.Strs("compensation_failures", failed)
		}
		event.Msg("request failed")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func success(c *gin.Context, message string, extra gin.H) {
	body := gin.H{"success": true, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
