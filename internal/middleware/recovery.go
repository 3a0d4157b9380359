package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Recovery turns a panic into a 500. Page requests get plain text since the
// browser would render the JSON body verbatim.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			event := log.Error().
				Interface("error", r).
				Bytes("stack", debug.Stack()).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Str("request_id", RequestIDFrom(c))
			if identity, ok := CurrentIdentity(c); ok {
				event = event.Str("user_id", identity.ID)
			}
			event.Msg("panic recovered")

			if under(c.Request.URL.Path, "/api") {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
				return
			}
			c.AbortWithStatus(http.StatusInternalServerError)
			_, _ = c.Writer.WriteString("internal server error")
		}()
		c.Next()
	}
}
