package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lead-assistant/internal/usecase"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-Id"

const correlationKey = "correlation_id"

func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationHeader, id)
		c.Next()
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Str(correlationKey, c.GetString(correlationKey)).
			Msg("request")
	}
}

// ensureToken refreshes the CRM token before lead routes run.
func ensureToken(auth Authenticator, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authenticate(c.Request.Context()); err != nil {
			log.Error().Err(err).Str(correlationKey, c.GetString(correlationKey)).Msg("crm authentication failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
				Error:   string(usecase.ErrorAuth),
				Message: err.Error(),
			})
			return
		}
		c.Next()
	}
}
