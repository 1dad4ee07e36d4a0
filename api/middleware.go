package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/dealwire/ingestion"
	"go.uber.org/zap"
)

// ActorHeader carries the identity of the caller.
const ActorHeader = "X-Actor"

// NewLogger creates the access logger: JSON encoding for format "json",
// console encoding otherwise.
func NewLogger(format string) (*zap.Logger, error) {
	if strings.EqualFold(format, "json") {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// accessLog writes one structured entry per request.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()),
		}
		if actor := ingestion.ActorFromContext(c.Request.Context()); actor != "" {
			fields = append(fields, zap.String("actor", actor))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// actor moves the X-Actor header into the request context.
func actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if name := strings.TrimSpace(c.GetHeader(ActorHeader)); name != "" {
			c.Request = c.Request.WithContext(ingestion.ContextWithActor(c.Request.Context(), name))
		}
		c.Next()
	}
}
