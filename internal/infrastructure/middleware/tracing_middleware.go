package middleware

import (
	"net/http"
	"time"

	"jamlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware traces admin API requests. Spans carry the room the
// operation touches so a trace can be correlated with the signaling activity
// of that room.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		if roomID := c.Param("id"); roomID != "" {
			span.SetAttributes(attribute.String("jamlink.room_id", roomID))
		}
		span.SetAttributes(attribute.String("jamlink.client_ip", c.ClientIP()))

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)

		switch {
		case len(c.Errors) > 0:
			// Domain rejections land here via c.Error before the error
			// middleware renders them.
			span.RecordError(c.Errors.Last().Err)
			span.SetStatus(codes.Error, c.Errors.Last().Error())
		case c.Writer.Status() >= 400:
			span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
		default:
			span.SetStatus(codes.Ok, "")
		}
	}
}
