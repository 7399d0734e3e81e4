package webhook

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joripage/order-relay/pkg/logging"
	"go.uber.org/zap"
)

const (
	headerAPIKey    = "x-api-key"
	headerRequestID = "X-Request-ID"
)

// requestContext tags every request with a request id and a scoped logger.
func requestContext(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = logging.NewRequestID()
		}
		c.Header(headerRequestID, reqID)

		ctx := logging.WithRequestID(c.Request.Context(), reqID)
		ctx = logging.WithLogger(ctx, log.With(zap.String("request_id", reqID)))
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		reqLog, _ := logging.GetLogger(c.Request.Context())
		reqLog.Debug(c.Request.Context(), "request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// requireAPIKey rejects requests whose x-api-key header does not match token.
func requireAPIKey(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(headerAPIKey))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			reqLog, ctx := logging.GetLogger(c.Request.Context())
			reqLog.Warn(ctx, "unauthorized webhook call", zap.String("remote_addr", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, failure("", "Invalid API key"))
			return
		}
		c.Next()
	}
}
