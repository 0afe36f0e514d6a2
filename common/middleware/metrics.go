package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
)

// MetricsMiddleware publishes one batch per request: a request count, the
// latency, and an error count for 4xx/5xx responses. Dimensions are the
// route template, method and status class.
func MetricsMiddleware(metrics *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metrics.Enabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		dims := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusClass(status),
		}
		batch := []awspkg.Datum{
			awspkg.Count(awspkg.MetricHTTPRequests, dims),
			awspkg.Latency(awspkg.MetricHTTPLatency, elapsed, dims),
		}
		if status >= 400 {
			batch = append(batch, awspkg.Count(awspkg.MetricHTTPErrors, dims))
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Put(ctx, batch...)
		}()
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}
