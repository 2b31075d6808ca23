package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"recipe-matcher/internal/pkg/metrics"
)

// Metrics 以路由樣板（而非實際路徑）記錄請求數與延遲
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(metrics.Since(start))
	}
}
