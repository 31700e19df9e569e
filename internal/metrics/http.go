package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware records request counts and latency per route.
// The route template (not the raw URL) is used as the path label to
// keep cardinality bounded.
func HTTPMetricsMiddleware(recorder Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		recorder.RecordHTTPRequest(
			c.Request.Method,
			path,
			StatusLabel(c.Writer.Status()),
			time.Since(start),
		)
	}
}
