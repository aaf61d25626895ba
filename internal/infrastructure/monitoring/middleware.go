package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware creates a Gin middleware for metrics collection. Requests are
// labelled with the route template so session ids do not explode the label
// space.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		metrics.RecordHTTPRequest(method, path, status, duration, reqSize, respSize)
	}
}

// Handler exposes the metrics in the Prometheus text format.
func Handler(metrics *Metrics) http.Handler {
	return promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{})
}

// Timer measures a tool call.
type Timer struct {
	start   time.Time
	metrics *Metrics
	tool    string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, tool string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		tool:    tool,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) {
	t.metrics.RecordServiceCall(t.tool, status, time.Since(t.start))
}
