package mid

import (
	"net/http"
	"strconv"
	"time"

	"github.com/PhantomAgents/phantom-mvp/pkg/metrics"
)

// RequestMetrics returns middleware that counts requests by method and
// status and observes request latency. Paths are not a label; label
// cardinality must stay bounded.
func RequestMetrics(reg *metrics.Registry, prefix string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			reg.Counter(
				metrics.WithLabels(prefix+"_http_requests_total", "method", r.Method, "status", strconv.Itoa(sw.status)),
				"HTTP requests by method and status.",
			).Inc()
			reg.Histogram(prefix+"_http_request_seconds", "HTTP request latency.", nil).Since(start)
		})
	}
}
