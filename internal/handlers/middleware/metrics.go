package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/schoolagenda/internal/metrics"
)

// Count requests by method and status class, observe durations
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			rec := newResponseRecorder(w)
			next.ServeHTTP(rec, r)

			statusClass := fmt.Sprintf("%dxx", rec.status/100)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, statusClass).Observe(time.Since(start).Seconds())
		})
	}
}
