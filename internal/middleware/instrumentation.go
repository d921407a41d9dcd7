package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/webuildtrades/postcode-lookup/internal/metrics"
)

// NewInstrumentationMiddleware records request counts and latency under a
// fixed route label, keeping postcodes and ids out of metric labels.
func NewInstrumentationMiddleware(m *metrics.Metrics, route string) Middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)
			m.RecordHTTPRequest(r.Method, route, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
