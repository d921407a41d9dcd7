package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/logging"
)

// NewLoggingMiddleware logs the start and completion of every request.
func NewLoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)
			log := logging.FromContext(r.Context(), logger)

			log.Debug("request started",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
			)

			next.ServeHTTP(rw, r)

			log.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status_code", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
