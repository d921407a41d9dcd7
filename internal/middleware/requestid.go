package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/webuildtrades/postcode-lookup/internal/logging"
)

// Header names for request tracing.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// maxIDLength bounds caller-supplied ids.
const maxIDLength = 128

// NewRequestIDMiddleware handles request and correlation ID context propagation.
func NewRequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := getOrGenerateID(r.Header.Get(HeaderRequestID))
			correlationID := getOrGenerateID(r.Header.Get(HeaderCorrelationID))

			ctx := logging.WithRequestID(r.Context(), requestID)
			ctx = logging.WithCorrelationID(ctx, correlationID)

			w.Header().Set(HeaderRequestID, requestID)
			w.Header().Set(HeaderCorrelationID, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getOrGenerateID returns the provided ID if usable, otherwise a new UUID.
func getOrGenerateID(existingID string) string {
	existingID = strings.TrimSpace(existingID)
	if existingID == "" || len(existingID) > maxIDLength || strings.ContainsAny(existingID, "\r\n") {
		return uuid.New().String()
	}
	return existingID
}
