package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/identity"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
	"github.com/webuildtrades/postcode-lookup/internal/lookup"
	"github.com/webuildtrades/postcode-lookup/internal/ratelimit"
)

// lookupHandler serves one of the key-gated postcode endpoints. The method
// check lives in the lookup service so rejections share its error body.
func (s *Server) lookupHandler(endpoint lookup.Endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := lookup.Request{
			Method:    r.Method,
			Postcode:  r.PathValue("postcode"),
			APIKey:    apiKeyFromRequest(r),
			Origin:    originFromRequest(r),
			Endpoint:  endpoint,
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
		}

		result, lerr := s.lookup.Handle(r.Context(), req)
		if lerr != nil {
			setRateLimitHeaders(w, lerr.RateLimit)
			if lerr.Kind == lookup.KindMethodNotAllowed {
				w.Header().Set("Allow", http.MethodGet)
			}
			logging.FromContext(r.Context(), s.logger).Debug("Lookup rejected",
				zap.String("kind", string(lerr.Kind)),
				zap.Int("status", lerr.Status))
			s.writeJSON(w, r, lerr.Status, lerr.Body())
			return
		}
		setRateLimitHeaders(w, result.RateLimit)
		s.writeJSON(w, r, http.StatusOK, result.Body)
	})
}

// apiKeyFromRequest reads X-API-Key, then a Bearer Authorization header.
func apiKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return identity.BearerToken(r.Header.Get("Authorization"))
}

// originFromRequest prefers Origin and falls back to Referer.
func originFromRequest(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return r.Header.Get("Referer")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d == nil || d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		retry := int(time.Until(d.ResetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		h.Set("Retry-After", strconv.Itoa(retry))
	}
}
