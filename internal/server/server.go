// Package server implements the HTTP surface: the key-gated lookup proxy,
// the session-authenticated account and address book routes, the
// management API and the health and metrics endpoints.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/webuildtrades/postcode-lookup/internal/account"
	"github.com/webuildtrades/postcode-lookup/internal/addressbook"
	"github.com/webuildtrades/postcode-lookup/internal/config"
	"github.com/webuildtrades/postcode-lookup/internal/identity"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
	"github.com/webuildtrades/postcode-lookup/internal/lookup"
	"github.com/webuildtrades/postcode-lookup/internal/metrics"
	"github.com/webuildtrades/postcode-lookup/internal/middleware"
	"github.com/webuildtrades/postcode-lookup/internal/provider"
)

// Version is the application version, following semantic versioning.
const Version = "1.0.0"

// ReadinessCheck is one dependency probed by /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the services the server routes to.
type Deps struct {
	Lookup    *lookup.Service
	Accounts  *account.Service
	Addresses *addressbook.Service
	Identity  *identity.Verifier
	Breakers  *provider.BreakerRegistry
	Logger    *zap.Logger
	Audit     *logging.AuditLogger
	Metrics   *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default gatherer.
	Gatherer prometheus.Gatherer
	Checks   []ReadinessCheck
}

// Server represents the HTTP server.
type Server struct {
	server    *http.Server
	config    *config.Config
	lookup    *lookup.Service
	accounts  *account.Service
	addresses *addressbook.Service
	identity  *identity.Verifier
	breakers  *provider.BreakerRegistry
	logger    *zap.Logger
	audit     *logging.AuditLogger
	metrics   *metrics.Metrics
	checks    []ReadinessCheck
	startTime time.Time

	// managementHash is the bcrypt hash of the SHA-256 of the management token.
	managementHash []byte
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status    string                            `json:"status"`
	Timestamp time.Time                         `json:"timestamp"`
	Version   string                            `json:"version"`
	Uptime    string                            `json:"uptime"`
	Breakers  map[string]provider.BreakerStatus `json:"breakers,omitempty"`
}

// New creates the server and registers every route. The server does not
// listen until Start is called.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Lookup == nil || deps.Accounts == nil || deps.Addresses == nil {
		return nil, errors.New("lookup, account and address services are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hash, err := bcrypt.GenerateFromPassword(managementDigest(cfg.ManagementToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash management token: %w", err)
	}

	s := &Server{
		config:         cfg,
		lookup:         deps.Lookup,
		accounts:       deps.Accounts,
		addresses:      deps.Addresses,
		identity:       deps.Identity,
		breakers:       deps.Breakers,
		logger:         logger,
		audit:          deps.Audit,
		metrics:        deps.Metrics,
		checks:         deps.Checks,
		startTime:      time.Now(),
		managementHash: hash,
	}

	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, middleware.NewInstrumentationMiddleware(s.metrics, name)(h))
	}

	route("/health", "health", http.HandlerFunc(s.handleHealth))
	route("/ready", "ready", http.HandlerFunc(s.handleReady))
	route("/live", "live", http.HandlerFunc(s.handleLive))

	route("/api/postcodes/{postcode}", "postcode_search", s.lookupHandler(lookup.EndpointSearch))
	route("/api/postcodes/{postcode}/location", "postcode_location", s.lookupHandler(lookup.EndpointLocation))
	route("/api/postcodes/{postcode}/autocomplete", "postcode_autocomplete", s.lookupHandler(lookup.EndpointAutocomplete))

	route("GET /account/profile", "account_profile", s.sessionAuth(s.handleProfile))
	route("POST /account/api-key", "account_api_key", s.sessionAuth(s.handleGenerateKey))
	route("GET /account/usage", "account_usage", s.sessionAuth(s.handleUsage))
	route("GET /account/usage/daily", "account_usage_daily", s.sessionAuth(s.handleDailyUsage))
	route("POST /account/domains", "account_domains", s.sessionAuth(s.handleAddDomain))
	route("DELETE /account/domains/{domain}", "account_domains", s.sessionAuth(s.handleRemoveDomain))

	route("GET /addresses", "addresses", s.sessionAuth(s.handleListAddresses))
	route("POST /addresses", "addresses", s.sessionAuth(s.handleCreateAddress))
	route("PUT /addresses/{id}", "addresses", s.sessionAuth(s.handleUpdateAddress))
	route("DELETE /addresses/{id}", "addresses", s.sessionAuth(s.handleDeleteAddress))

	route("/manage/", "manage", s.managementEngine())

	if cfg.EnableMetrics {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", s.handleNotFound)

	handler := middleware.Chain(mux,
		middleware.NewRequestIDMiddleware(),
		middleware.NewLoggingMiddleware(logger),
		middleware.NewCORSMiddleware(middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
			AllowedHeaders: cfg.CORSAllowedHeaders,
			MaxAge:         cfg.CORSMaxAge,
		}),
		maxBodyMiddleware(cfg.MaxRequestSize),
	)

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       cfg.RequestTimeout,
		ReadHeaderTimeout: cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
		IdleTimeout:       cfg.RequestTimeout * 2,
	}
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("Server starting", zap.String("listen_addr", s.config.ListenAddr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.breakers != nil {
		response.Breakers = s.breakers.Status()
	}
	s.writeJSON(w, r, http.StatusOK, response)
}

// handleReady probes every dependency.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := map[string]string{}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			failures[c.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		logging.FromContext(r.Context(), s.logger).Warn("Readiness check failed", zap.Any("failures", failures))
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	logging.FromContext(r.Context(), s.logger).Info("route not found",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)
	s.writeError(w, r, http.StatusNotFound, "Not found")
}

// writeJSON encodes v with status.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context(), s.logger).Error("Failed to encode response", zap.Error(err))
	}
}

// errorResponse is the body of every non-lookup failure.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, r, status, errorResponse{Error: message})
}

func maxBodyMiddleware(limit int64) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// managementDigest keeps bcrypt under its 72 byte input limit.
func managementDigest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(sum[:]))
}

// validManagementToken compares token against the configured one.
func (s *Server) validManagementToken(token string) bool {
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.managementHash, managementDigest(token)) == nil
}
