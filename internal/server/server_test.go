package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/webuildtrades/postcode-lookup/internal/account"
	"github.com/webuildtrades/postcode-lookup/internal/addressbook"
	"github.com/webuildtrades/postcode-lookup/internal/apikey"
	"github.com/webuildtrades/postcode-lookup/internal/config"
	"github.com/webuildtrades/postcode-lookup/internal/database"
	"github.com/webuildtrades/postcode-lookup/internal/identity"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
	"github.com/webuildtrades/postcode-lookup/internal/lookup"
	"github.com/webuildtrades/postcode-lookup/internal/metrics"
	"github.com/webuildtrades/postcode-lookup/internal/provider"
	"github.com/webuildtrades/postcode-lookup/internal/ratelimit"
	"github.com/webuildtrades/postcode-lookup/internal/usage"
)

const (
	testManagementToken = "management-secret"
	testJWTSecret       = "jwt-secret"
)

type testServer struct {
	srv      *Server
	db       *database.DB
	verifier *identity.Verifier
	logs     *observer.ObservedLogs
}

// newUpstream fakes the postcode API for SW1A 1AA.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /postcodes/{postcode}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("postcode") != "SW1A 1AA" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":404,"error":"Postcode not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":200,"result":{"postcode":"SW1A 1AA","latitude":51.501009,"longitude":-0.141588,"admin_district":"Westminster","country":"England"}}`))
	})
	mux.HandleFunc("GET /postcodes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"result":[{"postcode":"SW1A 1AA","latitude":51.501009,"longitude":-0.141588,"admin_district":"Westminster","admin_ward":"St James's"}]}`))
	})
	mux.HandleFunc("GET /postcodes/{postcode}/autocomplete", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"result":["SW1A 0AA","SW1A 1AA"]}`))
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)
	return upstream
}

func newTestServer(t *testing.T, checks ...ReadinessCheck) *testServer {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	audit := logging.NewAuditLogger(logger)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	dbCfg := database.DefaultFullConfig()
	dbCfg.Path = ":memory:"
	db, err := database.NewFromConfig(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	upstream := newUpstream(t)
	pc := provider.NewPostcodesIO(upstream.URL, time.Second, 5, m)
	addresses := addressbook.NewService(db, audit, logger)

	lookupSvc, err := lookup.NewService(lookup.DefaultConfig(), lookup.Deps{
		Validator: apikey.NewValidator(db),
		Providers: provider.Set{Geocoder: pc, PlaceFinder: pc, Suggester: pc},
		Usage:     usage.NewReporter(usage.NewStoreSink(db), logger, audit, m),
		Limiter:   ratelimit.NewMemoryLimiter(time.Minute),
		Addresses: addresses,
		Logger:    logger,
		Audit:     audit,
		Metrics:   m,
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.ManagementToken = testManagementToken
	cfg.APIEnv = "test"

	verifier := identity.NewVerifier(testJWTSecret, "")
	srv, err := New(cfg, Deps{
		Lookup:    lookupSvc,
		Accounts:  account.NewService(db, db, audit, logger, 100),
		Addresses: addresses,
		Identity:  verifier,
		Logger:    logger,
		Audit:     audit,
		Metrics:   m,
		Gatherer:  reg,
		Checks:    checks,
	})
	require.NoError(t, err)
	return &testServer{srv: srv, db: db, verifier: verifier, logs: logs}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) session(t *testing.T, id identity.Identity) map[string]string {
	t.Helper()
	token, err := ts.verifier.Sign(id, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (ts *testServer) seedProfile(t *testing.T, id, key string, rateLimit int, domains ...string) {
	t.Helper()
	require.NoError(t, ts.db.CreateProfile(context.Background(), apikey.Profile{
		ID:             id,
		Email:          id + "@example.com",
		APIKey:         key,
		RateLimit:      rateLimit,
		AllowedDomains: domains,
		CreatedAt:      time.Now().UTC(),
	}))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Version, health.Version)

	rec = ts.do(t, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_FailingCheck(t *testing.T) {
	ts := newTestServer(t, ReadinessCheck{Name: "redis", Check: func(context.Context) error {
		return errors.New("connection refused")
	}})

	rec := ts.do(t, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/health", "", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "health")
}

func TestLookup_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/postcodes/SW1A%201AA", "", map[string]string{"X-API-Key": "k"})

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
	assert.Equal(t, lookup.MessageMethodNotAllowed, decode[lookup.ErrorBody](t, rec).Error)
}

func TestLookup_MissingAndInvalidKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, lookup.MessageMissingKey, decode[lookup.ErrorBody](t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA", "", map[string]string{"X-API-Key": "unknown"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, lookup.MessageInvalidKey, decode[lookup.ErrorBody](t, rec).Error)
}

func TestLookup_SearchRecordsUsage(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProfile(t, "user-1", "key-1", 0)

	rec := ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA", "", map[string]string{"X-API-Key": "key-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[lookup.SearchResponse](t, rec)
	require.NotEmpty(t, body.SearchEnd.Summaries)
	assert.Equal(t, "SW1A 1AA", body.SearchEnd.Summaries[0].Postcode)

	records, err := ts.db.ListUsageByUser(context.Background(), "user-1", 0, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "postcode-search", records[0].Endpoint)
	assert.Equal(t, usage.StatusSuccess, records[0].Status)
}

func TestLookup_ClientGoneStillRecordsUsage(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProfile(t, "user-1", "key-1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/postcodes/SW1A%201AA", nil).WithContext(ctx)
	req.Header.Set("X-API-Key", "key-1")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	records, err := ts.db.ListUsageByUser(context.Background(), "user-1", 0, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, usage.StatusSuccess, records[0].Status)
}

func TestLookup_BearerKeyAndUnknownPostcode(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProfile(t, "user-1", "key-1", 0)

	rec := ts.do(t, http.MethodGet, "/api/postcodes/ZZ1%201ZZ", "", map[string]string{"Authorization": "Bearer key-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, lookup.MessageNotFound, decode[lookup.ErrorBody](t, rec).Error)

	records, err := ts.db.ListUsageByUser(context.Background(), "user-1", 0, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, usage.StatusError, records[0].Status)
}

func TestLookup_LocationAndAutocomplete(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProfile(t, "user-1", "key-1", 0)
	headers := map[string]string{"X-API-Key": "key-1"}

	rec := ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA/location", "", headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loc := decode[lookup.LocationResponse](t, rec)
	assert.InDelta(t, 51.501009, loc.Result.Latitude, 1e-6)

	rec = ts.do(t, http.MethodGet, "/api/postcodes/SW1A/autocomplete", "", headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ac := decode[lookup.AutocompleteResponse](t, rec)
	assert.Equal(t, []string{"SW1A 0AA", "SW1A 1AA"}, ac.Result)
}

func TestLookup_RateLimitHeaders(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProfile(t, "user-1", "key-1", 1)
	headers := map[string]string{"X-API-Key": "key-1"}

	rec := ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA/location", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA/location", "", headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, lookup.MessageRateLimited, decode[lookup.ErrorBody](t, rec).Error)
}

func TestLookup_OriginFromReferer(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProfile(t, "user-1", "key-1", 0, "shop.example.com")

	rec := ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA/location", "", map[string]string{
		"X-API-Key": "key-1",
		"Referer":   "https://shop.example.com/checkout",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA/location", "", map[string]string{
		"X-API-Key": "key-1",
		"Origin":    "https://evil.example.net",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAccount_RequiresSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/account/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/account/profile", "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccount_ProvisionGenerateKeyAndLookup(t *testing.T) {
	ts := newTestServer(t)
	headers := ts.session(t, identity.Identity{UserID: "user-9", Email: "nine@example.com"})

	rec := ts.do(t, http.MethodGet, "/account/profile", "", headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decode[profileResponse](t, rec)
	assert.Equal(t, "user-9", profile.ID)
	assert.False(t, profile.HasKey)
	assert.Equal(t, 100, profile.RateLimit)

	rec = ts.do(t, http.MethodPost, "/account/api-key", "", headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile = decode[profileResponse](t, rec)
	require.NotEmpty(t, profile.APIKey)

	rec = ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA/location", "", map[string]string{"X-API-Key": profile.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/account/usage", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Usage []usage.Record `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Usage, 1)
	assert.Equal(t, "postcode-location", list.Usage[0].Endpoint)

	rec = ts.do(t, http.MethodGet, "/account/usage/daily", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":1`)

	rec = ts.do(t, http.MethodGet, "/account/usage?limit=-1", "", headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccount_Domains(t *testing.T) {
	ts := newTestServer(t)
	headers := ts.session(t, identity.Identity{UserID: "user-1", Email: "one@example.com"})

	rec := ts.do(t, http.MethodPost, "/account/domains", `{"domain":"https://Shop.Example.com/"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "shop.example.com")

	rec = ts.do(t, http.MethodPost, "/account/domains", `{"domain":"shop.example.com"}`, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Domain already exists"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/account/domains", `{"domain":"not a domain"}`, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/account/domains/shop.example.com", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allowed_domains":[]}`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/account/domains/shop.example.com", "", headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddresses_CreateSearchAndAdminEdits(t *testing.T) {
	ts := newTestServer(t)
	user := ts.session(t, identity.Identity{UserID: "user-1", Email: "one@example.com"})
	admin := ts.session(t, identity.Identity{UserID: "admin-1", Email: "admin@example.com", IsAdmin: true})

	rec := ts.do(t, http.MethodPost, "/addresses", `{"postcode":"sw1a 1aa","building_number":"10","street_address":"Downing Street","town":"London"}`, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[addressbook.Address](t, rec)
	assert.Equal(t, "SW1A 1AA", created.Postcode)

	rec = ts.do(t, http.MethodPost, "/addresses", `{"postcode":"SW1A 1AA"}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/addresses?q=downing", "", user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	update := `{"postcode":"SW1A 1AA","building_number":"11","street_address":"Downing Street","town":"London"}`
	rec = ts.do(t, http.MethodPut, "/addresses/"+created.ID, update, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, "/addresses/"+created.ID, update, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "11", decode[addressbook.Address](t, rec).BuildingNumber)

	rec = ts.do(t, http.MethodDelete, "/addresses/"+created.ID, "", admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/addresses/"+created.ID, "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddresses_ResidentialEntriesMergedIntoSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProfile(t, "user-1", "key-1", 0)
	user := ts.session(t, identity.Identity{UserID: "user-1", Email: "user-1@example.com"})

	rec := ts.do(t, http.MethodPost, "/addresses", `{"postcode":"SW1A 1AA","building_number":"10","street_address":"Downing Street","town":"London"}`, user)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/postcodes/SW1A%201AA", "", map[string]string{"X-API-Key": "key-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[lookup.SearchResponse](t, rec)
	require.NotEmpty(t, body.SearchEnd.Summaries)
	assert.Equal(t, lookup.SummaryTypeResidential, body.SearchEnd.Summaries[0].Type)
}

func TestManagement_Auth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/manage/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/manage/users", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid management token"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/manage/users", "", ts.session(t, identity.Identity{UserID: "u", Email: "u@example.com"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/manage/users", "", ts.session(t, identity.Identity{UserID: "a", Email: "a@example.com", IsAdmin: true}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestManagement_UserLifecycle(t *testing.T) {
	ts := newTestServer(t)
	auth := map[string]string{"Authorization": "Bearer " + testManagementToken}

	rec := ts.do(t, http.MethodPost, "/manage/users", `{"id":"user-7","email":"seven@example.com","full_name":"Seven"}`, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/manage/users", `{"id":"user-7","email":"seven@example.com"}`, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/manage/users", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seven@example.com")

	rec = ts.do(t, http.MethodPut, "/manage/users/user-7", `{"rateLimit":250}`, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 250, decode[apikey.Profile](t, rec).RateLimit)

	rec = ts.do(t, http.MethodPut, "/manage/users/user-7", `{"rateLimit":-1}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/manage/users/user-7", `{}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/manage/users/user-7", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/manage/users/user-7", "", auth)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/manage/users/user-7", "", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Deps{})
	require.Error(t, err)

	_, err = New(config.DefaultConfig(), Deps{})
	require.Error(t, err)
}

func TestValidManagementToken(t *testing.T) {
	ts := newTestServer(t)
	assert.True(t, ts.srv.validManagementToken(testManagementToken))
	assert.False(t, ts.srv.validManagementToken(""))
	assert.False(t, ts.srv.validManagementToken(testManagementToken+"x"))
}
