package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/config"
	"github.com/webuildtrades/postcode-lookup/internal/database"
	"github.com/webuildtrades/postcode-lookup/internal/ratelimit"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ManagementToken = "mgmt"
	cfg.APIEnv = "test"
	cfg.DatabasePath = ":memory:"
	cfg.ProviderConfigPath = ""
	return cfg
}

func TestBuildDatabaseConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatabaseDriver = "postgres"
	cfg.DatabaseURL = "postgres://localhost/lookup"
	cfg.DatabasePoolSize = 8

	dbCfg := buildDatabaseConfig(cfg)
	assert.Equal(t, database.DriverPostgres, dbCfg.Driver)
	assert.Equal(t, "postgres://localhost/lookup", dbCfg.DatabaseURL)
	assert.Equal(t, 8, dbCfg.MaxOpenConns)
	assert.Equal(t, 4, dbCfg.MaxIdleConns)
}

func TestApplyServerFlags(t *testing.T) {
	t.Cleanup(func() {
		serverListenAddr, serverLogLevel, debugMode = "", "", false
	})
	serverListenAddr = ":9090"
	serverLogLevel = "warn"
	debugMode = true

	cfg := config.DefaultConfig()
	applyServerFlags(cfg)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POSTCODE_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("POSTCODE_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("POSTCODE_TEST_VALUE"))

	loadEnvFile(path)
	assert.Equal(t, "from-file", os.Getenv("POSTCODE_TEST_VALUE"))

	loadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
}

func TestBuildLimiter_MemoryAndRedis(t *testing.T) {
	cfg := testConfig(t)
	limiter, client, checks := buildLimiter(cfg, zap.NewNop())
	assert.IsType(t, &ratelimit.MemoryLimiter{}, limiter)
	assert.Implements(t, (*ratelimit.Sweeper)(nil), limiter)
	assert.Nil(t, client)
	assert.Empty(t, checks)

	mr := miniredis.RunT(t)
	cfg.RateLimitRedisAddr = mr.Addr()
	limiter, client, checks = buildLimiter(cfg, zap.NewNop())
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })
	assert.IsType(t, &ratelimit.RedisLimiter{}, limiter)
	assert.Implements(t, (*ratelimit.Sweeper)(nil), limiter)
	require.Len(t, checks, 1)
	assert.NoError(t, checks[0].Check(context.Background()))

	d, err := limiter.Allow(context.Background(), "user-1", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = limiter.Allow(context.Background(), "user-1", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestBuildApp_ServesHealthAndReady(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RateLimitRedisAddr = mr.Addr()

	a, err := buildApp(cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildApp_BadProviderConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProviderConfigPath = filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(cfg.ProviderConfigPath, []byte("postcodes_io: [not a map"), 0o600))

	_, err := buildApp(cfg, zap.NewNop(), prometheus.NewRegistry())
	require.Error(t, err)
}

func TestUsersCommands_AgainstServer(t *testing.T) {
	a, err := buildApp(testConfig(t), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	srv := httptest.NewServer(a.server.Handler())
	t.Cleanup(srv.Close)

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append(args, "--env", "", "--manage-api-base-url", srv.URL, "--management-token", "mgmt"))
		require.NoError(t, root.Execute(), out.String())
		return out.String()
	}
	t.Cleanup(func() { managementToken, manageAPIBaseURL = "", "" })

	assert.Contains(t, run("users", "register", "--id", "user-1", "--email", "one@example.com"), "Registered user-1")
	assert.Contains(t, run("users", "list"), "one@example.com")
	assert.Contains(t, run("users", "set-rate-limit", "user-1", "25"), "now 25")
	assert.Contains(t, run("users", "delete", "user-1"), "Deleted user-1")
}

func TestResolveManagementToken_Prompts(t *testing.T) {
	t.Setenv("MANAGEMENT_TOKEN", "")
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func() (string, error) { return " typed \n", nil }

	token, err := resolveManagementToken()
	require.NoError(t, err)
	assert.Equal(t, "typed", token)

	readPassword = func() (string, error) { return "", nil }
	_, err = resolveManagementToken()
	assert.Error(t, err)
}

func TestSearchCommand_RequiresKey(t *testing.T) {
	t.Setenv("POSTCODE_API_KEY", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"search", "SW1A 1AA", "--env", ""})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestSearchCommand_SinglePostcode(t *testing.T) {
	upstream := http.NewServeMux()
	upstream.HandleFunc("GET /api/postcodes/{postcode}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"SearchEnd":{"Summaries":[{"Id":"1","Type":"google_place","Address":"Buckingham Palace, SW1A 1AA"}]}}`))
	})
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"search", "SW1A 1AA", "--env", "", "--url", srv.URL, "--api-key", "k"})

	done := make(chan error, 1)
	go func() { done <- root.Execute() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("search did not finish")
	}
	assert.Contains(t, out.String(), "Buckingham Palace")
}
