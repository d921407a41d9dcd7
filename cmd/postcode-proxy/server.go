package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

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
	"github.com/webuildtrades/postcode-lookup/internal/server"
	"github.com/webuildtrades/postcode-lookup/internal/usage"
)

// Server command flags
var (
	serverListenAddr   string
	serverDatabasePath string
	serverLogLevel     string
	serverLogFile      string
	serverProviderPath string
	debugMode          bool
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the postcode lookup server",
		RunE:  runServer,
	}
	cmd.Flags().StringVar(&serverListenAddr, "addr", "", "Address to listen on (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&serverDatabasePath, "db", "", "Path to SQLite database (overrides DATABASE_PATH)")
	cmd.Flags().StringVar(&serverLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	cmd.Flags().StringVar(&serverLogFile, "log-file", "", "Path to log file (overrides LOG_FILE, default: stdout)")
	cmd.Flags().StringVarP(&serverProviderPath, "providers", "c", "", "Path to provider YAML config (overrides PROVIDER_CONFIG_PATH)")
	cmd.Flags().BoolVarP(&debugMode, "debug", "v", false, "Enable debug logging (overrides log-level)")
	return cmd
}

// applyServerFlags copies explicitly set flags over the environment config.
func applyServerFlags(cfg *config.Config) {
	if serverListenAddr != "" {
		cfg.ListenAddr = serverListenAddr
	}
	if serverDatabasePath != "" {
		cfg.DatabasePath = serverDatabasePath
	}
	if serverLogLevel != "" {
		cfg.LogLevel = serverLogLevel
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}
	if serverLogFile != "" {
		cfg.LogFile = serverLogFile
	}
	if serverProviderPath != "" {
		cfg.ProviderConfigPath = serverProviderPath
	}
}

func buildDatabaseConfig(cfg *config.Config) database.FullConfig {
	dbConfig := database.DefaultFullConfig()
	dbConfig.Driver = database.DriverType(cfg.DatabaseDriver)
	dbConfig.Path = cfg.DatabasePath
	dbConfig.DatabaseURL = cfg.DatabaseURL
	if cfg.DatabasePoolSize > 0 {
		dbConfig.MaxOpenConns = cfg.DatabasePoolSize
		dbConfig.MaxIdleConns = max(cfg.DatabasePoolSize/2, 1)
	}
	return dbConfig
}

// app is the wired service graph.
type app struct {
	db       *database.DB
	redis    redis.UniversalClient
	limiter  ratelimit.Limiter
	server   *server.Server
	breakers *provider.BreakerRegistry
}

func (a *app) Close() error {
	var errs []string
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// buildLimiter returns the Redis limiter when an address is configured and
// the in-memory one otherwise.
func buildLimiter(cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, redis.UniversalClient, []server.ReadinessCheck) {
	if cfg.RateLimitRedisAddr == "" {
		logger.Info("Using in-memory rate limit counters")
		return ratelimit.NewMemoryLimiter(cfg.RateLimitWindow), nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RateLimitRedisAddr, DB: cfg.RateLimitRedisDB})
	rcfg := ratelimit.DefaultRedisConfig()
	rcfg.Window = cfg.RateLimitWindow
	rcfg.KeyPrefix = cfg.RateLimitPrefix
	rcfg.EnableFallback = cfg.RateLimitFallback
	rcfg.FailureOpen = cfg.RateLimitFailureOpen
	if cfg.RateLimitKeySecret != "" {
		rcfg.KeyHashSecret = []byte(cfg.RateLimitKeySecret)
	}
	limiter := ratelimit.NewRedisLimiter(ratelimit.NewRedisGoAdapter(client), rcfg, logger)
	logger.Info("Using Redis rate limit counters", zap.String("addr", cfg.RateLimitRedisAddr))
	return limiter, client, []server.ReadinessCheck{{Name: "redis", Check: limiter.CheckHealth}}
}

// buildApp connects storage and wires every service behind the HTTP server.
func buildApp(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry) (*app, error) {
	m := metrics.New(reg)
	audit := logging.NewAuditLogger(logger)

	db, err := database.NewFromConfig(buildDatabaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.DatabaseDriver, err)
	}
	a := &app{db: db}

	providerCfg, err := provider.LoadConfig(cfg.ProviderConfigPath, provider.DefaultConfig(
		cfg.PostcodesBaseURL, cfg.PlacesBaseURL, cfg.PlacesAPIKey, cfg.ProviderTimeout, cfg.NearbyRadius))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	providers, breakers := provider.Build(providerCfg, logger, m)
	a.breakers = breakers

	limiter, redisClient, checks := buildLimiter(cfg, logger)
	a.redis = redisClient
	a.limiter = limiter
	checks = append([]server.ReadinessCheck{{Name: "database", Check: db.Ping}}, checks...)

	addresses := addressbook.NewService(db, audit, logger)
	lookupSvc, err := lookup.NewService(lookup.Config{
		RadiusMeters:         cfg.NearbyRadius,
		SearchEndpoint:       cfg.SearchEndpointName,
		LocationEndpoint:     cfg.LocationEndpointName,
		AutocompleteEndpoint: cfg.AutocompleteEndpointName,
	}, lookup.Deps{
		Validator: apikey.NewValidator(db),
		Providers: providers,
		Usage:     usage.NewReporter(usage.NewStoreSink(db), logger, audit, m),
		Limiter:   limiter,
		Addresses: addresses,
		Logger:    logger,
		Audit:     audit,
		Metrics:   m,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	srv, err := server.New(cfg, server.Deps{
		Lookup:    lookupSvc,
		Accounts:  account.NewService(db, db, audit, logger, cfg.DefaultRateLimit),
		Addresses: addresses,
		Identity:  identity.NewVerifier(cfg.IdentityJWTSecret, cfg.IdentityIssuer),
		Breakers:  breakers,
		Logger:    logger,
		Audit:     audit,
		Metrics:   m,
		Gatherer:  reg,
		Checks:    checks,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.server = srv
	return a, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyServerFlags(cfg)

	zapLogger, err := logging.NewLoggerWithRotation(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, logging.FileOptions{
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := zapLogger.Sync(); err != nil && !strings.Contains(err.Error(), "inappropriate ioctl for device") {
			log.Printf("Error syncing zap logger: %v", err)
		}
	}()

	if cfg.IdentityJWTSecret == "" {
		zapLogger.Warn("IDENTITY_JWT_SECRET not set - account routes will reject every session")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := buildApp(cfg, zapLogger, reg)
	if err != nil {
		zapLogger.Error("Failed to initialize server", zap.Error(err))
		return err
	}
	defer func() { _ = a.Close() }()
	zapLogger.Info("Database ready", zap.String("driver", string(a.db.Driver())))

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if s, ok := a.limiter.(ratelimit.Sweeper); ok {
		go ratelimit.RunSweeper(sweepCtx, s, cfg.RateLimitWindow)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.Start() }()

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("Press Ctrl+C to stop")
	}

	select {
	case err := <-serveErr:
		if err != nil {
			zapLogger.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	case <-done:
	}
	zapLogger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	zapLogger.Info("Server exited gracefully")
	return nil
}
