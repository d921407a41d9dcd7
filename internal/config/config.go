// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration values loaded from environment variables.
type Config struct {
	// Server configuration
	ListenAddr     string        // Address to listen on (e.g., ":8080")
	RequestTimeout time.Duration // Read/write timeout for inbound requests
	MaxRequestSize int64         // Maximum size of incoming request bodies in bytes

	// Environment
	APIEnv string // API environment: 'production', 'development', 'test'

	// Database configuration
	DatabaseDriver   string // sqlite, postgres or mysql
	DatabasePath     string // Path to the SQLite database file
	DatabaseURL      string // DSN for postgres/mysql
	DatabasePoolSize int    // Number of connections in the database pool

	// Authentication
	ManagementToken   string // Token for the user-management API
	IdentityJWTSecret string // HS256 secret of the hosted identity provider
	IdentityIssuer    string // Expected "iss" claim (empty to skip the check)

	// Postcode/places provider configuration
	ProviderConfigPath string        // Optional YAML file overriding the provider settings below
	PostcodesBaseURL   string        // Base URL of the postcode geocoding API
	PlacesBaseURL      string        // Base URL of the places API
	PlacesAPIKey       string        // Places API key (empty selects the postcode API for nearby lookups)
	NearbyRadius       int           // Radius in meters used for nearby place searches
	ProviderTimeout    time.Duration // Timeout for a single provider call

	// Usage accounting
	SearchEndpointName       string // Endpoint name recorded for full searches
	LocationEndpointName     string // Endpoint name recorded for geocode-only lookups
	AutocompleteEndpointName string // Endpoint name recorded for suggestions

	// Logging
	LogLevel      string // Log level (debug, info, warn, error)
	LogFormat     string // Log format (json, console)
	LogFile       string // Path to log file (empty for stdout)
	LogMaxSizeMB  int    // Rotate the log file after this many megabytes
	LogMaxBackups int    // Number of rotated log files to keep

	// CORS settings
	CORSAllowedOrigins []string      // Allowed origins for CORS
	CORSAllowedMethods []string      // Allowed methods for CORS
	CORSAllowedHeaders []string      // Allowed headers for CORS
	CORSMaxAge         time.Duration // Max age for CORS preflight responses

	// Account rate limiting
	RateLimitWindow      time.Duration // Window length a profile's rate_limit applies to
	DefaultRateLimit     int           // Rate limit assigned to newly registered profiles
	RateLimitRedisAddr   string        // Redis address; empty keeps counters in memory
	RateLimitRedisDB     int           // Redis database number
	RateLimitPrefix      string        // Redis key prefix for counters
	RateLimitKeySecret   string        // HMAC secret for hashing user ids in Redis keys
	RateLimitFallback    bool          // Fall back to in-memory counters when Redis is down
	RateLimitFailureOpen bool          // Allow requests when no limiter backend is reachable

	// Monitoring
	EnableMetrics bool   // Whether to expose Prometheus metrics
	MetricsPath   string // Path for metrics endpoint
}

// New creates a new configuration with values from environment variables.
// It applies default values where environment variables are not set,
// and validates required configuration settings.
func New() (*Config, error) {
	d := DefaultConfig()
	config := &Config{
		ListenAddr:     EnvOrDefault("LISTEN_ADDR", d.ListenAddr),
		RequestTimeout: EnvDurationOrDefault("REQUEST_TIMEOUT", d.RequestTimeout),
		MaxRequestSize: int64(EnvIntOrDefault("MAX_REQUEST_SIZE", int(d.MaxRequestSize))),

		APIEnv: EnvOrDefault("API_ENV", d.APIEnv),

		DatabaseDriver:   EnvOrDefault("DB_DRIVER", d.DatabaseDriver),
		DatabasePath:     EnvOrDefault("DATABASE_PATH", d.DatabasePath),
		DatabaseURL:      EnvOrDefault("DATABASE_URL", d.DatabaseURL),
		DatabasePoolSize: EnvIntOrDefault("DATABASE_POOL_SIZE", d.DatabasePoolSize),

		ManagementToken:   EnvOrDefault("MANAGEMENT_TOKEN", ""),
		IdentityJWTSecret: EnvOrDefault("IDENTITY_JWT_SECRET", ""),
		IdentityIssuer:    EnvOrDefault("IDENTITY_ISSUER", d.IdentityIssuer),

		ProviderConfigPath: EnvOrDefault("PROVIDER_CONFIG_PATH", d.ProviderConfigPath),
		PostcodesBaseURL:   EnvOrDefault("POSTCODES_BASE_URL", d.PostcodesBaseURL),
		PlacesBaseURL:      EnvOrDefault("PLACES_BASE_URL", d.PlacesBaseURL),
		PlacesAPIKey:       EnvOrDefault("PLACES_API_KEY", ""),
		NearbyRadius:       EnvIntOrDefault("NEARBY_RADIUS_METERS", d.NearbyRadius),
		ProviderTimeout:    EnvDurationOrDefault("PROVIDER_TIMEOUT", d.ProviderTimeout),

		SearchEndpointName:       EnvOrDefault("USAGE_SEARCH_ENDPOINT", d.SearchEndpointName),
		LocationEndpointName:     EnvOrDefault("USAGE_LOCATION_ENDPOINT", d.LocationEndpointName),
		AutocompleteEndpointName: EnvOrDefault("USAGE_AUTOCOMPLETE_ENDPOINT", d.AutocompleteEndpointName),

		LogLevel:      EnvOrDefault("LOG_LEVEL", d.LogLevel),
		LogFormat:     EnvOrDefault("LOG_FORMAT", d.LogFormat),
		LogFile:       EnvOrDefault("LOG_FILE", d.LogFile),
		LogMaxSizeMB:  EnvIntOrDefault("LOG_MAX_SIZE_MB", d.LogMaxSizeMB),
		LogMaxBackups: EnvIntOrDefault("LOG_MAX_BACKUPS", d.LogMaxBackups),

		CORSAllowedOrigins: EnvStringSliceOrDefault("CORS_ALLOWED_ORIGINS", d.CORSAllowedOrigins),
		CORSAllowedMethods: EnvStringSliceOrDefault("CORS_ALLOWED_METHODS", d.CORSAllowedMethods),
		CORSAllowedHeaders: EnvStringSliceOrDefault("CORS_ALLOWED_HEADERS", d.CORSAllowedHeaders),
		CORSMaxAge:         EnvDurationOrDefault("CORS_MAX_AGE", d.CORSMaxAge),

		RateLimitWindow:      EnvDurationOrDefault("RATE_LIMIT_WINDOW", d.RateLimitWindow),
		DefaultRateLimit:     EnvIntOrDefault("DEFAULT_RATE_LIMIT", d.DefaultRateLimit),
		RateLimitRedisAddr:   EnvOrDefault("RATE_LIMIT_REDIS_ADDR", d.RateLimitRedisAddr),
		RateLimitRedisDB:     EnvIntOrDefault("RATE_LIMIT_REDIS_DB", d.RateLimitRedisDB),
		RateLimitPrefix:      EnvOrDefault("RATE_LIMIT_PREFIX", d.RateLimitPrefix),
		RateLimitKeySecret:   EnvOrDefault("RATE_LIMIT_KEY_SECRET", ""),
		RateLimitFallback:    EnvBoolOrDefault("RATE_LIMIT_FALLBACK", d.RateLimitFallback),
		RateLimitFailureOpen: EnvBoolOrDefault("RATE_LIMIT_FAILURE_OPEN", d.RateLimitFailureOpen),

		EnableMetrics: EnvBoolOrDefault("ENABLE_METRICS", d.EnableMetrics),
		MetricsPath:   EnvOrDefault("METRICS_PATH", d.MetricsPath),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.ManagementToken == "" {
		return fmt.Errorf("MANAGEMENT_TOKEN environment variable is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the %s driver", c.DatabaseDriver)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.NearbyRadius <= 0 {
		return fmt.Errorf("NEARBY_RADIUS_METERS must be positive")
	}
	return nil
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8080",
		RequestTimeout: 30 * time.Second,
		MaxRequestSize: 1024 * 1024,

		APIEnv: "development",

		DatabaseDriver:   "sqlite",
		DatabasePath:     "./data/postcode-lookup.db",
		DatabasePoolSize: 10,

		ProviderConfigPath: "./config/providers.yaml",
		PostcodesBaseURL:   "https://api.postcodes.io",
		PlacesBaseURL:      "https://maps.googleapis.com",
		NearbyRadius:       500,
		ProviderTimeout:    10 * time.Second,

		SearchEndpointName:       "postcode-search",
		LocationEndpointName:     "postcode-location",
		AutocompleteEndpointName: "postcode-autocomplete",

		LogLevel:      "info",
		LogFormat:     "json",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,

		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		CORSMaxAge:         24 * time.Hour,

		RateLimitWindow:   time.Minute,
		DefaultRateLimit:  60,
		RateLimitPrefix:   "postcode:ratelimit:",
		RateLimitFallback: true,

		EnableMetrics: true,
		MetricsPath:   "/metrics",
	}
}
