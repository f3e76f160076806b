package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/satchel/pkg/observability"
	"github.com/platinummonkey/satchel/pkg/registry"
	"github.com/platinummonkey/satchel/pkg/storage"
)

// Auth modes for the token-management endpoints
const (
	AuthModeScopes    = "scopes"
	AuthModeMasterKey = "master-key"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Registry behavior
	Registry RegistryConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RegistryConfig holds registry-specific settings
type RegistryConfig struct {
	// FallbackRegistry is the upstream proxied to for unknown packages
	FallbackRegistry string

	// AuthMode selects the strategy guarding token management: "scopes"
	// or "master-key"
	AuthMode string

	// MasterKey is the administrative key for the master-key auth mode
	MasterKey string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Registry:      loadRegistryConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SATCHEL_HOST", "0.0.0.0"),
		Port:            getEnv("SATCHEL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SATCHEL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SATCHEL_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SATCHEL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SATCHEL_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SATCHEL_HEALTH_PORT", "9090"),
	}
}

// loadRegistryConfig loads registry behavior from environment
func loadRegistryConfig() RegistryConfig {
	return RegistryConfig{
		FallbackRegistry: getEnv("SATCHEL_FALLBACK_REGISTRY", registry.DefaultFallbackRegistry),
		AuthMode:         getEnv("SATCHEL_AUTH_MODE", AuthModeScopes),
		MasterKey:        getEnv("SATCHEL_MASTER_KEY", ""),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("SATCHEL_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// SQLite config
	if sqlitePath := getEnv("SATCHEL_SQLITE_PATH", ""); sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}

	// PostgreSQL config
	if pgURL := getEnv("SATCHEL_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("SATCHEL_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("SATCHEL_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("SATCHEL_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Blob config
	if blobBackend := getEnv("SATCHEL_BLOB_BACKEND", ""); blobBackend != "" {
		cfg.BlobBackend = blobBackend
	}
	if fsRoot := getEnv("SATCHEL_FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}

	// S3 config
	if s3Endpoint := getEnv("SATCHEL_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("SATCHEL_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("SATCHEL_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("SATCHEL_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("SATCHEL_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("SATCHEL_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	// Redis config
	if redisURL := getEnv("SATCHEL_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("SATCHEL_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("SATCHEL_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("SATCHEL_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("SATCHEL_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	if cacheEnabled := getEnv("SATCHEL_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if l1CacheSize := getEnvInt("SATCHEL_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("SATCHEL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SATCHEL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SATCHEL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SATCHEL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SATCHEL_OTEL_SERVICE_NAME", "satchel-registry"),
		OTelServiceVersion: getEnv("SATCHEL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SATCHEL_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Registry.AuthMode {
	case AuthModeScopes:
	case AuthModeMasterKey:
		// A missing key is tolerated here; the authorizer reports it per
		// request so the operator sees the exact remediation.
	default:
		return fmt.Errorf("invalid auth mode: %s (must be %s or %s)", c.Registry.AuthMode, AuthModeScopes, AuthModeMasterKey)
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be sqlite or postgres)", c.Storage.Type)
	}

	switch c.Storage.BlobBackend {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blobs")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blobs")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s (must be filesystem or s3)", c.Storage.BlobBackend)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
