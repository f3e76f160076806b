// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	SATCHEL_HOST="0.0.0.0"
//	SATCHEL_PORT="8080"
//	SATCHEL_HEALTH_PORT="9090"
//	SATCHEL_READ_TIMEOUT="15s"
//	SATCHEL_WRITE_TIMEOUT="15s"
//
// Registry settings:
//
//	SATCHEL_FALLBACK_REGISTRY="https://registry.npmjs.org"
//	SATCHEL_AUTH_MODE="scopes"  # scopes, master-key
//	SATCHEL_MASTER_KEY="..."    # required for master-key mode
//
// Storage settings:
//
//	SATCHEL_STORAGE_TYPE="sqlite"  # sqlite, postgres
//	SATCHEL_SQLITE_PATH="satchel.db"
//	SATCHEL_POSTGRES_URL="postgres://localhost/satchel"
//	SATCHEL_BLOB_BACKEND="filesystem"  # filesystem, s3
//	SATCHEL_FILESYSTEM_ROOT="/var/lib/satchel/blobs"
//	SATCHEL_S3_BUCKET="satchel-tarballs"
//	SATCHEL_S3_REGION="us-east-1"
//
// Cache settings:
//
//	SATCHEL_CACHE_ENABLED="true"
//	SATCHEL_REDIS_URL="redis://localhost:6379"
//	SATCHEL_REDIS_POOL_SIZE="10"
//
// Observability settings:
//
//	SATCHEL_LOG_LEVEL="info"  # debug, info, warn, error
//	SATCHEL_METRICS_ENABLED="true"
//	SATCHEL_OTEL_ENABLED="true"
//	SATCHEL_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
