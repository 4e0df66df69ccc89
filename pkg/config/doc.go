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
//	REPUB_LISTEN_ADDR="0.0.0.0:8080"
//	REPUB_HEALTH_PORT="9090"
//	REPUB_READ_TIMEOUT="15s"
//	REPUB_WRITE_TIMEOUT="15s"
//	REPUB_IDLE_TIMEOUT="60s"
//	REPUB_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	REPUB_DATABASE_URL="sqlite://repub.db"  # or postgres://...
//
// Blobstore settings:
//
//	REPUB_BLOBSTORE_TYPE="filesystem"  # filesystem or s3
//	REPUB_BLOBSTORE_ROOT="/var/repub/blobs"
//	REPUB_S3_ENDPOINT=""
//	REPUB_S3_REGION="us-east-1"
//	REPUB_S3_BUCKET=""
//	REPUB_S3_ACCESS_KEY=""
//	REPUB_S3_SECRET_KEY=""
//	REPUB_S3_USE_PATH_STYLE="false"
//	REPUB_SIGNED_URL_TTL_SECONDS="900"
//
// Registry settings:
//
//	REPUB_BASE_URL="http://localhost:8080"
//	REPUB_UPSTREAM_URL="https://pub.dev"
//	REPUB_ENABLE_UPSTREAM_PROXY="false"
//	REPUB_REQUIRE_PUBLISH_AUTH="true"
//	REPUB_REQUIRE_DOWNLOAD_AUTH="false"
//	REPUB_RATE_LIMIT_REQUESTS="300"
//	REPUB_RATE_LIMIT_WINDOW_SECONDS="60"
//
// Observability settings:
//
//	REPUB_LOG_LEVEL="info"  # debug, info, warn, error
//	REPUB_METRICS_ENABLED="true"
//	REPUB_OTEL_ENABLED="false"
//	REPUB_OTEL_ENDPOINT="localhost:4317"
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
//	fmt.Printf("Server: %s\n", cfg.Server.ListenAddr)
//	fmt.Printf("Blobstore: %s\n", cfg.Blobstore.Type)
//	fmt.Printf("Log level: %v\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/blobstore: uses BlobstoreConfig
//   - pkg/metastore: uses DatabaseConfig
//   - pkg/observability: uses ObservabilityConfig
package config
