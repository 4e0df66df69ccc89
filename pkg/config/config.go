package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/repub/registry/pkg/observability"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Blobstore     BlobstoreConfig
	Registry      RegistryConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	HealthPort      string
}

// DatabaseConfig selects and configures the metastore backend.
type DatabaseConfig struct {
	// URL is REPUB_DATABASE_URL (default "sqlite://repub.db"). A URL
	// with the "sqlite://" scheme selects the embedded backend; any
	// other value is used as a postgres DSN for the SQL backend.
	URL string
}

// BlobstoreConfig selects and configures the blob store backend.
type BlobstoreConfig struct {
	Type           string // "filesystem" or "s3"
	FilesystemRoot string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	SignedURLTTL   time.Duration
}

// RegistryConfig holds registry-domain settings.
type RegistryConfig struct {
	BaseURL             string
	UpstreamURL         string
	EnableUpstreamProxy bool
	RequirePublishAuth  bool
	RequireDownloadAuth bool
	RateLimitRequests   int
	RateLimitWindow     time.Duration
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel           observability.LogLevel
	MetricsEnabled     bool
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Blobstore:     loadBlobstoreConfig(),
		Registry:      loadRegistryConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      getEnv("REPUB_LISTEN_ADDR", "0.0.0.0:8080"),
		ReadTimeout:     getEnvDuration("REPUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("REPUB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("REPUB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("REPUB_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("REPUB_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL: getEnv("REPUB_DATABASE_URL", "sqlite://repub.db"),
	}
}

func loadBlobstoreConfig() BlobstoreConfig {
	return BlobstoreConfig{
		Type:           getEnv("REPUB_BLOBSTORE_TYPE", "filesystem"),
		FilesystemRoot: getEnv("REPUB_BLOBSTORE_ROOT", "/var/repub/blobs"),
		S3Endpoint:     getEnv("REPUB_S3_ENDPOINT", ""),
		S3Region:       getEnv("REPUB_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("REPUB_S3_BUCKET", ""),
		S3AccessKey:    getEnv("REPUB_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("REPUB_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("REPUB_S3_USE_PATH_STYLE", false),
		SignedURLTTL:   getEnvDuration("REPUB_SIGNED_URL_TTL_SECONDS", 15*time.Minute),
	}
}

func loadRegistryConfig() RegistryConfig {
	return RegistryConfig{
		BaseURL:             getEnv("REPUB_BASE_URL", "http://localhost:8080"),
		UpstreamURL:         getEnv("REPUB_UPSTREAM_URL", "https://pub.dev"),
		EnableUpstreamProxy: getEnvBool("REPUB_ENABLE_UPSTREAM_PROXY", false),
		RequirePublishAuth:  getEnvBool("REPUB_REQUIRE_PUBLISH_AUTH", true),
		RequireDownloadAuth: getEnvBool("REPUB_REQUIRE_DOWNLOAD_AUTH", false),
		RateLimitRequests:   getEnvInt("REPUB_RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:     getEnvDuration("REPUB_RATE_LIMIT_WINDOW_SECONDS", 60*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("REPUB_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("REPUB_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("REPUB_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("REPUB_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("REPUB_OTEL_SERVICE_NAME", "repub-registry"),
		OTelServiceVersion: getEnv("REPUB_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("REPUB_OTEL_INSECURE", true),
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}

	switch c.Blobstore.Type {
	case "filesystem":
		if c.Blobstore.FilesystemRoot == "" {
			return fmt.Errorf("blobstore root is required for filesystem storage")
		}
	case "s3":
		if c.Blobstore.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blobstore")
		}
	default:
		return fmt.Errorf("invalid blobstore type: %s (must be filesystem or s3)", c.Blobstore.Type)
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

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
