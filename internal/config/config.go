// Package config provides configuration management for the metadata extractor.
package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultTaskQueue is the Temporal task queue shared by the server and workers.
const DefaultTaskQueue = "METADATA_EXTRACTION_TASK_QUEUE"

// Config holds all configuration for the extractor server, worker and CLI.
type Config struct {
	// Server settings
	Port           string
	EmbeddedWorker bool

	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	// Extraction settings
	OutputPrefix   string
	BatchSize      int
	SourceDialect  string
	QueriesFile    string
	TeardownOutput bool

	// Credential store settings
	CredentialStore string
	DatabaseURL     string
	MigrationsPath  string

	// Object store settings
	MinioEndpoint     string
	MinioAccessKey    string
	MinioSecretKey    string
	MinioUseSSL       bool
	MinioRegion       string
	ObjectStoreBucket string
	ObjectStoreRoot   string
	UploadConcurrency int
	UploadRate        float64
	UploadTimeout     time.Duration

	// Auth settings
	JWKSUrl      string
	AuthIssuer   string
	AuthAudience string
	AuthDebug    bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8000"),
		EmbeddedWorker: getEnvBool("EMBEDDED_WORKER", false),

		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", DefaultTaskQueue),

		OutputPrefix:   getEnv("OUTPUT_PREFIX", "/tmp/metadata"),
		BatchSize:      getEnvInt("BATCH_SIZE", 100000),
		SourceDialect:  getEnv("SOURCE_DIALECT", "postgres"),
		QueriesFile:    getEnv("QUERIES_FILE", ""),
		TeardownOutput: getEnvBool("TEARDOWN_OUTPUT", true),

		CredentialStore: getEnv("CREDENTIAL_STORE", "memory"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		MigrationsPath:  getEnv("MIGRATIONS_PATH", ""),

		MinioEndpoint:     getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:    getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:    getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:       getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:       getEnv("MINIO_REGION", ""),
		ObjectStoreBucket: getEnv("OBJECT_STORE_BUCKET", "metadata"),
		ObjectStoreRoot:   getEnv("OBJECT_STORE_ROOT", "/tmp/objectstore"),
		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		UploadRate:        getEnvFloat("UPLOAD_RATE", 0),
		UploadTimeout:     getEnvDuration("UPLOAD_TIMEOUT", 2*time.Minute),

		JWKSUrl:      getEnv("JWKS_URL", ""),
		AuthIssuer:   getEnv("AUTH_ISSUER", ""),
		AuthAudience: getEnv("AUTH_AUDIENCE", ""),
		AuthDebug:    getEnvBool("AUTH_DEBUG", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
