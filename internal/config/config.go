package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	PostgreSQL PostgreSQLConfig
	Server     ServerConfig
	Analysis   AnalysisConfig
	Cache      CacheConfig
	Telemetry  TelemetryConfig
	Logging    LoggingConfig
	OpenAI     OpenAIConfig
}

// PostgreSQLConfig holds the optional assessment history database
type PostgreSQLConfig struct {
	Enabled            bool
	DSN                string // full connection string, wins over the discrete fields
	Host               string
	Port               int
	User               string
	Password           string
	Database           string
	SSLMode            string
	MaxConnections     int
	MaxIdleConnections int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Host            string
	GinMode         string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// AnalysisConfig controls how signal providers are driven per request
type AnalysisConfig struct {
	ProviderTimeout   time.Duration
	MaxListingImages  int
	MaxReviewImages   int
	MaxImageBytes     int64
	SentimentMaxBatch int
}

// CacheConfig selects the result cache backend
type CacheConfig struct {
	Enabled    bool
	Backend    string // "memory" or "bolt"
	TTL        time.Duration
	BoltPath   string
	BoltBucket string
}

// TelemetryConfig holds OpenTelemetry exporter settings
type TelemetryConfig struct {
	Enabled      bool
	Endpoint     string
	ServiceName  string
	ExportPeriod time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// Debug reports whether [DEBUG] lines should be written
func (l LoggingConfig) Debug() bool {
	return strings.EqualFold(l.Level, "debug")
}

// OpenAIConfig holds settings for the OpenAI-compatible backend used by the analyzers
type OpenAIConfig struct {
	APIKey          string
	APIBase         string
	VisionModel     string // AI image detection
	SentimentModel  string // review polarity scoring
	EmbeddingModel  string // image embeddings for similarity
	ChatTemperature float64
	ChatMaxTokens   int
	ChatExtraBody   string // JSON string for extra_body (e.g., {"chat_template_kwargs":{"thinking":true}})
	Timeout         int
	MaxRetries      int
	Enabled         bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	dsn := getEnv("DATABASE_URL", getEnv("POSTGRESQL_URI", getEnv("PG_DSN", "")))

	cfg := &Config{
		PostgreSQL: PostgreSQLConfig{
			Enabled:            getEnvAsBool("PG_ENABLED", dsn != ""),
			DSN:                dsn,
			Host:               getEnv("PG_HOST", "localhost"),
			Port:               getEnvAsInt("PG_PORT", 5432),
			User:               getEnv("PG_USER", "postgres"),
			Password:           getEnv("PG_PASSWORD", ""),
			Database:           getEnv("PG_DATABASE", "listing_inspector"),
			SSLMode:            getEnv("PG_SSLMODE", "disable"),
			MaxConnections:     getEnvAsInt("PG_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("PG_MAX_IDLE_CONNECTIONS", 2),
		},
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			GinMode:         getEnv("GIN_MODE", "release"),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Analysis: AnalysisConfig{
			ProviderTimeout:   getEnvAsDuration("ANALYSIS_PROVIDER_TIMEOUT", 20*time.Second),
			MaxListingImages:  getEnvAsInt("ANALYSIS_MAX_LISTING_IMAGES", 3),
			MaxReviewImages:   getEnvAsInt("ANALYSIS_MAX_REVIEW_IMAGES", 3),
			MaxImageBytes:     int64(getEnvAsInt("ANALYSIS_MAX_IMAGE_BYTES", 8<<20)),
			SentimentMaxBatch: getEnvAsInt("ANALYSIS_SENTIMENT_MAX_BATCH", 50),
		},
		Cache: CacheConfig{
			Enabled:    getEnvAsBool("CACHE_ENABLED", true),
			Backend:    strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
			TTL:        time.Duration(getEnvAsInt("CACHE_TTL", 86400)) * time.Second,
			BoltPath:   getEnv("CACHE_BOLT_PATH", "data/cache.db"),
			BoltBucket: getEnv("CACHE_BOLT_BUCKET", "assessments"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "listing-inspector"),
			ExportPeriod: getEnvAsDuration("OTEL_EXPORT_PERIOD", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		OpenAI: OpenAIConfig{
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			APIBase:         strings.TrimRight(getEnv("OPENAI_API_BASE", "https://integrate.api.nvidia.com/v1"), "/"),
			VisionModel:     getEnv("OPENAI_VISION_MODEL", "meta/llama-3.2-90b-vision-instruct"),
			SentimentModel:  getEnv("OPENAI_SENTIMENT_MODEL", "meta/llama-3.1-8b-instruct"),
			EmbeddingModel:  getEnv("OPENAI_EMBEDDING_MODEL", "nvidia/nvclip"),
			ChatTemperature: getEnvAsFloat("OPENAI_CHAT_TEMPERATURE", 0.1),
			ChatMaxTokens:   getEnvAsInt("OPENAI_CHAT_MAX_TOKENS", 1024),
			ChatExtraBody:   getEnv("OPENAI_CHAT_EXTRA_BODY", ""),
			Timeout:         getEnvAsInt("OPENAI_TIMEOUT", 30),
			MaxRetries:      getEnvAsInt("OPENAI_MAX_RETRIES", 2),
			Enabled:         getEnv("OPENAI_API_KEY", "") != "",
		},
	}

	if cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "bolt" {
		return nil, fmt.Errorf("unsupported CACHE_BACKEND %q (want memory or bolt)", cfg.Cache.Backend)
	}

	return cfg, nil
}

// GetPostgreSQLDSN returns PostgreSQL connection string
func (c *Config) GetPostgreSQLDSN() string {
	if c.PostgreSQL.DSN != "" {
		return c.PostgreSQL.DSN
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host,
		c.PostgreSQL.Port,
		c.PostgreSQL.User,
		c.PostgreSQL.Password,
		c.PostgreSQL.Database,
		c.PostgreSQL.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float value for %s, using default %f", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("15s") or bare seconds ("15")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration value for %s, using default %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
