package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreBackendMemory   = "memory"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Env       string
	LogLevel  string
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	ChatModel ChatModelConfig
	Learning  LearningConfig
	Triage    TriageConfig
	OTEL      OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// StoreConfig selects the key-value store backend
type StoreConfig struct {
	Backend string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Table    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// ChatModelConfig holds the hosted chat-completion configuration.
// An empty APIKey disables the hosted path entirely.
type ChatModelConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	Temperature    float64
	MaxTokens      int
	RateLimitRPM   int
	RateLimitBurst int
}

// LearningConfig holds feedback-learning knobs
type LearningConfig struct {
	SuccessExemplars int
	FailureExemplars int
	ArchiveAfter     time.Duration
	InsightsWindow   int
}

// TriageConfig holds rule-engine configuration
type TriageConfig struct {
	CatalogPath string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendMemory)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "concussion_rehab"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Table:    getEnv("DB_KV_TABLE", "kv_store"),
		},
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnvAsInt("REDIS_PORT", 6379),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "rehab:"),
		},
		ChatModel: ChatModelConfig{
			APIKey:         getEnv("GITHUB_TOKEN", ""),
			BaseURL:        getEnv("CHAT_MODEL_BASE_URL", "https://models.inference.ai.azure.com"),
			Model:          getEnv("CHAT_MODEL", "gpt-4o"),
			Timeout:        getEnvAsDuration("CHAT_TIMEOUT", 20*time.Second),
			Temperature:    getEnvAsFloat("CHAT_TEMPERATURE", 0.3),
			MaxTokens:      getEnvAsInt("CHAT_MAX_TOKENS", 1500),
			RateLimitRPM:   getEnvAsInt("CHAT_RATE_LIMIT_RPM", 60),
			RateLimitBurst: getEnvAsInt("CHAT_RATE_LIMIT_BURST", 5),
		},
		Learning: LearningConfig{
			SuccessExemplars: getEnvAsInt("LEARNING_SUCCESS_EXEMPLARS", 10),
			FailureExemplars: getEnvAsInt("LEARNING_FAILURE_EXEMPLARS", 5),
			ArchiveAfter:     getEnvAsDuration("LEARNING_ARCHIVE_AFTER", 30*24*time.Hour),
			InsightsWindow:   getEnvAsInt("LEARNING_INSIGHTS_WINDOW", 50),
		},
		Triage: TriageConfig{
			CatalogPath: getEnv("CATALOG_PATH", ""),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "concussion-rehab"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis, StoreBackendPostgres:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Learning.SuccessExemplars < 0 || c.Learning.FailureExemplars < 0 {
		return fmt.Errorf("exemplar limits must not be negative")
	}
	if c.Learning.InsightsWindow <= 0 {
		return fmt.Errorf("LEARNING_INSIGHTS_WINDOW must be positive")
	}
	if c.ChatModel.Timeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT must be positive")
	}
	return nil
}

// HostedModelEnabled reports whether a hosted chat model is configured
func (c *ChatModelConfig) HostedModelEnabled() bool {
	return c.APIKey != ""
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s", "720h") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
