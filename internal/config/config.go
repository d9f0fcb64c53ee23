package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"cohortpulse/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	AI        AIConfig
	Server    ServerConfig
	Cache     CacheConfig
	Query     QueryConfig
	Cohort    CohortConfig
	SQLFix    SQLFixConfig
	Logging   LoggingConfig
	Profiling ProfilingConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// AIConfig holds LLM settings. An empty key disables natural language queries.
type AIConfig struct {
	OpenAIKey   string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Enabled reports whether an LLM client can be built
func (c AIConfig) Enabled() bool {
	return c.OpenAIKey != ""
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// CacheConfig holds aggregate cache settings
type CacheConfig struct {
	TTL time.Duration
}

// QueryConfig bounds execution of generated SQL
type QueryConfig struct {
	Timeout time.Duration
	MaxRows int
}

// CohortConfig selects the cohort registry source
type CohortConfig struct {
	Default string
	File    string
}

// SQLFixConfig carries the literal sets the denominator corrector looks for.
// Nil slices mean "use the built-in historical values".
type SQLFixConfig struct {
	ClassDayLiterals      []int
	ActiveBuilderLiterals []int
	TotalTaskLiterals     []int
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load database configuration")
	}
	config.Database = *dbConfig

	config.AI = *loadAIConfig()
	config.Server = *loadServerConfig()
	config.Cache = CacheConfig{TTL: getEnvDurationOrDefault("CACHE_TTL", 5*time.Minute)}
	config.Query = QueryConfig{
		Timeout: getEnvDurationOrDefault("QUERY_TIMEOUT", 15*time.Second),
		MaxRows: getEnvIntOrDefault("QUERY_MAX_ROWS", 1000),
	}
	config.Cohort = CohortConfig{
		Default: getEnvOrDefault("DEFAULT_COHORT", "September 2025"),
		File:    getEnvOrDefault("COHORTS_FILE", ""),
	}

	sqlFix, err := loadSQLFixConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load SQL fix configuration")
	}
	config.SQLFix = *sqlFix

	config.Logging = LoggingConfig{Level: getEnvOrDefault("LOG_LEVEL", "INFO")}
	config.Profiling = ProfilingConfig{
		Port:    getEnvOrDefault("PPROF_PORT", "6060"),
		Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	return &DatabaseConfig{
		URL:             url,
		MaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBoolOrDefault("DB_AUTO_MIGRATE", false),
	}, nil
}

func loadAIConfig() *AIConfig {
	return &AIConfig{
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		Model:       getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		BaseURL:     getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		MaxTokens:   getEnvIntOrDefault("MAX_TOKENS", 1500),
		Temperature: getEnvFloatOrDefault("TEMPERATURE", 0.1),
		Timeout:     getEnvDurationOrDefault("LLM_TIMEOUT", 60*time.Second),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
	}
}

// LoadSQLFix reads only the SQLFIX_* literal overrides, for tools that
// don't need the rest of the configuration.
func LoadSQLFix() (*SQLFixConfig, error) {
	return loadSQLFixConfig()
}

func loadSQLFixConfig() (*SQLFixConfig, error) {
	classDays, err := getEnvIntListOrDefault("SQLFIX_CLASS_DAY_LITERALS", nil)
	if err != nil {
		return nil, err
	}
	builders, err := getEnvIntListOrDefault("SQLFIX_ACTIVE_BUILDER_LITERALS", nil)
	if err != nil {
		return nil, err
	}
	tasks, err := getEnvIntListOrDefault("SQLFIX_TOTAL_TASK_LITERALS", nil)
	if err != nil {
		return nil, err
	}
	return &SQLFixConfig{
		ClassDayLiterals:      classDays,
		ActiveBuilderLiterals: builders,
		TotalTaskLiterals:     tasks,
	}, nil
}

func validateConfig(config *Config) error {
	if config.Query.Timeout <= 0 {
		return errors.ConfigInvalid("QUERY_TIMEOUT must be positive")
	}
	if config.Query.MaxRows <= 0 {
		return errors.ConfigInvalid("QUERY_MAX_ROWS must be positive")
	}
	if config.Cohort.Default == "" {
		return errors.ConfigInvalid("DEFAULT_COHORT must not be empty")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvIntListOrDefault parses a comma separated list such as "24,17,18".
// Unlike the scalar helpers a malformed list is an error: silently ignoring
// it would leave stale denominators in place.
func getEnvIntListOrDefault(key string, defaultValue []int) ([]int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, errors.ConfigInvalid(key + " must be a comma separated list of positive integers")
		}
		out = append(out, n)
	}
	return out, nil
}
