// Package config provides configuration management for the school
// intelligence service. Settings are layered: built-in defaults, then an
// optional YAML file, then a .env file, then SCHOOLINTEL_ environment
// variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration settings.
type Config struct {
	App      AppConfig      `yaml:"app"`
	LLM      LLMConfig      `yaml:"llm"`
	Cache    CacheConfig    `yaml:"cache"`
	Features FeaturesConfig `yaml:"features"`
	Data     DataConfig     `yaml:"data"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig identifies the running instance.
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Environment string `yaml:"environment" validate:"oneof=development production test"`
}

// LLMConfig contains language model backend configuration.
type LLMConfig struct {
	Provider         string  `yaml:"provider" validate:"oneof=anthropic openai"` // default: anthropic
	AnthropicAPIKey  string  `yaml:"anthropic_api_key"`
	AnthropicModel   string  `yaml:"anthropic_model" validate:"required"`
	AnthropicBaseURL string  `yaml:"anthropic_base_url" validate:"omitempty,url"`
	OpenAIAPIKey     string  `yaml:"openai_api_key"`
	OpenAIModel      string  `yaml:"openai_model" validate:"required"`
	OpenAIBaseURL    string  `yaml:"openai_base_url" validate:"omitempty,url"`
	Temperature      float64 `yaml:"temperature" validate:"gte=0,lte=2"` // default: 0.3
	MaxTokens        int     `yaml:"max_tokens" validate:"gte=1"`        // default: 1500
	TimeoutSeconds   int     `yaml:"timeout_seconds" validate:"gte=1"`   // default: 60

	// RateLimitRPM caps outbound model requests per minute. 0 disables limiting.
	RateLimitRPM   int `yaml:"rate_limit_rpm" validate:"gte=0"`
	RateLimitBurst int `yaml:"rate_limit_burst" validate:"gte=0"`

	// Circuit breaker tuning.
	BreakerMaxFailures    uint32 `yaml:"breaker_max_failures" validate:"gte=1"` // default: 3
	BreakerTimeoutSeconds int    `yaml:"breaker_timeout_seconds" validate:"gte=1"`
}

// Model returns the model identifier for the selected provider.
func (c LLMConfig) Model() string {
	if c.Provider == "openai" {
		return c.OpenAIModel
	}
	return c.AnthropicModel
}

// APIKey returns the API key for the selected provider.
func (c LLMConfig) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

// Timeout returns the per-request timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheConfig contains result cache configuration.
type CacheConfig struct {
	Enabled     bool    `yaml:"enabled"`                                          // default: true
	TTLHours    float64 `yaml:"ttl_hours" validate:"gt=0"`                        // default: 24
	Backend     string  `yaml:"backend" validate:"oneof=memory file sqlite redis"` // default: file
	Dir         string  `yaml:"dir"`                                              // file backend directory
	SQLitePath  string  `yaml:"sqlite_path"`
	RedisAddr   string  `yaml:"redis_addr"`
	RedisPass   string  `yaml:"redis_password"`
	RedisDB     int     `yaml:"redis_db" validate:"gte=0"`
	RedisPrefix string  `yaml:"redis_prefix"`
}

// TTL returns the cache entry validity window.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours * float64(time.Hour))
}

// FeaturesConfig contains feature flags and starter-count policy.
type FeaturesConfig struct {
	ConversationStarters bool `yaml:"conversation_starters"` // default: true
	MinStarters          int  `yaml:"min_starters" validate:"gte=1"`
	MaxStarters          int  `yaml:"max_starters" validate:"gte=1"`
	DefaultStarters      int  `yaml:"default_starters" validate:"gte=1"`
	BatchConcurrency     int  `yaml:"batch_concurrency" validate:"gte=1"`
}

// DataConfig selects where school records come from.
type DataConfig struct {
	Source        string `yaml:"source" validate:"oneof=csv postgres"` // default: csv
	CSVPath       string `yaml:"csv_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table"`

	// Watch reloads the CSV when it changes while serving.
	Watch bool `yaml:"watch"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string  `yaml:"host"`
	Port            int     `yaml:"port" validate:"gte=1,lte=65535"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" validate:"gt=0"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" validate:"gte=1"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Default returns a Config populated with documented defaults.
func Default() *Config {
	cacheDir := filepath.Join(xdg.CacheHome, "schoolintel")
	return &Config{
		App: AppConfig{
			Name:        "schoolintel",
			Environment: "development",
		},
		LLM: LLMConfig{
			Provider:              "anthropic",
			AnthropicModel:        "claude-sonnet-4-20250514",
			OpenAIModel:           "gpt-4o-mini",
			Temperature:           0.3,
			MaxTokens:             1500,
			TimeoutSeconds:        60,
			RateLimitRPM:          60,
			RateLimitBurst:        5,
			BreakerMaxFailures:    3,
			BreakerTimeoutSeconds: 30,
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTLHours:    24,
			Backend:     "file",
			Dir:         cacheDir,
			SQLitePath:  filepath.Join(cacheDir, "starters.db"),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "schoolintel:",
		},
		Features: FeaturesConfig{
			ConversationStarters: true,
			MinStarters:          1,
			MaxStarters:          10,
			DefaultStarters:      5,
			BatchConcurrency:     4,
		},
		Data: DataConfig{
			Source:        "csv",
			CSVPath:       "data/camden_schools_llm_ready.csv",
			PostgresTable: "schools",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8501,
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig builds the configuration. path names an optional YAML file; an
// empty path skips the file layer. A .env file in the working directory is
// loaded when present, without overriding variables already set.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("config: failed to load .env: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	f := c.Features
	if f.MinStarters > f.MaxStarters {
		return fmt.Errorf("%w: min_starters (%d) exceeds max_starters (%d)", ErrInvalidConfig, f.MinStarters, f.MaxStarters)
	}
	if f.DefaultStarters < f.MinStarters || f.DefaultStarters > f.MaxStarters {
		return fmt.Errorf("%w: default_starters (%d) outside [%d, %d]", ErrInvalidConfig, f.DefaultStarters, f.MinStarters, f.MaxStarters)
	}

	switch c.Cache.Backend {
	case "file":
		if c.Cache.Dir == "" {
			return fmt.Errorf("%w: cache dir is required for the file backend", ErrInvalidConfig)
		}
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite backend", ErrInvalidConfig)
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis backend", ErrInvalidConfig)
		}
		if c.Cache.RedisPrefix == "" {
			return fmt.Errorf("%w: redis_prefix is required for the redis backend", ErrInvalidConfig)
		}
	}

	switch c.Data.Source {
	case "csv":
		if c.Data.CSVPath == "" {
			return fmt.Errorf("%w: csv_path is required for the csv source", ErrInvalidConfig)
		}
	case "postgres":
		if c.Data.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required for the postgres source", ErrInvalidConfig)
		}
	}

	return nil
}

// RequireAPIKey reports an error when the selected provider has no API key.
// It is checked when the model client connects rather than at load time, so
// read-only commands work without credentials.
func (c LLMConfig) RequireAPIKey() error {
	if c.APIKey() == "" {
		return fmt.Errorf("%w: no API key configured for provider %q", ErrInvalidConfig, c.Provider)
	}
	return nil
}

// applyEnv overrides cfg with any SCHOOLINTEL_ environment variables that are set.
// The provider-native ANTHROPIC_API_KEY and OPENAI_API_KEY are honoured as fallbacks.
func applyEnv(cfg *Config) {
	cfg.App.Environment = getEnv("SCHOOLINTEL_ENVIRONMENT", cfg.App.Environment)

	cfg.LLM.Provider = getEnv("SCHOOLINTEL_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.AnthropicAPIKey = getEnv("SCHOOLINTEL_ANTHROPIC_API_KEY", getEnv("ANTHROPIC_API_KEY", cfg.LLM.AnthropicAPIKey))
	cfg.LLM.AnthropicModel = getEnv("SCHOOLINTEL_ANTHROPIC_MODEL", cfg.LLM.AnthropicModel)
	cfg.LLM.AnthropicBaseURL = getEnv("SCHOOLINTEL_ANTHROPIC_BASE_URL", cfg.LLM.AnthropicBaseURL)
	cfg.LLM.OpenAIAPIKey = getEnv("SCHOOLINTEL_OPENAI_API_KEY", getEnv("OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey))
	cfg.LLM.OpenAIModel = getEnv("SCHOOLINTEL_OPENAI_MODEL", cfg.LLM.OpenAIModel)
	cfg.LLM.OpenAIBaseURL = getEnv("SCHOOLINTEL_OPENAI_BASE_URL", cfg.LLM.OpenAIBaseURL)
	cfg.LLM.Temperature = getEnvFloat("SCHOOLINTEL_LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.MaxTokens = getEnvInt("SCHOOLINTEL_LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.TimeoutSeconds = getEnvInt("SCHOOLINTEL_LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)
	cfg.LLM.RateLimitRPM = getEnvInt("SCHOOLINTEL_LLM_RATE_LIMIT_RPM", cfg.LLM.RateLimitRPM)

	cfg.Cache.Enabled = getEnvBool("SCHOOLINTEL_CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.TTLHours = getEnvFloat("SCHOOLINTEL_CACHE_TTL_HOURS", cfg.Cache.TTLHours)
	cfg.Cache.Backend = getEnv("SCHOOLINTEL_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Dir = getEnv("SCHOOLINTEL_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.SQLitePath = getEnv("SCHOOLINTEL_CACHE_SQLITE_PATH", cfg.Cache.SQLitePath)
	cfg.Cache.RedisAddr = getEnv("SCHOOLINTEL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPass = getEnv("SCHOOLINTEL_REDIS_PASSWORD", cfg.Cache.RedisPass)
	cfg.Cache.RedisDB = getEnvInt("SCHOOLINTEL_REDIS_DB", cfg.Cache.RedisDB)

	cfg.Features.ConversationStarters = getEnvBool("SCHOOLINTEL_FEATURE_CONVERSATION_STARTERS", cfg.Features.ConversationStarters)
	cfg.Features.BatchConcurrency = getEnvInt("SCHOOLINTEL_BATCH_CONCURRENCY", cfg.Features.BatchConcurrency)

	cfg.Data.Source = getEnv("SCHOOLINTEL_DATA_SOURCE", cfg.Data.Source)
	cfg.Data.CSVPath = getEnv("SCHOOLINTEL_CSV_PATH", cfg.Data.CSVPath)
	cfg.Data.PostgresDSN = getEnv("SCHOOLINTEL_POSTGRES_DSN", cfg.Data.PostgresDSN)
	cfg.Data.PostgresTable = getEnv("SCHOOLINTEL_POSTGRES_TABLE", cfg.Data.PostgresTable)
	cfg.Data.Watch = getEnvBool("SCHOOLINTEL_DATA_WATCH", cfg.Data.Watch)

	cfg.Server.Host = getEnv("SCHOOLINTEL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SCHOOLINTEL_PORT", cfg.Server.Port)

	cfg.Logging.Level = getEnv("SCHOOLINTEL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("SCHOOLINTEL_LOG_FORMAT", cfg.Logging.Format)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
