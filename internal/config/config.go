package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for quiz-solver
type Config struct {
	Server  ServerConfig
	Student StudentConfig
	Quiz    QuizConfig
	LLM     LLMConfig
	Storage StorageConfig
	Sandbox SandboxConfig
	Cleanup CleanupConfig
	Log     LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port int
	// AdminAPIKey protects /api/v1 routes; empty disables the check
	AdminAPIKey string
}

// StudentConfig holds the identity used for quiz submissions
type StudentConfig struct {
	Email  string
	Secret string
}

// QuizConfig holds orchestration policy
type QuizConfig struct {
	Timeout        time.Duration
	MaxAttempts    int
	SubmitRetries  int
	StepRetries    int
	StepBackoff    time.Duration
	MaxChain       int
	MaxConcurrent  int
	SubmitWarnSize int
	SubmitMaxSize  int
	RequestTimeout time.Duration
}

// LLMConfig holds chat-completions provider configuration
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	PromptsDir  string
}

// StorageConfig selects and configures the run history backend
type StorageConfig struct {
	Backend       string
	DSN           string
	MigrationsDir string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	Retention     time.Duration
}

// SandboxConfig holds Docker code-execution configuration
type SandboxConfig struct {
	Enabled    bool
	DockerHost string
	Image      string
	PullPolicy string
	MemoryMB   int
	Timeout    time.Duration
}

// CleanupConfig holds retention worker configuration
type CleanupConfig struct {
	Interval time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnvAsInt("SERVER_PORT", getEnvAsInt("PORT", 8000)),
			AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Student: StudentConfig{
			Email:  getEnv("STUDENT_EMAIL", ""),
			Secret: getEnv("STUDENT_SECRET", ""),
		},
		Quiz: QuizConfig{
			Timeout:        getEnvAsDuration("QUIZ_TIMEOUT", 3*time.Minute),
			MaxAttempts:    getEnvAsInt("QUIZ_MAX_ATTEMPTS", 3),
			SubmitRetries:  getEnvAsInt("QUIZ_SUBMIT_RETRIES", 2),
			StepRetries:    getEnvAsInt("QUIZ_STEP_RETRIES", 2),
			StepBackoff:    getEnvAsDuration("QUIZ_STEP_BACKOFF", 500*time.Millisecond),
			MaxChain:       getEnvAsInt("QUIZ_MAX_CHAIN", 50),
			MaxConcurrent:  getEnvAsInt("QUIZ_MAX_CONCURRENT", 8),
			SubmitWarnSize: getEnvAsInt("SUBMIT_WARN_BYTES", 1<<20),
			SubmitMaxSize:  getEnvAsInt("SUBMIT_MAX_BYTES", 0),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.aipipe.ai/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 2000),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			PromptsDir:  getEnv("PROMPTS_DIR", "./prompts"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
			DSN:           getEnv("DATABASE_DSN", ""),
			MigrationsDir: getEnv("DATABASE_MIGRATIONS_DIR", "./migrations"),
			RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			Retention:     getEnvAsDuration("RUN_RETENTION", 24*time.Hour),
		},
		Sandbox: SandboxConfig{
			Enabled:    getEnvAsBool("SANDBOX_ENABLED", false),
			DockerHost: getEnv("DOCKER_HOST", "unix:///var/run/docker.sock"),
			Image:      getEnv("SANDBOX_IMAGE", "python:3.12-slim"),
			PullPolicy: getEnv("SANDBOX_PULL_POLICY", "if-not-present"),
			MemoryMB:   getEnvAsInt("SANDBOX_MEMORY_MB", 256),
			Timeout:    getEnvAsDuration("SANDBOX_TIMEOUT", 30*time.Second),
		},
		Cleanup: CleanupConfig{
			Interval: getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Quiz.Timeout <= 0 {
		return fmt.Errorf("quiz timeout must be positive")
	}

	if c.Quiz.MaxAttempts < 1 {
		return fmt.Errorf("quiz max attempts must be at least 1, got %d", c.Quiz.MaxAttempts)
	}

	if c.Quiz.SubmitRetries < 0 || c.Quiz.StepRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}

	if c.Quiz.MaxConcurrent < 1 {
		return fmt.Errorf("quiz max concurrent must be at least 1, got %d", c.Quiz.MaxConcurrent)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("database DSN is required for postgres storage")
		}
	case BackendRedis:
		if c.Storage.RedisAddress == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	return nil
}

// SlogLevel maps the configured level name onto slog
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") and bare seconds ("180")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
