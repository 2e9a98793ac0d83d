package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the execution service.
type Config struct {
	// Server settings
	Port int

	// Security
	InternalAuthToken string

	// Sandbox pool
	InitialPoolSize int
	MaxPoolSize     int

	// Execution timeouts, in seconds
	DefaultTimeout int
	MaxTimeout     int

	// Canonical language allow-list
	SupportedLanguages []string

	// Sandbox backend
	SandboxProvider string // "docker" or "mock"
	SandboxImage    string

	// Shutdown
	ShutdownGrace time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// GatewayConfig holds all configuration for the public API gateway.
type GatewayConfig struct {
	Port                int
	JWTSecret           string
	ExecutionServiceURL string
	InternalAuthToken   string
	CORSOrigins         []string
	LogLevel            string
	LogFormat           string
}

// Load reads execution service configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Port = getEnvInt("PORT", 8001)
	cfg.InternalAuthToken = getEnv("INTERNAL_AUTH_TOKEN", "")
	if cfg.InternalAuthToken == "" {
		return nil, fmt.Errorf("INTERNAL_AUTH_TOKEN is required")
	}

	cfg.InitialPoolSize = getEnvInt("INITIAL_POOL_SIZE", 5)
	cfg.MaxPoolSize = getEnvInt("MAX_POOL_SIZE", 20)
	if cfg.MaxPoolSize < 1 {
		return nil, fmt.Errorf("MAX_POOL_SIZE must be at least 1, got %d", cfg.MaxPoolSize)
	}

	cfg.DefaultTimeout = getEnvInt("DEFAULT_TIMEOUT", 30)
	cfg.MaxTimeout = getEnvInt("MAX_TIMEOUT", 300)
	if cfg.DefaultTimeout > cfg.MaxTimeout {
		return nil, fmt.Errorf("DEFAULT_TIMEOUT (%d) exceeds MAX_TIMEOUT (%d)", cfg.DefaultTimeout, cfg.MaxTimeout)
	}

	cfg.SupportedLanguages = getEnvList("SUPPORTED_LANGUAGES", []string{"python", "node", "bash", "c"})

	cfg.SandboxProvider = getEnv("SANDBOX_PROVIDER", "docker")
	cfg.SandboxImage = getEnv("SANDBOX_IMAGE", "sandrun/sandbox:latest")

	cfg.ShutdownGrace = getEnvDuration("SHUTDOWN_GRACE", 10*time.Second)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	return cfg, nil
}

// LoadGateway reads gateway configuration from environment variables.
func LoadGateway() (*GatewayConfig, error) {
	cfg := &GatewayConfig{}

	cfg.Port = getEnvInt("GATEWAY_PORT", 8000)
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg.ExecutionServiceURL = strings.TrimSuffix(getEnv("EXECUTION_SERVICE_URL", "http://localhost:8001"), "/")
	cfg.InternalAuthToken = getEnv("INTERNAL_AUTH_TOKEN", "")
	if cfg.InternalAuthToken == "" {
		return nil, fmt.Errorf("INTERNAL_AUTH_TOKEN is required")
	}

	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"})

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return parts
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
