package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // empty: fall back to SQLite
	SQLitePath  string
	RedisURL    string

	// Cipher key material: either raw base64 key+IV, or a secret to derive
	// them from. Validated by the crypto package at startup.
	AESKeyB64 string
	AESIVB64  string
	KeySecret string

	JWTSecret string

	// Completion source
	CompletionProvider string // "openai" or "anthropic"
	CompletionModel    string
	SystemInstruction  string

	// Quota: combined input+output characters per account per window.
	QuotaBudget int64
	QuotaWindow time.Duration
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		RedisURL:    os.Getenv("REDIS_URL"),

		AESKeyB64: os.Getenv("AES_KEY"),
		AESIVB64:  os.Getenv("AES_IV"),
		KeySecret: os.Getenv("KEY_SECRET"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		CompletionProvider: getEnv("COMPLETION_PROVIDER", "openai"),
		CompletionModel:    os.Getenv("COMPLETION_MODEL"),
		SystemInstruction:  os.Getenv("SYSTEM_INSTRUCTION"),

		QuotaBudget: getEnvInt64("QUOTA_BUDGET", 200_000),
		QuotaWindow: getEnvDuration("QUOTA_WINDOW", 24*time.Hour),
	}

	// In production, require the external collaborators and secrets
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
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
