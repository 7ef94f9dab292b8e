package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Auth configuration (identity link / backfill endpoints)
	AuthJWTSecret string

	// Apple App Store configuration
	AppleBundleID    string
	AppleAppID       int64  // numeric app Apple ID, 0 disables the check
	AppleEnvironment string // "Production" or "Sandbox"
	AppleIssuerID    string
	AppleKeyID       string
	ApplePrivateKey  string   // PEM-encoded App Store Connect API key
	AppleRootCerts   []string // base64-encoded DER trusted root certificates

	// Retry sweep configuration
	SweepSchedule string
	SweepLimit    int
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:             getEnv("PORT", "8080"),
		Mode:             getEnv("GIN_MODE", "debug"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AuthJWTSecret:    getEnv("AUTH_JWT_SECRET", ""),
		AppleBundleID:    getEnv("APPLE_BUNDLE_ID", ""),
		AppleAppID:       getEnvInt64("APPLE_APP_ID", 0),
		AppleEnvironment: getEnv("APPLE_ENVIRONMENT", "Production"),
		AppleIssuerID:    getEnv("APPLE_ISSUER_ID", ""),
		AppleKeyID:       getEnv("APPLE_KEY_ID", ""),
		ApplePrivateKey:  getEnv("APPLE_PRIVATE_KEY", ""),
		AppleRootCerts:   getEnvJSONList("APPLE_ROOT_CERTS"),
		SweepSchedule:    getEnv("BACKFILL_SWEEP_SCHEDULE", "0 3 * * *"),
		SweepLimit:       getEnvInt("BACKFILL_SWEEP_LIMIT", 200),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvJSONList parses a JSON string array from the environment,
// e.g. APPLE_ROOT_CERTS='["MIIB...","MIIC..."]'.
func getEnvJSONList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return nil
	}
	return list
}
