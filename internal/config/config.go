// package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	// database
	DatabaseURL string

	// nats
	NatsURL string

	// telegram
	TGApiID      int
	TGApiHash    string
	TGSessionStr string

	// llm (optional ai rewrite)
	LLMBaseURL     string
	LLMModel       string
	LLMAPIKey      string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// history replay
	MaxPendingTasks    int
	BackpressurePause  float64
	BackpressureResume float64
	PushRetries        int
	PushBaseDelaySec   float64

	// dedup
	DedupMaxEntries int

	// tombstone
	TombstonePath     string
	FreezeCooldownSec int

	// rules seed file (optional)
	RulesFile string

	// server
	HTTPPort int

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:             getEnv("DATABASE_URL", "file:./storage/forwarder.db"),
		NatsURL:                 getEnv("NATS_URL", "nats://localhost:4222"),
		TGApiHash:               getEnv("TG_API_HASH", ""),
		TGSessionStr:            getEnv("TG_SESSION_STRING", ""),
		TGApiID:                 getEnvInt("TG_API_ID", 0),
		LLMBaseURL:              getEnv("LLM_BASE_URL", ""),
		LLMModel:                getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:               getEnv("LLM_API_KEY", ""),
		LLMMaxTokens:            getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTimeoutSec:           getEnvInt("LLM_TIMEOUT_SECONDS", 60),
		MaxPendingTasks:         getEnvInt("MAX_PENDING_TASKS", 1000),
		PushRetries:             getEnvInt("PUSH_RETRIES", 3),
		DedupMaxEntries:         getEnvInt("DEDUP_MAX_ENTRIES", 100000),
		TombstonePath:           getEnv("TOMBSTONE_PATH", "./temp/tombstone_state.bin"),
		FreezeCooldownSec:       getEnvInt("FREEZE_COOLDOWN_SECONDS", 300),
		RulesFile:               getEnv("RULES_FILE", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFile:                 getEnv("LOG_FILE", "./logs/app.log"),
		HTTPPort:                getEnvInt("HTTP_PORT", 3100),
	}

	cfg.LLMTemperature = getEnvFloat("LLM_TEMPERATURE", 0.3)
	cfg.BackpressurePause = getEnvFloat("BACKPRESSURE_PAUSE", 0.8)
	cfg.BackpressureResume = getEnvFloat("BACKPRESSURE_RESUME", 0.5)
	cfg.PushBaseDelaySec = getEnvFloat("PUSH_BASE_DELAY_SECONDS", 1.0)

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
