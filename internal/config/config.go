package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration, loaded from environment variables.
type Config struct {
	AppEnv      string
	AppURL      string
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    string
	LogFormat   string

	// Voting
	WeightBudget  int  // per-session weighted-mode budget per voter
	HardCapBudget bool // reject votes exceeding the budget (vs. clamp with warning)
	RoundDuration time.Duration

	// Reputation decay
	DecayWindow   time.Duration
	DecayPercent  float64
	DecayInterval time.Duration

	// Abuse guards
	ChatSlowModeSeconds   int
	WordSubmitWindowSecs  int
	ReactionCooldownSecs  int
	BurstWindow           time.Duration
	BurstThreshold        int
	MaxClientsPerSession  int
	MaxConnectionsPerInst int64
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		AppURL:      getEnv("APP_URL", "http://localhost:8080"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		WeightBudget:  getEnvInt("VOTE_WEIGHT_BUDGET", 10),
		HardCapBudget: getEnvBool("VOTE_HARD_CAP_BUDGET", true),
		RoundDuration: getEnvDuration("VOTING_ROUND_DURATION", 60*time.Second),

		DecayWindow:   getEnvDuration("REPUTATION_DECAY_WINDOW", 30*24*time.Hour),
		DecayPercent:  getEnvFloat("REPUTATION_DECAY_PERCENT", 0.01),
		DecayInterval: getEnvDuration("REPUTATION_DECAY_INTERVAL", 24*time.Hour),

		ChatSlowModeSeconds:   getEnvInt("CHAT_SLOW_MODE_SECONDS", 3),
		WordSubmitWindowSecs:  getEnvInt("WORD_SUBMIT_WINDOW_SECONDS", 10),
		ReactionCooldownSecs:  getEnvInt("REACTION_COOLDOWN_SECONDS", 1),
		BurstWindow:           getEnvDuration("REACTION_BURST_WINDOW", 5*time.Second),
		BurstThreshold:        getEnvInt("REACTION_BURST_THRESHOLD", 20),
		MaxClientsPerSession:  getEnvInt("MAX_CLIENTS_PER_SESSION", 500),
		MaxConnectionsPerInst: int64(getEnvInt("MAX_CONNECTIONS", 5000)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WeightBudget < 1 {
		return nil, fmt.Errorf("VOTE_WEIGHT_BUDGET must be at least 1")
	}
	if cfg.DecayPercent <= 0 || cfg.DecayPercent >= 1 {
		return nil, fmt.Errorf("REPUTATION_DECAY_PERCENT must be in (0, 1)")
	}
	if cfg.BurstThreshold < 1 {
		return nil, fmt.Errorf("REACTION_BURST_THRESHOLD must be at least 1")
	}

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
		if n, err := strconv.Atoi(value); err == nil {
			return n
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
