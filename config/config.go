// Package config loads application configuration from environment
// variables. A .env file is honored when present (loaded in main).
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Quote feed
	FeedBaseURL     string
	FeedTimeout     time.Duration
	FeedConcurrency int

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	ListenAddr    string
	MetricsAddr   string

	// Tracker loop
	PollInterval time.Duration
	HistorySize  int
}

// Load reads configuration from environment variables with sensible defaults.
// No credentials are required: the feed authenticates with an anonymous
// cookie+crumb session.
func Load() *Config {
	return &Config{
		FeedBaseURL:     getEnv("FEED_BASE_URL", "https://query2.finance.yahoo.com"),
		FeedTimeout:     getEnvDuration("FEED_TIMEOUT_SECONDS", 10*time.Second),
		FeedConcurrency: getEnvInt("FEED_CONCURRENCY", 4),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/positions.db"),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		PollInterval: getEnvDuration("POLL_INTERVAL_SECONDS", 60*time.Second),
		HistorySize:  getEnvInt("HISTORY_SIZE", 1440),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return time.Duration(n) * time.Second
}
