package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API      APIConfig
	Session  SessionConfig
	Sync     SyncConfig
	Database DatabaseConfig
	LogLevel string
}

type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type SessionConfig struct {
	Username string
	Password string
	Token    string
}

// SyncConfig holds the timers and windows of the realtime engine.
type SyncConfig struct {
	ConnectTimeout    time.Duration
	ReconnectDelay    time.Duration
	HealthInterval    time.Duration
	PageSize          int
	ChatDedupWindow   time.Duration
	SystemDedupWindow time.Duration
	PingInterval      time.Duration
	PongWait          time.Duration
}

type DatabaseConfig struct {
	URL string
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}

	return &Config{
		API: APIConfig{
			BaseURL:        getEnvOrDefault("API_URL", "http://localhost:8002"),
			RequestTimeout: getDurationOrDefault("API_TIMEOUT", "15s"),
		},
		Session: SessionConfig{
			Username: os.Getenv("CHAT_USERNAME"),
			Password: os.Getenv("CHAT_PASSWORD"),
			Token:    os.Getenv("CHAT_TOKEN"),
		},
		Sync: SyncConfig{
			ConnectTimeout:    getDurationOrDefault("CONNECT_TIMEOUT", "10s"),
			ReconnectDelay:    getDurationOrDefault("RECONNECT_DELAY", "3s"),
			HealthInterval:    getDurationOrDefault("HEALTH_INTERVAL", "10s"),
			PageSize:          getIntOrDefault("PAGE_SIZE", 20),
			ChatDedupWindow:   getDurationOrDefault("CHAT_DEDUP_WINDOW", "5s"),
			SystemDedupWindow: getDurationOrDefault("SYSTEM_DEDUP_WINDOW", "10s"),
			PingInterval:      getDurationOrDefault("PING_INTERVAL", "54s"),
			PongWait:          getDurationOrDefault("PONG_WAIT", "60s"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

// DefaultSync returns the engine defaults without reading the environment.
func DefaultSync() SyncConfig {
	return SyncConfig{
		ConnectTimeout:    10 * time.Second,
		ReconnectDelay:    3 * time.Second,
		HealthInterval:    10 * time.Second,
		PageSize:          20,
		ChatDedupWindow:   5 * time.Second,
		SystemDedupWindow: 10 * time.Second,
		PingInterval:      54 * time.Second,
		PongWait:          60 * time.Second,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}
