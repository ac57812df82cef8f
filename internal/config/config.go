package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application-level settings.
type Config struct {
	// Server
	ServerAddr string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PostgreSQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth
	JWTSecret    string // HMAC secret for bearer-token verification
	ServiceToken string // Bearer token for internal push endpoints

	// Ranking
	RankRadiusKm float64 // default candidate search radius
	RankLimit    int     // max contractors notified per task

	// Chat
	ChatCacheTTL    time.Duration // recent-history cache lifetime per task
	ChatRecentLimit int           // messages kept in the recent-history cache
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ServerAddr:      envOr("SERVER_ADDR", ":8080"),
		RedisAddr:       envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   envOr("REDIS_PASSWORD", ""),
		RedisDB:         envIntOr("REDIS_DB", 0),
		DBHost:          envOr("DB_HOST", "localhost"),
		DBPort:          envOr("DB_PORT", "5432"),
		DBUser:          envOr("DB_USER", "postgres"),
		DBPassword:      envOr("DB_PASSWORD", "postgres"),
		DBName:          envOr("DB_NAME", "gigdesk"),
		DBSSLMode:       envOr("DB_SSLMODE", "disable"),
		JWTSecret:       envOr("JWT_SECRET", ""),
		ServiceToken:    envOr("SERVICE_TOKEN", ""),
		RankRadiusKm:    envFloatOr("RANK_RADIUS_KM", 20),
		RankLimit:       envIntOr("RANK_LIMIT", 10),
		ChatCacheTTL:    envDurationOr("CHAT_CACHE_TTL", 24*time.Hour),
		ChatRecentLimit: envIntOr("CHAT_RECENT_LIMIT", 50),
	}
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
