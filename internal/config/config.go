package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process level configuration.
type Config struct {
	Port            string
	DatabaseURL     string
	RedisURL        string
	LogLevel        string
	MaxOpenConns    int
	ResolveTimeout  time.Duration
	LockTTL         time.Duration
	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// Malformed numbers and durations fall back to their defaults.
func FromEnv() Config {
	return Config{
		Port:            getenv("PORT", "8080"),
		DatabaseURL:     getenv("DATABASE_URL", "./bitespeed.db"),
		RedisURL:        os.Getenv("REDIS_URL"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		MaxOpenConns:    intEnv("DB_MAX_OPEN_CONNS", 25),
		ResolveTimeout:  durationEnv("RESOLVE_TIMEOUT", 5*time.Second),
		LockTTL:         durationEnv("LOCK_TTL", 10*time.Second),
		ShutdownTimeout: durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	return ":" + c.Port
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
