package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables. It is the single source of truth for runtime parameters;
// per-run CLI flags override the Sync section in main.
type Config struct {
	Env         string
	MetricsPort string

	DB    DatabaseConfig
	Redis RedisConfig
	Feed  FeedConfig
	Sync  SyncConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters. Redis is only required
// when the lock backend is set to "redis".
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// FeedConfig contains the supplier feed endpoint parameters.
type FeedConfig struct {
	URL   string
	Token string
	// RateUSDToEUR converts feed prices; values outside [0.2, 2.0] are
	// treated as misconfigured and replaced with 1.0 at run time.
	RateUSDToEUR float64
}

// SyncConfig contains engine parameters.
type SyncConfig struct {
	ReportDir   string
	LockPath    string
	LockBackend string // "file" or "redis"
	LockTTL     time.Duration
	Interval    time.Duration
	QueueSize   int
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it is loaded first.
func Load() (*Config, error) {
	// Ignore a missing .env so production environments relying solely on
	// real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Env = getEnv("ENV", "development")
	cfg.MetricsPort = getEnv("METRICS_PORT", "9090")

	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	cfg.Feed = FeedConfig{
		URL:          getEnv("FEED_URL", ""),
		Token:        getEnv("FEED_TOKEN", ""),
		RateUSDToEUR: getEnvFloat("FEED_RATE_USD_EUR", 1.0),
	}

	cfg.Sync = SyncConfig{
		ReportDir:   getEnv("SYNC_REPORT_DIR", "reports"),
		LockPath:    getEnv("SYNC_LOCK_PATH", "/tmp/feedsync.lock"),
		LockBackend: getEnv("SYNC_LOCK_BACKEND", "file"),
		QueueSize:   getEnvInt("SYNC_QUEUE_SIZE", 50),
	}

	var err error
	if cfg.Sync.Interval, err = parseDurationEnv("SYNC_INTERVAL", "6h"); err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	if cfg.Sync.LockTTL, err = parseDurationEnv("SYNC_LOCK_TTL", "2h"); err != nil {
		return nil, fmt.Errorf("invalid SYNC_LOCK_TTL: %w", err)
	}

	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
		return nil, errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
	}
	if cfg.Sync.LockBackend != "file" && cfg.Sync.LockBackend != "redis" {
		return nil, fmt.Errorf("invalid SYNC_LOCK_BACKEND %q: must be file or redis", cfg.Sync.LockBackend)
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a
// default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getEnvFloat returns the value of an environment variable as a float or a
// default if empty/invalid.
func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// parseDurationEnv reads an environment variable and parses it as a
// time.Duration, falling back to the provided default when unset.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
