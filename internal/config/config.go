// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DateLayout is the layout of calendar dates exchanged with the market API
const DateLayout = "2006-01-02"

// Config holds application configuration
type Config struct {
	DataDir  string // Directory of the cache database (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	APIURL      string
	APIToken    string
	HTTPTimeout time.Duration

	Timezone     string
	Location     *time.Location
	FallbackDate string // Reference date used until the API reports one

	HistoryDays         int // Overview window length
	ForecastHistoryDays int // History fetched alongside a forecast
	HistoricalTail      int // Historical points kept in a reconciled forecast chart

	ViewIdleTimeout time.Duration // Dashboard views unused this long are dropped

	CacheEnabled    bool
	CacheEntryLimit int64 // Live entries per cache table before cleanup warns, 0 disables
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("GRIDLENS_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GRIDLENS_PORT", 8002),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		APIURL:      strings.TrimRight(getEnv("GRIDLENS_API_URL", "http://127.0.0.1:7777"), "/"),
		APIToken:    getEnv("GRIDLENS_API_TOKEN", ""),
		HTTPTimeout: time.Duration(getEnvAsInt("GRIDLENS_HTTP_TIMEOUT", 30)) * time.Second,

		Timezone:     getEnv("GRIDLENS_TIMEZONE", "Europe/Madrid"),
		FallbackDate: getEnv("GRIDLENS_FALLBACK_DATE", "2025-03-30"),

		HistoryDays:         getEnvAsInt("GRIDLENS_HISTORY_DAYS", 7),
		ForecastHistoryDays: getEnvAsInt("GRIDLENS_FORECAST_HISTORY_DAYS", 3),
		HistoricalTail:      getEnvAsInt("GRIDLENS_HISTORICAL_TAIL", 48),

		ViewIdleTimeout: time.Duration(getEnvAsInt("GRIDLENS_VIEW_IDLE_MINUTES", 30)) * time.Minute,

		CacheEnabled:    getEnvAsBool("GRIDLENS_CACHE_ENABLED", true),
		CacheEntryLimit: int64(getEnvAsInt("GRIDLENS_CACHE_ENTRY_LIMIT", 5000)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and resolves the timezone
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API URL %q", c.APIURL)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc

	if _, err := time.Parse(DateLayout, c.FallbackDate); err != nil {
		return fmt.Errorf("invalid fallback date %q: %w", c.FallbackDate, err)
	}

	if c.HistoryDays <= 0 || c.ForecastHistoryDays <= 0 {
		return fmt.Errorf("history windows must be at least one day")
	}
	if c.HistoricalTail < 0 {
		return fmt.Errorf("historical tail cannot be negative")
	}
	if c.ViewIdleTimeout <= 0 {
		return fmt.Errorf("view idle timeout must be positive")
	}
	if c.CacheEntryLimit < 0 {
		return fmt.Errorf("cache entry limit cannot be negative")
	}

	return nil
}

// CacheDBPath is the location of the response cache database
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
