package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string

	// ProxyAddr is the default forwarding proxy target embedded in seeded
	// rules that omit an explicit target.
	ProxyAddr string

	// PACCacheMaxAge is the Cache-Control max-age for served PAC documents,
	// in seconds.
	PACCacheMaxAge int

	// RateLimitMax is the number of failed PAC lookups a source IP may make
	// within RateLimitWindow before being throttled.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// UsageBufferSize is the capacity of the async usage recorder queue.
	UsageBufferSize int
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		HTTPListenAddr:  getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ServiceName:     getEnv("SERVICE_NAME", "pacgate"),
		ProxyAddr:       getEnv("PROXY_ADDR", ""),
		PACCacheMaxAge:  getEnvInt("PAC_CACHE_MAX_AGE", 300),
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 30),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", 5*time.Minute),
		UsageBufferSize: getEnvInt("USAGE_BUFFER_SIZE", 1024),
	}

	return cfg, nil
}

// Validate checks that the fields required to run the API server are set.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
