// Package config loads the server configuration from the environment.
package config

import (
	"github.com/rs/zerolog"
)

// Config holds all configuration for the sync server
type Config struct {
	HTTPAddr string
	Env      string // "dev" enables console logging
	LogLevel string

	// StoreDSN selects the backend by scheme: file, memory, postgres, mongodb
	StoreDSN        string
	MongoDatabase   string
	MongoCollection string

	// SharedSecret guards the sync endpoints. Empty means open access.
	SharedSecret string

	MaxPage       int
	HealThreshold int

	RateLimitRPS   float64
	RateLimitBurst int // 0 disables rate limiting

	MaxBodyBytes int64
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:        ":8081",
		Env:             "dev",
		LogLevel:        "info",
		StoreDSN:        "file://./data/articles.json",
		MongoDatabase:   "articlesync",
		MongoCollection: "articles",
		MaxPage:         50,
		HealThreshold:   200,
		RateLimitRPS:    10,
		RateLimitBurst:  40,
		MaxBodyBytes:    8 << 20,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return ErrMissingHTTPAddr
	}

	if c.StoreDSN == "" {
		return ErrMissingStoreDSN
	}

	if c.MaxPage < 1 {
		return ErrInvalidMaxPage
	}

	if c.HealThreshold < 1 {
		return ErrInvalidHealThreshold
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return ErrInvalidRateLimit
	}

	if c.MaxBodyBytes < 1024 {
		return ErrInvalidMaxBodyBytes
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return ErrInvalidLogLevel
	}

	return nil
}

// Level returns the parsed log level, info when unset or invalid
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// IsDev reports whether pretty console logging should be used
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}
