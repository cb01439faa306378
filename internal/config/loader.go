package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
// Validation is deferred to the caller.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) error {
	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := env("ENV"); v != "" {
		cfg.Env = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	// Storage
	if v := env("STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}
	if v := env("MONGO_DATABASE"); v != "" {
		cfg.MongoDatabase = v
	}
	if v := env("MONGO_COLLECTION"); v != "" {
		cfg.MongoCollection = v
	}

	// Auth (not trimmed: the token is compared byte for byte)
	cfg.SharedSecret = os.Getenv("SYNC_SHARED_SECRET")

	// Sync limits
	if err := intVar("SYNC_MAX_PAGE", &cfg.MaxPage); err != nil {
		return err
	}
	if err := intVar("SYNC_HEAL_THRESHOLD", &cfg.HealThreshold); err != nil {
		return err
	}
	if err := intVar("RATE_LIMIT_BURST", &cfg.RateLimitBurst); err != nil {
		return err
	}

	if v := env("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: RATE_LIMIT_RPS=%q", ErrInvalidNumber, v)
		}
		cfg.RateLimitRPS = rps
	}

	if v := env("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MAX_BODY_BYTES=%q", ErrInvalidNumber, v)
		}
		cfg.MaxBodyBytes = n
	}

	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func intVar(key string, dst *int) error {
	v := env(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidNumber, key, v)
	}
	*dst = n
	return nil
}
