package config

import "errors"

var (
	// ErrMissingHTTPAddr indicates that the listen address is empty
	ErrMissingHTTPAddr = errors.New("HTTP_ADDR is required")

	// ErrMissingStoreDSN indicates that no store backend is configured
	ErrMissingStoreDSN = errors.New("STORE_DSN is required")

	// ErrInvalidMaxPage indicates a page cap below 1
	ErrInvalidMaxPage = errors.New("SYNC_MAX_PAGE must be at least 1")

	// ErrInvalidHealThreshold indicates a healing threshold below 1
	ErrInvalidHealThreshold = errors.New("SYNC_HEAL_THRESHOLD must be at least 1")

	// ErrInvalidRateLimit indicates a negative rate or burst
	ErrInvalidRateLimit = errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")

	// ErrInvalidMaxBodyBytes indicates a request body cap below 1 KiB
	ErrInvalidMaxBodyBytes = errors.New("MAX_BODY_BYTES must be at least 1024")

	// ErrInvalidLogLevel indicates LOG_LEVEL is not a zerolog level
	ErrInvalidLogLevel = errors.New("LOG_LEVEL is not a valid level")

	// ErrInvalidNumber indicates a numeric variable that does not parse
	ErrInvalidNumber = errors.New("invalid numeric value")
)
