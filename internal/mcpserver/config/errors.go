package config

import "errors"

var (
	// ErrMissingStravaClientID indicates STRAVA_CLIENT_ID is not configured
	ErrMissingStravaClientID = errors.New("strava.clientId (STRAVA_CLIENT_ID) is required")

	// ErrMissingStravaClientSecret indicates STRAVA_CLIENT_SECRET is not set
	ErrMissingStravaClientSecret = errors.New("STRAVA_CLIENT_SECRET is required")

	// ErrMissingPublicURL indicates the public base URL is empty
	ErrMissingPublicURL = errors.New("publicUrl (MCP_PUBLIC_URL) is required")

	// ErrInvalidPublicURL indicates the public base URL is not absolute
	ErrInvalidPublicURL = errors.New("publicUrl must be an absolute URL")

	ErrMissingSigningSecret = errors.New("MCP_SIGNING_SECRET is required")
	ErrWeakSigningSecret    = errors.New("MCP_SIGNING_SECRET must be at least 32 characters")
	ErrMissingEncryptionKey = errors.New("MCP_ENCRYPTION_KEY is required")
	ErrWeakEncryptionKey    = errors.New("MCP_ENCRYPTION_KEY must be at least 16 characters")

	// ErrInvalidValue indicates an environment variable or field could not be parsed
	ErrInvalidValue = errors.New("invalid configuration value")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
