package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load loads configuration from a file path and applies environment variable overrides
// Validation is deferred to allow CLI flag overrides to be applied first
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	// Call cfg.Validate() after applying CLI overrides in the caller
	return cfg, nil
}

// LoadFromEnvironment creates a configuration using only environment variables
// This is useful for containerized deployments where files may not be available
func LoadFromEnvironment() (*Config, error) {
	return Load("")
}

// loadFromFile decodes a JSON file over cfg, so unset fields keep defaults
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigFileNotFound
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return nil
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) error {
	// Strava application
	setString(&cfg.Strava.ClientID, "STRAVA_CLIENT_ID")
	setString(&cfg.Strava.ClientSecret, "STRAVA_CLIENT_SECRET")
	setString(&cfg.Strava.AuthorizeURL, "STRAVA_AUTHORIZE_URL")
	setString(&cfg.Strava.TokenURL, "STRAVA_TOKEN_URL")
	setString(&cfg.Strava.APIBaseURL, "STRAVA_API_BASE_URL")
	setString(&cfg.Strava.Scope, "STRAVA_SCOPE")

	// Server
	setString(&cfg.PublicURL, "MCP_PUBLIC_URL")
	setString(&cfg.Addr, "MCP_ADDR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.DatabaseURL, "MCP_DATABASE_URL")
	setString(&cfg.SigningSecret, "MCP_SIGNING_SECRET")
	setString(&cfg.EncryptionKey, "MCP_ENCRYPTION_KEY")
	setString(&cfg.LogLevel, "MCP_LOG_LEVEL")
	setList(&cfg.AllowedOrigins, "MCP_ALLOWED_ORIGINS")
	setList(&cfg.Allowlist, "MCP_ALLOWED_ATHLETES")
	setList(&cfg.OAuth.AllowedRedirectPatterns, "MCP_REDIRECT_PATTERNS")

	if debug := os.Getenv("MCP_DEBUG"); debug == "true" || debug == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("MCP_REQUIRE_PKCE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MCP_REQUIRE_PKCE=%q", ErrInvalidValue, v)
		}
		cfg.OAuth.RequirePKCE = b
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"MCP_UPSTREAM_TIMEOUT", &cfg.UpstreamTimeout},
		{"MCP_SESSION_TTL", &cfg.SessionTTL},
		{"MCP_ACCESS_TOKEN_TTL", &cfg.OAuth.AccessTokenTTL},
		{"MCP_REFRESH_TOKEN_TTL", &cfg.OAuth.RefreshTokenTTL},
		{"MCP_CODE_TTL", &cfg.OAuth.CodeTTL},
		{"STRAVA_TOKEN_LIFETIME", &cfg.Strava.TokenLifetime},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MCP_RATE_LIMIT_WINDOW_SECONDS", &cfg.RateLimit.WindowSeconds},
		{"MCP_RATE_LIMIT_MAX_REQUESTS", &cfg.RateLimit.MaxRequests},
		{"MCP_RATE_LIMIT_BURST", &cfg.RateLimit.Burst},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: %s=%q", ErrInvalidValue, i.key, v)
			}
			*i.dst = n
		}
	}

	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated variable, dropping blanks
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*dst = out
}

func setDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v)
	}
	*dst = Duration(d)
	return nil
}
