package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/erauner12/strava-mcp/internal/strava"
)

// Config holds all configuration for the Strava MCP server
type Config struct {
	Strava StravaConfig `json:"strava"`
	OAuth  OAuthConfig  `json:"oauth"`

	// PublicURL is the externally reachable base URL; it is the OAuth issuer
	// and the prefix of the Strava callback URL
	PublicURL string `json:"publicUrl"`
	Addr      string `json:"addr"`

	AllowedOrigins []string `json:"allowedOrigins"`
	// Allowlist holds Strava athlete IDs permitted to authorize; empty allows all
	Allowlist []string `json:"allowlist"`

	// DatabaseURL selects PostgreSQL storage; empty keeps grants in memory
	DatabaseURL string `json:"databaseUrl"`

	// Secrets are only read from the environment
	SigningSecret string `json:"-"`
	EncryptionKey string `json:"-"`

	UpstreamTimeout Duration        `json:"upstreamTimeout"`
	SessionTTL      Duration        `json:"sessionTtl"`
	RateLimit       RateLimitConfig `json:"rateLimit"`

	Debug    bool   `json:"debug"`
	LogLevel string `json:"logLevel"`
}

// StravaConfig describes the Strava API application
type StravaConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"-"`
	AuthorizeURL string `json:"authorizeUrl"`
	TokenURL     string `json:"tokenUrl"`
	APIBaseURL   string `json:"apiBaseUrl"`
	Scope        string `json:"scope"`
	// TokenLifetime is how long Strava access tokens stay valid
	TokenLifetime Duration `json:"tokenLifetime"`
}

// OAuthConfig tunes the local authorization server
type OAuthConfig struct {
	AccessTokenTTL          Duration `json:"accessTokenTtl"`
	RefreshTokenTTL         Duration `json:"refreshTokenTtl"`
	CodeTTL                 Duration `json:"codeTtl"`
	RequirePKCE             bool     `json:"requirePkce"`
	AllowedRedirectPatterns []string `json:"allowedRedirectPatterns"`
	CleanupInterval         Duration `json:"cleanupInterval"`
}

// RateLimitConfig is a per-athlete token bucket on /mcp
type RateLimitConfig struct {
	WindowSeconds int `json:"windowSeconds"`
	MaxRequests   int `json:"maxRequests"`
	Burst         int `json:"burst"`
}

// Enabled reports whether rate limiting is configured
func (r RateLimitConfig) Enabled() bool {
	return r.WindowSeconds > 0 && r.MaxRequests > 0 && r.Burst > 0
}

// Duration is a time.Duration that reads "5s" style strings from JSON
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Validate checks the configuration after all overrides were applied
func (c *Config) Validate() error {
	if err := c.Strava.Validate(); err != nil {
		return err
	}

	if c.PublicURL == "" {
		return ErrMissingPublicURL
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPublicURL, c.PublicURL)
	}

	if c.SigningSecret == "" {
		return ErrMissingSigningSecret
	}
	if len(c.SigningSecret) < 32 {
		return ErrWeakSigningSecret
	}
	if c.EncryptionKey == "" {
		return ErrMissingEncryptionKey
	}
	if len(c.EncryptionKey) < 16 {
		return ErrWeakEncryptionKey
	}

	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("%w: upstreamTimeout must be positive", ErrInvalidValue)
	}
	return nil
}

// Validate checks the Strava application settings
func (s *StravaConfig) Validate() error {
	if s.ClientID == "" {
		return ErrMissingStravaClientID
	}
	if s.ClientSecret == "" {
		return ErrMissingStravaClientSecret
	}
	return nil
}

// BaseURL returns PublicURL without a trailing slash
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.PublicURL, "/")
}

// CallbackURL is the redirect URI registered with Strava
func (c *Config) CallbackURL() string {
	return c.BaseURL() + "/callback"
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Strava: StravaConfig{
			AuthorizeURL:  strava.DefaultAuthorizeURL,
			TokenURL:      strava.DefaultTokenURL,
			APIBaseURL:    strava.DefaultAPIBaseURL,
			Scope:         strava.DefaultScope,
			TokenLifetime: Duration(6 * time.Hour),
		},
		OAuth: OAuthConfig{
			AccessTokenTTL:  Duration(time.Hour),
			RefreshTokenTTL: Duration(30 * 24 * time.Hour),
			CodeTTL:         Duration(10 * time.Minute),
			RequirePKCE:     true,
			CleanupInterval: Duration(15 * time.Minute),
		},
		Addr:            ":8787",
		PublicURL:       "http://localhost:8787",
		AllowedOrigins:  []string{},
		Allowlist:       []string{},
		UpstreamTimeout: Duration(strava.DefaultTimeout),
		SessionTTL:      Duration(24 * time.Hour),
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			MaxRequests:   300,
			Burst:         60,
		},
		LogLevel: "info",
	}
}
