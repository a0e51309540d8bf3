// Package oauthserver is the OAuth 2.1 authorization server MCP clients talk
// to. It registers clients, issues authorization codes once the Strava login
// completes, and exchanges them for access and refresh tokens. Each completed
// authorization is stored as a Grant carrying encrypted session props.
package oauthserver

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"time"
)

// ErrNotFound is returned by Storage lookups that match nothing
var ErrNotFound = errors.New("not found")

// Storage persists clients, grants, codes and refresh tokens.
// Codes and refresh tokens are looked up by hash; Consume* deletes the record
// it returns so each one can be redeemed once.
type Storage interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)

	SaveGrant(ctx context.Context, grant *Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
	// SetGrantProps and ExtendGrant touch only their own columns so a props
	// refresh and a local token rotation cannot overwrite each other
	SetGrantProps(ctx context.Context, id string, sealedProps []byte, updatedAt time.Time) error
	ExtendGrant(ctx context.Context, id string, expiresAt time.Time) error
	DeleteGrant(ctx context.Context, id string) error

	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)

	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	ConsumeRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// CleanupExpired removes codes, refresh tokens and grants that expired
	// before now and returns how many records were deleted.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// Client is a registered OAuth client (usually an MCP host)
type Client struct {
	ClientID     string    `json:"client_id"`
	SecretHash   string    `json:"-"` // bcrypt; empty for public clients
	Name         string    `json:"client_name"`
	RedirectURIs []string  `json:"redirect_uris"`
	GrantTypes   []string  `json:"grant_types"`
	CreatedAt    time.Time `json:"created_at"`
}

// Public reports whether the client authenticates without a secret
func (c *Client) Public() bool {
	return c.SecretHash == ""
}

// Grant is one completed authorization: a user consented for a client.
// Props are sealed and only the owner of the encryption key can read them.
type Grant struct {
	ID             string
	ClientID       string
	UserID         string
	Label          string
	Scope          []string
	SealedProps    []byte
	PropsUpdatedAt time.Time
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// AuthorizationCode is a single-use code bound to a grant
type AuthorizationCode struct {
	CodeHash            string
	GrantID             string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// RefreshToken is a rotating refresh token bound to a grant
type RefreshToken struct {
	TokenHash string
	GrantID   string
	ClientID  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired checks if the authorization code has expired.
func (c *AuthorizationCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// IsExpired checks if the refresh token has expired.
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// ValidRedirectURI checks if a redirect URI is registered for this client.
// Loopback URIs follow RFC 8252 section 7.3: scheme and host must match,
// port and path may differ.
func (c *Client) ValidRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if matchesRedirectURI(registered, uri) {
			return true
		}
	}
	return false
}

// SupportsGrantType checks if the client supports a grant type.
func (c *Client) SupportsGrantType(grantType string) bool {
	return len(c.GrantTypes) == 0 || slices.Contains(c.GrantTypes, grantType)
}

func isLoopbackURI(u *url.URL) bool {
	if u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

func matchesRedirectURI(registered, requested string) bool {
	if registered == requested {
		return true
	}
	regURL, err := url.Parse(registered)
	if err != nil {
		return false
	}
	reqURL, err := url.Parse(requested)
	if err != nil {
		return false
	}
	if !isLoopbackURI(regURL) || !isLoopbackURI(reqURL) {
		return false
	}
	return regURL.Scheme == reqURL.Scheme && regURL.Hostname() == reqURL.Hostname()
}
