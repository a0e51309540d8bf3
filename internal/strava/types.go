// Package strava talks to Strava's OAuth endpoints: it builds the consent
// URL users are sent to and exchanges authorization codes and refresh tokens
// for bearer credentials.
package strava

import (
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultAuthorizeURL is Strava's user-facing consent page
	DefaultAuthorizeURL = "https://www.strava.com/api/v3/oauth/authorize"

	// DefaultTokenURL is Strava's token endpoint (code + refresh grants)
	DefaultTokenURL = "https://www.strava.com/api/v3/oauth/token"

	// DefaultAPIBaseURL is the root of the Strava v3 REST API
	DefaultAPIBaseURL = "https://www.strava.com/api/v3"

	// DefaultScope is the fixed scope set requested on every authorization.
	// Strava separates scopes with commas, so this is sent as a single value.
	DefaultScope = "read,read_all,profile:read_all,profile:write,activity:read,activity:read_all,activity:write"

	// DefaultTimeout bounds every call to the token endpoint
	DefaultTimeout = 5 * time.Second
)

// Athlete is the identity record Strava returns from GET /athlete and
// embeds in the initial code exchange response.
type Athlete struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username,omitempty"`
	ResourceState int       `json:"resource_state,omitempty"`
	FirstName     string    `json:"firstname"`
	LastName      string    `json:"lastname"`
	Bio           *string   `json:"bio,omitempty"`
	City          string    `json:"city,omitempty"`
	State         string    `json:"state,omitempty"`
	Country       string    `json:"country,omitempty"`
	Sex           *string   `json:"sex,omitempty"`
	Premium       bool      `json:"premium,omitempty"`
	Summit        bool      `json:"summit,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
	BadgeTypeID   int       `json:"badge_type_id,omitempty"`
	Weight        *float64  `json:"weight,omitempty"`
	ProfileMedium string    `json:"profile_medium,omitempty"`
	Profile       string    `json:"profile,omitempty"`
}

// DisplayName returns "first last", trimmed when either part is missing
func (a *Athlete) DisplayName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// Credential is the decoded token endpoint payload. A refresh produces a new
// Credential; existing values are never modified.
type Credential struct {
	TokenType    string   `json:"token_type"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"` // unix seconds
	ExpiresIn    int64    `json:"expires_in"` // seconds from issue
	Athlete      *Athlete `json:"athlete,omitempty"`
}

// Expiry returns when the access token stops being accepted.
// Zero means Strava did not say.
func (c *Credential) Expiry() time.Time {
	if c.ExpiresAt > 0 {
		return time.Unix(c.ExpiresAt, 0)
	}
	if c.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(c.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// OAuth2Token adapts the credential for use with an oauth2.TokenSource
func (c *Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry(),
	}
}
