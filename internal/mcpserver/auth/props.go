package auth

import (
	"strconv"

	"github.com/erauner12/strava-mcp/internal/strava"
)

// SessionProps is the per-grant payload handed to the MCP layer.
// The JSON names are persisted (sealed) with every grant.
type SessionProps struct {
	UserID       string `json:"userId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresAt is when Strava stops accepting AccessToken, in unix
	// seconds. Zero when Strava did not say.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// TokenUpdate is the result of a refresh grant
type TokenUpdate struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// NewSessionProps builds props from the athlete and the credential that
// authenticated them.
func NewSessionProps(athlete *strava.Athlete, cred *strava.Credential) SessionProps {
	return SessionProps{
		UserID:       strconv.FormatInt(athlete.ID, 10),
		FirstName:    athlete.FirstName,
		LastName:     athlete.LastName,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    expiryUnix(cred),
	}
}

func expiryUnix(cred *strava.Credential) int64 {
	if exp := cred.Expiry(); !exp.IsZero() {
		return exp.Unix()
	}
	return 0
}

// WithTokens returns a copy of p carrying the refreshed tokens.
// Identity fields are unchanged and p itself is not modified.
func (p SessionProps) WithTokens(u TokenUpdate) SessionProps {
	p.AccessToken = u.AccessToken
	p.RefreshToken = u.RefreshToken
	p.ExpiresAt = u.ExpiresAt
	return p
}

// DisplayName is the label shown for a grant
func (p SessionProps) DisplayName() string {
	a := strava.Athlete{FirstName: p.FirstName, LastName: p.LastName}
	return a.DisplayName()
}
