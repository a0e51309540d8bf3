package client

import (
	"context"

	"golang.org/x/oauth2"
)

// StaticTokenProvider serves one fixed access token. Used during the OAuth
// callback, where the token was just issued and has nothing to refresh from.
type StaticTokenProvider struct {
	oauth2.TokenSource
}

// NewStaticTokenProvider wraps accessToken as a bearer token provider
func NewStaticTokenProvider(accessToken string) *StaticTokenProvider {
	return &StaticTokenProvider{
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		}),
	}
}

// InvalidateToken always fails; there is no refresh token behind it
func (p *StaticTokenProvider) InvalidateToken(context.Context) error {
	return ErrTokenNotRefreshable
}
