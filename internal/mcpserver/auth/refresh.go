package auth

import (
	"context"
	"errors"

	"github.com/erauner12/strava-mcp/internal/strava"
)

// RefreshExchanger is Strava's refresh-token grant
type RefreshExchanger interface {
	ExchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*strava.Credential, error)
}

// Refresher trades a refresh token for a new token pair
type Refresher struct {
	upstream     RefreshExchanger
	clientID     string
	clientSecret string
}

func NewRefresher(upstream RefreshExchanger, clientID, clientSecret string) *Refresher {
	return &Refresher{upstream: upstream, clientID: clientID, clientSecret: clientSecret}
}

// Refresh performs the refresh grant. On failure the error is a
// *RefreshFailedError and matches ErrUpstreamRefresh.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (TokenUpdate, error) {
	if refreshToken == "" {
		return TokenUpdate{}, &RefreshFailedError{Err: errors.New("no refresh token")}
	}

	cred, err := r.upstream.ExchangeRefreshToken(ctx, r.clientID, r.clientSecret, refreshToken)
	if err != nil {
		failed := &RefreshFailedError{Err: err}
		var re *strava.RefreshError
		if errors.As(err, &re) {
			failed.StatusCode = re.StatusCode
			failed.Body = re.Body
		}
		return TokenUpdate{}, failed
	}

	update := TokenUpdate{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken, ExpiresAt: expiryUnix(cred)}
	// Strava rotates refresh tokens only sometimes; keep the old one if
	// the response left it out.
	if update.RefreshToken == "" {
		update.RefreshToken = refreshToken
	}
	return update, nil
}
