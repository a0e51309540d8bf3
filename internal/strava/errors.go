package strava

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrMissingCode is returned before any network call when the callback
	// carried no authorization code
	ErrMissingCode = errors.New("missing authorization code")

	// ErrMissingAccessToken indicates a 2xx token response without access_token
	ErrMissingAccessToken = errors.New("token response has no access_token")
)

// TokenError indicates the authorization-code exchange failed
type TokenError struct {
	StatusCode int    // 0 when the request never got a response
	Body       string // raw response body, for diagnostics
	Err        error
}

func (e *TokenError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("strava token exchange failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("strava token exchange failed: %v", e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// RefreshError indicates the refresh-token grant failed
type RefreshError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("strava token refresh failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("strava token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// TimeoutError indicates Strava did not answer within the configured bound
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("strava %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err came from a deadline or a transport timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
