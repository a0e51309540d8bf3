package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/erauner12/strava-mcp/internal/strava"
)

// Failure categories of the authorization bridge. Every error the bridge
// produces matches exactly one of these with errors.Is.
var (
	ErrInvalidAuthorizationRequest = errors.New("invalid authorization request")
	ErrInvalidCallbackState        = errors.New("invalid callback state")
	ErrAuthorizationDenied         = errors.New("authorization denied")
	ErrMissingAuthorizationCode    = errors.New("missing authorization code")
	ErrUpstreamTokenExchange       = errors.New("upstream token exchange failed")
	ErrUpstreamIdentityFetch       = errors.New("upstream identity fetch failed")
	ErrUpstreamRefresh             = errors.New("upstream refresh failed")
	ErrAthleteNotAllowed           = errors.New("athlete not allowed")
)

// FlowError pairs a failure category with the error that caused it.
// Both are reachable through errors.Is / errors.As.
type FlowError struct {
	Kind error
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FlowError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func flowError(kind, err error) error {
	return &FlowError{Kind: kind, Err: err}
}

// RefreshFailedError reports a rejected refresh grant with the upstream
// status and body when the upstream answered at all.
type RefreshFailedError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RefreshFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream refresh failed: status %d: %s", e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream refresh failed: %v", e.Err)
	}
	return "upstream refresh failed"
}

func (e *RefreshFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamRefresh}
	}
	return []error{ErrUpstreamRefresh, e.Err}
}

// HTTPStatus maps a bridge error to the status code and plain-text body
// returned to the browser.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidAuthorizationRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, ErrInvalidCallbackState):
		return http.StatusBadRequest, "Invalid state"
	case errors.Is(err, ErrAuthorizationDenied):
		return http.StatusBadRequest, "Authorization denied"
	case errors.Is(err, ErrMissingAuthorizationCode):
		return http.StatusBadRequest, "Missing code"
	case errors.Is(err, ErrAthleteNotAllowed):
		return http.StatusForbidden, "Athlete not allowed"
	case strava.IsTimeout(err):
		return http.StatusGatewayTimeout, "Upstream timeout"
	case errors.Is(err, ErrUpstreamTokenExchange):
		if errors.Is(err, strava.ErrMissingAccessToken) {
			return http.StatusBadRequest, "Missing access token"
		}
		return http.StatusInternalServerError, "Failed to fetch access token"
	case errors.Is(err, ErrUpstreamIdentityFetch):
		return http.StatusBadGateway, "Failed to fetch athlete"
	case errors.Is(err, ErrUpstreamRefresh):
		return http.StatusBadGateway, "Failed to refresh token"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
