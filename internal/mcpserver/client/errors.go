package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTokenNotRefreshable is returned by providers that hold a fixed token
var ErrTokenNotRefreshable = errors.New("token cannot be refreshed")

// APIError is a non-2xx response from the Strava API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string // status text, e.g. "Not Found"
	Body       string
	RetryAfter time.Duration // zero unless Strava sent Retry-After
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava api %s %s failed: %d %s", e.Method, e.Path, e.StatusCode, e.Status)
}

// IsUnauthorized reports whether err is a 401 from the Strava API
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether err is a 429 from the Strava API
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
