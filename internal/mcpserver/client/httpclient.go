package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/erauner12/strava-mcp/internal/strava"
)

const (
	// MaxUnauthorizedRetries bounds how often a 401 triggers a token refresh
	MaxUnauthorizedRetries = 1

	// DefaultTimeout bounds a single Strava API call
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body is buffered
	maxResponseBytes = 8 << 20
)

// TokenProvider supplies the Strava bearer token for one session.
// InvalidateToken marks the current token as rejected so the next Token call
// obtains a fresh one.
type TokenProvider interface {
	oauth2.TokenSource
	InvalidateToken(ctx context.Context) error
}

// HTTPClient calls the Strava REST API on behalf of one athlete.
// Automatically injects:
// - Authorization: Bearer <token> (via oauth2.Transport)
// - Content-Type / Accept: application/json
// - X-Correlation-ID: <uuid>
//
// A 401 invalidates the token and retries once; every other non-2xx status
// is returned to the caller as *APIError.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
}

// NewHTTPClient creates a Strava API client bound to a token provider
func NewHTTPClient(baseURL string, tokens TokenProvider, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = strava.DefaultAPIBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: tokens,
				Base:   http.DefaultTransport,
			},
		},
		tokens: tokens,
	}
}

// Call performs method on path (relative to the API base URL, query string
// allowed) and returns the raw JSON body. A nil body sends no payload.
func (c *HTTPClient) Call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	// Generate correlation ID for request tracing
	correlationID := uuid.New().String()

	logger := log.Ctx(ctx).With().
		Str("method", method).
		Str("path", path).
		Str("correlationId", correlationID).
		Logger()

	return c.doWithRetry(ctx, method, path, payload, &logger, correlationID, 0)
}

func (c *HTTPClient) doWithRetry(ctx context.Context, method, path string, payload []byte, logger *zerolog.Logger, correlationID string, retryCount int) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("strava request failed")
		if strava.IsTimeout(err) {
			return nil, &strava.TimeoutError{Op: method + " " + path, Err: err}
		}
		return nil, fmt.Errorf("strava %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Int("retryCount", retryCount).
		Str("rateLimitUsage", resp.Header.Get("X-RateLimit-Usage")).
		Msg("strava request completed")

	if resp.StatusCode == http.StatusUnauthorized && retryCount < MaxUnauthorizedRetries {
		if err := c.tokens.InvalidateToken(ctx); err == nil {
			logger.Warn().Msg("401 Unauthorized - refreshed token, retrying")
			return c.doWithRetry(ctx, method, path, payload, logger, correlationID, retryCount+1)
		} else if !errors.Is(err, ErrTokenNotRefreshable) {
			return nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       string(data),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			logger.Warn().
				Dur("retryAfter", apiErr.RetryAfter).
				Str("rateLimitLimit", resp.Header.Get("X-RateLimit-Limit")).
				Str("rateLimitUsage", resp.Header.Get("X-RateLimit-Usage")).
				Msg("strava rate limit reached")
		}
		return nil, apiErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

// parseRetryAfter parses the Retry-After header
// Supports both integer seconds and HTTP-date format
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	// Try parsing as integer (seconds)
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(value); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return duration
		}
	}

	return 0
}
