package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// maxTokenResponseBytes caps how much of a token endpoint reply is read
const maxTokenResponseBytes = 1 << 20

// OAuthClient talks to Strava's authorize and token endpoints.
// Client credentials are passed per call rather than stored.
type OAuthClient struct {
	authorizeURL string
	tokenURL     string
	httpClient   *http.Client
}

// NewOAuthClient creates a client for the given endpoints.
// Empty URLs fall back to Strava's production endpoints; a non-positive
// timeout falls back to DefaultTimeout.
func NewOAuthClient(authorizeURL, tokenURL string, timeout time.Duration) *OAuthClient {
	if authorizeURL == "" {
		authorizeURL = DefaultAuthorizeURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OAuthClient{
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// BuildAuthorizationURL returns the consent URL the browser is redirected to.
// The scope is passed through untouched and state is omitted when empty.
func (c *OAuthClient) BuildAuthorizationURL(clientID, scope, redirectURI, state string) string {
	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: c.authorizeURL},
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}
	return cfg.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a credential.
// Exactly one request is made; nothing is retried.
func (c *OAuthClient) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*Credential, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	status, body, err := c.postForm(ctx, form)
	if err != nil {
		if IsTimeout(err) {
			return nil, &TimeoutError{Op: "code exchange", Err: err}
		}
		return nil, &TokenError{Err: err}
	}

	if status < 200 || status > 299 {
		log.Warn().
			Int("status", status).
			Str("body", truncate(body, 512)).
			Msg("strava code exchange rejected")
		return nil, &TokenError{StatusCode: status, Body: string(body)}
	}

	var cred Credential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, &TokenError{StatusCode: status, Body: string(body), Err: fmt.Errorf("decode token response: %w", err)}
	}
	if cred.AccessToken == "" {
		return nil, &TokenError{StatusCode: status, Body: string(body), Err: ErrMissingAccessToken}
	}

	return &cred, nil
}

// ExchangeRefreshToken trades a refresh token for a new credential.
// Strava rotates refresh tokens, so the returned RefreshToken supersedes the input.
func (c *OAuthClient) ExchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*Credential, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	status, body, err := c.postForm(ctx, form)
	if err != nil {
		if IsTimeout(err) {
			return nil, &TimeoutError{Op: "token refresh", Err: err}
		}
		return nil, &RefreshError{Err: err}
	}

	if status < 200 || status > 299 {
		log.Warn().
			Int("status", status).
			Str("body", truncate(body, 512)).
			Msg("strava token refresh rejected")
		return nil, &RefreshError{StatusCode: status, Body: string(body)}
	}

	var cred Credential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, &RefreshError{StatusCode: status, Body: string(body), Err: fmt.Errorf("decode refresh response: %w", err)}
	}
	if cred.AccessToken == "" {
		return nil, &RefreshError{StatusCode: status, Body: string(body), Err: ErrMissingAccessToken}
	}

	return &cred, nil
}

// postForm sends client_secret_post style form data to the token endpoint
func (c *OAuthClient) postForm(ctx context.Context, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("grantType", form.Get("grant_type")).
			Dur("duration", time.Since(start)).
			Msg("strava token request failed")
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read token response: %w", err)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Str("grantType", form.Get("grant_type")).
		Dur("duration", time.Since(start)).
		Msg("strava token request completed")

	return resp.StatusCode, body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
