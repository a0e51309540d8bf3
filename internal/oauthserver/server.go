package oauthserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/erauner12/strava-mcp/internal/auth"
)

// Config configures token lifetimes and client policy
type Config struct {
	// Issuer is the public base URL of this service, e.g. https://mcp.example.com
	Issuer string

	// JWT signs and verifies access tokens
	JWT auth.JWTCfg

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CodeTTL         time.Duration

	// RequirePKCE forces public clients to send a code_challenge
	RequirePKCE bool

	// AllowedRedirectPatterns restricts redirect URIs at registration.
	// Empty allows any absolute URI.
	AllowedRedirectPatterns []string

	// ScopesSupported is advertised in metadata
	ScopesSupported []string
}

// DefaultConfig returns lifetimes suitable for MCP hosts
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		CodeTTL:         10 * time.Minute,
		RequirePKCE:     true,
	}
}

// AuthRequest is the authorization request an MCP client sent to /authorize.
// Its JSON form travels through the Strava redirect inside the state
// parameter, so field names are part of the wire format.
type AuthRequest struct {
	ResponseType        string   `json:"responseType"`
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	Scope               []string `json:"scope"`
	State               string   `json:"state"`
	CodeChallenge       string   `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
}

// CompleteAuthorizationRequest finishes a flow after the user authenticated
type CompleteAuthorizationRequest struct {
	Request *AuthRequest
	UserID  string
	Label   string
	Scope   []string
	Props   any
}

// TokenRequest is a parsed POST /token body
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the RFC 6749 section 5.1 response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Session is what a valid access token resolves to
type Session struct {
	Claims *auth.AccessClaims
	Grant  *Grant
	Props  json.RawMessage
}

// Server is the OAuth authorization server
type Server struct {
	storage  Storage
	sealer   *Sealer
	cfg      Config
	patterns []*regexp.Regexp
}

// NewServer creates an authorization server. Zero TTLs take their defaults.
func NewServer(storage Storage, sealer *Sealer, cfg Config) (*Server, error) {
	if storage == nil || sealer == nil {
		return nil, errors.New("storage and sealer are required")
	}

	defaults := DefaultConfig()
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaults.RefreshTokenTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaults.CodeTTL
	}
	cfg.Issuer = strings.TrimRight(cfg.Issuer, "/")

	patterns := make([]*regexp.Regexp, 0, len(cfg.AllowedRedirectPatterns))
	for _, p := range cfg.AllowedRedirectPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Server{storage: storage, sealer: sealer, cfg: cfg, patterns: patterns}, nil
}

// Issuer returns the configured issuer URL
func (s *Server) Issuer() string {
	return s.cfg.Issuer
}

// ParseAuthRequest reads and validates an authorization request.
// A request without client_id is returned as-is (nil error) so the caller
// can reject it with its own response.
func (s *Server) ParseAuthRequest(r *http.Request) (*AuthRequest, error) {
	if err := r.ParseForm(); err != nil {
		return nil, invalidRequest("malformed request")
	}
	q := r.Form

	req := &AuthRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               strings.Fields(q.Get("scope")),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
	if req.ClientID == "" {
		return req, nil
	}

	if req.ResponseType != "code" {
		return nil, newError(CodeUnsupportedResponseType, http.StatusBadRequest, "response_type must be code")
	}

	if err := s.VerifyAuthRequest(r.Context(), req); err != nil {
		return nil, err
	}
	return req, nil
}

// VerifyAuthRequest checks req against the registered client: the redirect
// URI must be registered and public clients must send a code challenge when
// PKCE is required. An empty redirect URI or challenge method is filled in.
// Runs on /authorize and again before a grant is issued.
func (s *Server) VerifyAuthRequest(ctx context.Context, req *AuthRequest) error {
	if req == nil || req.ClientID == "" {
		return invalidRequest("client_id is required")
	}

	client, err := s.storage.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidClient("unknown client_id")
		}
		return fmt.Errorf("load client: %w", err)
	}

	if req.RedirectURI == "" {
		if len(client.RedirectURIs) != 1 {
			return invalidRequest("redirect_uri is required")
		}
		req.RedirectURI = client.RedirectURIs[0]
	} else if !client.ValidRedirectURI(req.RedirectURI) {
		return invalidRequest("redirect_uri is not registered for this client")
	}

	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod == "" {
			req.CodeChallengeMethod = PKCEMethodPlain
		}
		if err := ValidateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
			return invalidRequest("%v", err)
		}
	} else if s.cfg.RequirePKCE && client.Public() {
		return invalidRequest("code_challenge is required")
	}
	return nil
}

// CompleteAuthorization stores a grant carrying props and returns the URL
// the user's browser should be sent to (the client's redirect_uri with a
// fresh code and the client's original state).
func (s *Server) CompleteAuthorization(ctx context.Context, in CompleteAuthorizationRequest) (string, error) {
	if in.Request == nil || in.Request.ClientID == "" || in.Request.RedirectURI == "" {
		return "", invalidRequest("authorization request is incomplete")
	}
	if in.UserID == "" {
		return "", invalidRequest("user id is required")
	}
	if err := s.VerifyAuthRequest(ctx, in.Request); err != nil {
		return "", err
	}

	propsJSON, err := json.Marshal(in.Props)
	if err != nil {
		return "", fmt.Errorf("encode props: %w", err)
	}
	sealed, err := s.sealer.Seal(propsJSON)
	if err != nil {
		return "", err
	}

	now := time.Now()
	grant := &Grant{
		ID:             uuid.NewString(),
		ClientID:       in.Request.ClientID,
		UserID:         in.UserID,
		Label:          in.Label,
		Scope:          in.Scope,
		SealedProps:    sealed,
		PropsUpdatedAt: now,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.storage.SaveGrant(ctx, grant); err != nil {
		return "", fmt.Errorf("save grant: %w", err)
	}

	code, err := randomToken(32)
	if err != nil {
		return "", err
	}
	if err := s.storage.SaveAuthorizationCode(ctx, &AuthorizationCode{
		CodeHash:            hashToken(code),
		GrantID:             grant.ID,
		ClientID:            grant.ClientID,
		RedirectURI:         in.Request.RedirectURI,
		CodeChallenge:       in.Request.CodeChallenge,
		CodeChallengeMethod: in.Request.CodeChallengeMethod,
		ExpiresAt:           now.Add(s.cfg.CodeTTL),
		CreatedAt:           now,
	}); err != nil {
		return "", fmt.Errorf("save authorization code: %w", err)
	}

	redirect, err := url.Parse(in.Request.RedirectURI)
	if err != nil {
		return "", invalidRequest("redirect_uri is not a valid URL")
	}
	q := redirect.Query()
	q.Set("code", code)
	if in.Request.State != "" {
		q.Set("state", in.Request.State)
	}
	redirect.RawQuery = q.Encode()

	log.Info().
		Str("grantId", grant.ID).
		Str("clientId", grant.ClientID).
		Str("userId", grant.UserID).
		Strs("scope", grant.Scope).
		Msg("authorization completed")

	return redirect.String(), nil
}

// Token handles the authorization_code and refresh_token grants
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.SupportsGrantType(req.GrantType) {
		return nil, newError(CodeUnauthorizedClient, http.StatusBadRequest, "client may not use grant_type %q", req.GrantType)
	}

	switch req.GrantType {
	case "authorization_code":
		return s.exchangeAuthorizationCode(ctx, client, req)
	case "refresh_token":
		return s.exchangeRefreshToken(ctx, client, req)
	case "":
		return nil, invalidRequest("grant_type is required")
	default:
		return nil, newError(CodeUnsupportedGrantType, http.StatusBadRequest, "grant_type %q is not supported", req.GrantType)
	}
}

func (s *Server) exchangeAuthorizationCode(ctx context.Context, client *Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, invalidRequest("code is required")
	}

	code, err := s.storage.ConsumeAuthorizationCode(ctx, hashToken(req.Code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidGrant("authorization code is invalid or already used")
		}
		return nil, fmt.Errorf("load authorization code: %w", err)
	}
	if code.IsExpired() {
		return nil, invalidGrant("authorization code expired")
	}
	if code.ClientID != client.ClientID {
		return nil, invalidGrant("authorization code was issued to another client")
	}
	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}
	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, invalidGrant("code_verifier is required")
		}
		if !VerifyCodeChallenge(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			return nil, invalidGrant("code_verifier does not match code_challenge")
		}
	}

	grant, err := s.storage.GetGrant(ctx, code.GrantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidGrant("grant no longer exists")
		}
		return nil, fmt.Errorf("load grant: %w", err)
	}

	return s.issueTokens(ctx, client, grant)
}

func (s *Server) exchangeRefreshToken(ctx context.Context, client *Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, invalidRequest("refresh_token is required")
	}

	// Rotation: the presented token is consumed whether or not the exchange succeeds
	rt, err := s.storage.ConsumeRefreshToken(ctx, hashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidGrant("refresh token is invalid or already used")
		}
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if rt.IsExpired() {
		return nil, invalidGrant("refresh token expired")
	}
	if rt.ClientID != client.ClientID {
		return nil, invalidGrant("refresh token was issued to another client")
	}

	grant, err := s.storage.GetGrant(ctx, rt.GrantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidGrant("grant no longer exists")
		}
		return nil, fmt.Errorf("load grant: %w", err)
	}

	grant.ExpiresAt = time.Now().Add(s.cfg.RefreshTokenTTL)
	if err := s.storage.ExtendGrant(ctx, grant.ID, grant.ExpiresAt); err != nil {
		return nil, fmt.Errorf("extend grant: %w", err)
	}

	return s.issueTokens(ctx, client, grant)
}

func (s *Server) issueTokens(ctx context.Context, client *Client, grant *Grant) (*TokenResponse, error) {
	scope := strings.Join(grant.Scope, " ")

	accessToken, _, err := auth.IssueAccessToken(s.cfg.JWT, grant.UserID, grant.ID, client.ClientID, scope, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	refreshToken, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.storage.SaveRefreshToken(ctx, &RefreshToken{
		TokenHash: hashToken(refreshToken),
		GrantID:   grant.ID,
		ClientID:  client.ClientID,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

func (s *Server) authenticateClient(ctx context.Context, clientID, secret string) (*Client, error) {
	if clientID == "" {
		return nil, invalidClient("client_id is required")
	}
	client, err := s.storage.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidClient("unknown client")
		}
		return nil, fmt.Errorf("load client: %w", err)
	}
	if client.Public() {
		return client, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return nil, invalidClient("client authentication failed")
	}
	return client, nil
}

// ValidateAccessToken resolves a bearer token to its grant and decrypted props
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*Session, error) {
	claims, err := auth.ParseAccessToken(s.cfg.JWT, token)
	if err != nil {
		return nil, err
	}

	grant, err := s.storage.GetGrant(ctx, claims.GrantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: grant revoked", auth.ErrInvalidToken)
		}
		return nil, fmt.Errorf("load grant: %w", err)
	}
	if grant.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: subject does not match grant", auth.ErrInvalidToken)
	}

	props, err := s.sealer.Open(grant.SealedProps)
	if err != nil {
		return nil, err
	}

	return &Session{Claims: claims, Grant: grant, Props: props}, nil
}

// UpdateGrantProps replaces the props stored on a grant
func (s *Server) UpdateGrantProps(ctx context.Context, grantID string, props any) error {
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode props: %w", err)
	}
	sealed, err := s.sealer.Seal(propsJSON)
	if err != nil {
		return err
	}

	if err := s.storage.SetGrantProps(ctx, grantID, sealed, time.Now()); err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return nil
}

// LoadGrantProps returns the current decrypted props of a grant
func (s *Server) LoadGrantProps(ctx context.Context, grantID string) (json.RawMessage, error) {
	grant, err := s.storage.GetGrant(ctx, grantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: grant revoked", auth.ErrInvalidToken)
		}
		return nil, fmt.Errorf("load grant: %w", err)
	}
	return s.sealer.Open(grant.SealedProps)
}

// RevokeGrant deletes a grant with its codes and refresh tokens
func (s *Server) RevokeGrant(ctx context.Context, grantID string) error {
	return s.storage.DeleteGrant(ctx, grantID)
}

// StartCleanupRoutine purges expired records every interval until ctx is done
func (s *Server) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := s.storage.CleanupExpired(ctx, now)
				if err != nil {
					log.Error().Err(err).Msg("oauth cleanup failed")
					continue
				}
				if removed > 0 {
					log.Debug().Int("removed", removed).Msg("oauth cleanup completed")
				}
			}
		}
	}()
}

// randomToken returns n random bytes, base64url encoded
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken is the storage key for codes and refresh tokens
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
