package oauthserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// RegistrationRequest is an RFC 7591 client registration request
type RegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// RegistrationResponse is an RFC 7591 client information response
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"` // 0 means never
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegisterClient creates a client. Confidential clients get a generated
// secret that is returned once and stored only as a bcrypt hash.
func (s *Server) RegisterClient(ctx context.Context, req RegistrationRequest) (*RegistrationResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, newError(CodeInvalidRedirectURI, http.StatusBadRequest, "at least one redirect_uri is required")
	}
	for _, uri := range req.RedirectURIs {
		if !s.allowedRedirectURI(uri) {
			return nil, newError(CodeInvalidRedirectURI, http.StatusBadRequest, "redirect_uri not allowed: %s", uri)
		}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	for _, gt := range grantTypes {
		if gt != "authorization_code" && gt != "refresh_token" {
			return nil, newError(CodeInvalidClientMetadata, http.StatusBadRequest, "unsupported grant_type %q", gt)
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_post"
	}
	switch authMethod {
	case "none", "client_secret_post", "client_secret_basic":
	default:
		return nil, newError(CodeInvalidClientMetadata, http.StatusBadRequest, "unsupported token_endpoint_auth_method %q", authMethod)
	}

	clientID, err := randomToken(24)
	if err != nil {
		return nil, err
	}

	var secret, secretHash string
	if authMethod != "none" {
		secret, err = randomToken(32)
		if err != nil {
			return nil, err
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash client secret: %w", err)
		}
		secretHash = string(hashed)
	}

	now := time.Now()
	client := &Client{
		ClientID:     clientID,
		SecretHash:   secretHash,
		Name:         req.ClientName,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   grantTypes,
		CreatedAt:    now,
	}
	if err := s.storage.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	log.Info().
		Str("clientId", clientID).
		Str("clientName", req.ClientName).
		Str("authMethod", authMethod).
		Msg("oauth client registered")

	return &RegistrationResponse{
		ClientID:                clientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        now.Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: authMethod,
	}, nil
}

func (s *Server) allowedRedirectURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Fragment != "" {
		return false
	}
	if !allowedRedirectScheme(u) {
		return false
	}
	if len(s.patterns) == 0 {
		return true
	}
	for _, pattern := range s.patterns {
		if pattern.MatchString(uri) {
			return true
		}
	}
	return false
}

// allowedRedirectScheme follows RFC 8252: https, loopback http, or a
// private-use scheme in reverse domain notation (com.example.app:/cb)
func allowedRedirectScheme(u *url.URL) bool {
	switch {
	case u.Scheme == "https":
		return u.Host != ""
	case u.Scheme == "http":
		return isLoopbackURI(u)
	default:
		return strings.Contains(u.Scheme, ".")
	}
}
