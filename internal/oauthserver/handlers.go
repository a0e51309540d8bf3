package oauthserver

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// maxRegistrationBytes caps the DCR request body
const maxRegistrationBytes = 64 << 10

// HandleToken serves POST /token. Client credentials may arrive in the form
// body (client_secret_post) or an Authorization: Basic header.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidRequest("malformed form body"))
		return
	}

	req := TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}

	resp, err := s.Token(r.Context(), req)
	if err != nil {
		oerr := AsError(err)
		if oerr.Code == CodeServerError {
			log.Error().Err(err).Str("grantType", req.GrantType).Msg("token request failed")
		} else {
			log.Warn().Str("error", oerr.Code).Str("description", oerr.Description).Str("grantType", req.GrantType).Msg("token request rejected")
		}
		if oerr.Code == CodeInvalidClient {
			w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		}
		writeError(w, oerr)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// HandleRegister serves POST /register (RFC 7591)
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, newError(CodeInvalidClientMetadata, http.StatusBadRequest, "invalid JSON body"))
		return
	}

	resp, err := s.RegisterClient(r.Context(), req)
	if err != nil {
		oerr := AsError(err)
		if oerr.Code == CodeServerError {
			log.Error().Err(err).Msg("client registration failed")
		}
		writeError(w, oerr)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// HandleAuthorizationServerMetadata serves the RFC 8414 document
func (s *Server) HandleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := s.cfg.Issuer

	metadata := map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"registration_endpoint":                 issuer + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{PKCEMethodS256, PKCEMethodPlain},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "client_secret_basic", "none"},
	}
	if len(s.cfg.ScopesSupported) > 0 {
		metadata["scopes_supported"] = s.cfg.ScopesSupported
	}

	writeJSON(w, http.StatusOK, metadata)
}

// HandleProtectedResourceMetadata serves the RFC 9728 document for /mcp
func (s *Server) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := map[string]any{
		"resource":                 s.ResourceURL(),
		"authorization_servers":    []string{s.cfg.Issuer},
		"bearer_methods_supported": []string{"header"},
	}
	if len(s.cfg.ScopesSupported) > 0 {
		metadata["scopes_supported"] = s.cfg.ScopesSupported
	}

	writeJSON(w, http.StatusOK, metadata)
}

// ResourceURL is the protected MCP endpoint
func (s *Server) ResourceURL() string {
	return s.cfg.Issuer + "/mcp"
}

// ResourceMetadataURL is advertised in WWW-Authenticate challenges
func (s *Server) ResourceMetadataURL() string {
	return s.cfg.Issuer + "/.well-known/oauth-protected-resource"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, e *Error) {
	status := e.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"error":             e.Code,
		"error_description": e.Description,
	})
}
