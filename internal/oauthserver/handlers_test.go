package oauthserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestHandleRegisterAndToken(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"client_name":"desktop","redirect_uris":["http://localhost:4000/cb"],"token_endpoint_auth_method":"client_secret_basic"}`
	rec := httptest.NewRecorder()
	srv.HandleRegister(rec, httptest.NewRequest("POST", "/register", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var reg RegistrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reg.ClientID == "" || reg.ClientSecret == "" {
		t.Fatalf("missing credentials: %+v", reg)
	}

	// Basic auth with a bad secret
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"nope"}}
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(reg.ClientID, "wrong")
	rec = httptest.NewRecorder()
	srv.HandleToken(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	var errBody map[string]string
	json.Unmarshal(rec.Body.Bytes(), &errBody)
	if errBody["error"] != CodeInvalidClient {
		t.Errorf("expected invalid_client, got %v", errBody)
	}

	// Correct secret, unknown refresh token
	req = httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(reg.ClientID, reg.ClientSecret)
	rec = httptest.NewRecorder()
	srv.HandleToken(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &errBody)
	if errBody["error"] != CodeInvalidGrant {
		t.Errorf("expected invalid_grant, got %v", errBody)
	}
}

func TestHandleToken_Success(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID := registerPublicClient(t, srv)
	code := completeFlow(t, srv, clientID)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"http://127.0.0.1:3334/callback"},
		"code_verifier": {testVerifier},
		"client_id":     {clientID},
	}
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.HandleToken(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("token response must not be cached")
	}
	var resp TokenResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.AccessToken == "" || resp.ExpiresIn != 3600 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleRegister_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.HandleRegister(rec, httptest.NewRequest("POST", "/register", bytes.NewBufferString("{")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMetadataHandlers(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.HandleAuthorizationServerMetadata(rec, httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil))
	var as map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &as); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if as["issuer"] != "https://mcp.test" {
		t.Errorf("unexpected issuer %v", as["issuer"])
	}
	if as["token_endpoint"] != "https://mcp.test/token" || as["registration_endpoint"] != "https://mcp.test/register" {
		t.Errorf("unexpected endpoints: %v", as)
	}

	rec = httptest.NewRecorder()
	srv.HandleProtectedResourceMetadata(rec, httptest.NewRequest("GET", "/.well-known/oauth-protected-resource", nil))
	var pr map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &pr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pr["resource"] != "https://mcp.test/mcp" {
		t.Errorf("unexpected resource %v", pr["resource"])
	}
}
