package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/erauner12/strava-mcp/internal/auth"
	"github.com/erauner12/strava-mcp/internal/oauthserver"
	"github.com/erauner12/strava-mcp/internal/strava"
)

type fakeProvider struct {
	parseCalls    int
	verifyCalls   int
	verifyErr     error
	completeCalls int
	completeErr   error
	completed     oauthserver.CompleteAuthorizationRequest
}

func (p *fakeProvider) VerifyAuthRequest(_ context.Context, _ *oauthserver.AuthRequest) error {
	p.verifyCalls++
	return p.verifyErr
}

func (p *fakeProvider) ParseAuthRequest(r *http.Request) (*oauthserver.AuthRequest, error) {
	p.parseCalls++
	q := r.URL.Query()
	return &oauthserver.AuthRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		State:        q.Get("state"),
	}, nil
}

func (p *fakeProvider) CompleteAuthorization(_ context.Context, in oauthserver.CompleteAuthorizationRequest) (string, error) {
	p.completeCalls++
	p.completed = in
	if p.completeErr != nil {
		return "", p.completeErr
	}
	return in.Request.RedirectURI + "?code=local-code&state=" + url.QueryEscape(in.Request.State), nil
}

type fakeUpstream struct {
	buildCalls    int
	exchangeCalls int
	gotState      string
	gotCode       string
	cred          *strava.Credential
	err           error
}

func (u *fakeUpstream) BuildAuthorizationURL(clientID, scope, redirectURI, state string) string {
	u.buildCalls++
	u.gotState = state
	return "https://strava.test/oauth/authorize?client_id=" + clientID + "&state=" + url.QueryEscape(state)
}

func (u *fakeUpstream) ExchangeCode(_ context.Context, _, _, code, _ string) (*strava.Credential, error) {
	u.exchangeCalls++
	u.gotCode = code
	if code == "" {
		return nil, strava.ErrMissingCode
	}
	if u.err != nil {
		return nil, u.err
	}
	return u.cred, nil
}

func adaFetcher(calls *int, err error) IdentityFetcher {
	return func(_ context.Context, accessToken string) (*strava.Athlete, error) {
		*calls++
		if err != nil {
			return nil, err
		}
		if accessToken != "T" {
			return nil, errors.New("unexpected token " + accessToken)
		}
		return &strava.Athlete{ID: 42, FirstName: "Ada", LastName: "L"}, nil
	}
}

func testBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ClientID:     "strava-client",
		ClientSecret: "strava-secret",
		CallbackURL:  "https://mcp.test/callback",
	}
}

func TestAuthorize_RedirectsWithState(t *testing.T) {
	provider := &fakeProvider{}
	upstream := &fakeUpstream{}
	var identityCalls int
	b := NewBridge(testBridgeConfig(), provider, upstream, adaFetcher(&identityCalls, nil))

	r := httptest.NewRequest(http.MethodGet, "/authorize?response_type=code&client_id=c1&redirect_uri=http://127.0.0.1/cb&state=xyz", nil)
	w := httptest.NewRecorder()
	b.Authorize(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "https://strava.test/oauth/authorize") {
		t.Errorf("unexpected location %q", w.Header().Get("Location"))
	}

	req, err := DecodeState(upstream.gotState)
	if err != nil {
		t.Fatalf("state does not decode: %v", err)
	}
	if req.ClientID != "c1" || req.State != "xyz" || req.RedirectURI != "http://127.0.0.1/cb" {
		t.Errorf("state lost request fields: %+v", req)
	}
}

func TestAuthorize_MissingClientID(t *testing.T) {
	provider := &fakeProvider{}
	upstream := &fakeUpstream{}
	var identityCalls int
	b := NewBridge(testBridgeConfig(), provider, upstream, adaFetcher(&identityCalls, nil))

	w := httptest.NewRecorder()
	b.Authorize(w, httptest.NewRequest(http.MethodGet, "/authorize?response_type=code", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w.Body.String() != "Invalid request" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
	if upstream.buildCalls != 0 || upstream.exchangeCalls != 0 || identityCalls != 0 {
		t.Error("no upstream interaction expected")
	}
}

func callbackRequest(t *testing.T, params url.Values) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "/callback?"+params.Encode(), nil)
}

func TestCallback_Success(t *testing.T) {
	provider := &fakeProvider{}
	upstream := &fakeUpstream{cred: &strava.Credential{AccessToken: "T", RefreshToken: "R"}}
	var identityCalls int
	b := NewBridge(testBridgeConfig(), provider, upstream, adaFetcher(&identityCalls, nil))

	state, err := EncodeState(sampleAuthRequest())
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	b.Callback(w, callbackRequest(t, url.Values{"code": {"abc"}, "state": {state}}))

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "http://127.0.0.1:3334/callback?code=local-code&state=host-state" {
		t.Errorf("unexpected redirect %q", got)
	}
	if upstream.exchangeCalls != 1 || upstream.gotCode != "abc" {
		t.Errorf("expected one exchange with code abc, got %d (%q)", upstream.exchangeCalls, upstream.gotCode)
	}

	props, ok := provider.completed.Props.(SessionProps)
	if !ok {
		t.Fatalf("props have type %T", provider.completed.Props)
	}
	want := SessionProps{UserID: "42", FirstName: "Ada", LastName: "L", AccessToken: "T", RefreshToken: "R"}
	if props != want {
		t.Errorf("props = %+v, want %+v", props, want)
	}
	if provider.completed.UserID != "42" || provider.completed.Label != "Ada L" {
		t.Errorf("unexpected grant metadata: %+v", provider.completed)
	}
	if provider.completed.Request.ClientID != "client-1" {
		t.Errorf("request not restored from state: %+v", provider.completed.Request)
	}
}

func TestCallback_Failures(t *testing.T) {
	validState, _ := EncodeState(sampleAuthRequest())

	tests := []struct {
		name        string
		params      url.Values
		exchangeErr error
		identityErr error
		allowlist   []string
		wantStatus  int
		wantBody    string
		wantKind    error
	}{
		{
			name:       "invalid state",
			params:     url.Values{"code": {"abc"}, "state": {"garbage"}},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid state",
		},
		{
			name:       "user denied",
			params:     url.Values{"error": {"access_denied"}, "state": {validState}},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Authorization denied",
		},
		{
			name:       "missing code",
			params:     url.Values{"state": {validState}},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Missing code",
		},
		{
			name:        "token endpoint error",
			params:      url.Values{"code": {"abc"}, "state": {validState}},
			exchangeErr: &strava.TokenError{StatusCode: 500, Body: "boom"},
			wantStatus:  http.StatusInternalServerError,
			wantBody:    "Failed to fetch access token",
		},
		{
			name:        "no access token",
			params:      url.Values{"code": {"abc"}, "state": {validState}},
			exchangeErr: &strava.TokenError{StatusCode: 200, Err: strava.ErrMissingAccessToken},
			wantStatus:  http.StatusBadRequest,
			wantBody:    "Missing access token",
		},
		{
			name:        "token endpoint timeout",
			params:      url.Values{"code": {"abc"}, "state": {validState}},
			exchangeErr: &strava.TimeoutError{Op: "code exchange", Err: context.DeadlineExceeded},
			wantStatus:  http.StatusGatewayTimeout,
			wantBody:    "Upstream timeout",
		},
		{
			name:        "identity fetch error",
			params:      url.Values{"code": {"abc"}, "state": {validState}},
			identityErr: errors.New("500 from /athlete"),
			wantStatus:  http.StatusBadGateway,
			wantBody:    "Failed to fetch athlete",
		},
		{
			name:        "identity fetch timeout",
			params:      url.Values{"code": {"abc"}, "state": {validState}},
			identityErr: &strava.TimeoutError{Op: "GET /athlete", Err: context.DeadlineExceeded},
			wantStatus:  http.StatusGatewayTimeout,
			wantBody:    "Upstream timeout",
		},
		{
			name:       "athlete not allowed",
			params:     url.Values{"code": {"abc"}, "state": {validState}},
			allowlist:  []string{"7"},
			wantStatus: http.StatusForbidden,
			wantBody:   "Athlete not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{}
			upstream := &fakeUpstream{cred: &strava.Credential{AccessToken: "T", RefreshToken: "R"}, err: tt.exchangeErr}
			var identityCalls int
			cfg := testBridgeConfig()
			cfg.Allowlist = NewAllowlist(tt.allowlist)
			b := NewBridge(cfg, provider, upstream, adaFetcher(&identityCalls, tt.identityErr))

			w := httptest.NewRecorder()
			b.Callback(w, callbackRequest(t, tt.params))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
			if provider.completeCalls != 0 {
				t.Error("no grant should be issued on failure")
			}
			if upstream.exchangeCalls > 1 {
				t.Errorf("exchange retried: %d calls", upstream.exchangeCalls)
			}
		})
	}
}

func TestCallback_InvalidStateMakesNoUpstreamCalls(t *testing.T) {
	upstream := &fakeUpstream{}
	var identityCalls int
	b := NewBridge(testBridgeConfig(), &fakeProvider{}, upstream, adaFetcher(&identityCalls, nil))

	w := httptest.NewRecorder()
	b.Callback(w, httptest.NewRequest(http.MethodGet, "/callback?code=abc", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if upstream.exchangeCalls != 0 || identityCalls != 0 {
		t.Error("invalid state must not reach strava")
	}
}

func TestAllowlist(t *testing.T) {
	if !NewAllowlist(nil).Allows("1") {
		t.Error("empty allowlist should allow everyone")
	}
	if !NewAllowlist([]string{" ", ""}).Allows("1") {
		t.Error("blank entries should be ignored")
	}
	a := NewAllowlist([]string{"42", " 7 "})
	if !a.Allows("42") || !a.Allows("7") || a.Allows("8") {
		t.Errorf("unexpected allowlist behavior: %v", a)
	}
}

// newTestProvider returns a real authorization server with one registered
// public client
func newTestProvider(t *testing.T) (*oauthserver.Server, *oauthserver.RegistrationResponse) {
	t.Helper()

	sealer, err := oauthserver.NewSealer("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	provider, err := oauthserver.NewServer(oauthserver.NewMemoryStorage(), sealer, oauthserver.Config{
		Issuer: "https://mcp.test",
		JWT: auth.JWTCfg{
			HS256Secret: "test-signing-secret-32-bytes-long!!",
			Issuer:      "https://mcp.test",
			Audience:    "https://mcp.test/mcp",
		},
		RequirePKCE: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	reg, err := provider.RegisterClient(context.Background(), oauthserver.RegistrationRequest{
		ClientName:              "e2e",
		RedirectURIs:            []string{"http://127.0.0.1:3334/callback"},
		TokenEndpointAuthMethod: "none",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return provider, reg
}

// A state forged by hand must pass the same client checks as /authorize
// before Strava is contacted or a grant is issued.
func TestCallback_ForgedStateRejected(t *testing.T) {
	provider, reg := newTestProvider(t)

	tests := []struct {
		name string
		req  oauthserver.AuthRequest
	}{
		{
			name: "unregistered redirect",
			req: oauthserver.AuthRequest{ResponseType: "code", ClientID: reg.ClientID, RedirectURI: "https://evil.test/steal",
				CodeChallenge: "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", CodeChallengeMethod: "S256"},
		},
		{
			name: "pkce stripped",
			req:  oauthserver.AuthRequest{ResponseType: "code", ClientID: reg.ClientID, RedirectURI: "http://127.0.0.1:3334/callback"},
		},
		{
			name: "unknown client",
			req:  oauthserver.AuthRequest{ResponseType: "code", ClientID: "forged", RedirectURI: "http://127.0.0.1:3334/callback"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeUpstream{cred: &strava.Credential{AccessToken: "T", RefreshToken: "R"}}
			var identityCalls int
			b := NewBridge(testBridgeConfig(), provider, upstream, adaFetcher(&identityCalls, nil))

			req := tt.req
			state, err := EncodeState(&req)
			if err != nil {
				t.Fatal(err)
			}
			w := httptest.NewRecorder()
			b.Callback(w, callbackRequest(t, url.Values{"code": {"abc"}, "state": {state}}))

			if w.Code != http.StatusBadRequest || w.Body.String() != "Invalid state" {
				t.Errorf("got %d %q, want 400 Invalid state", w.Code, w.Body.String())
			}
			if loc := w.Header().Get("Location"); loc != "" {
				t.Errorf("unexpected redirect to %s", loc)
			}
			if upstream.exchangeCalls != 0 || identityCalls != 0 {
				t.Error("forged state must not reach strava")
			}
		})
	}
}

func TestCallback_ProviderErrors(t *testing.T) {
	validState, _ := EncodeState(sampleAuthRequest())

	tests := []struct {
		name        string
		verifyErr   error
		completeErr error
		wantStatus  int
		wantBody    string
	}{
		{"verify rejects", &oauthserver.Error{Code: oauthserver.CodeInvalidRequest, Status: 400}, nil, http.StatusBadRequest, "Invalid state"},
		{"verify storage failure", errors.New("db down"), nil, http.StatusInternalServerError, "Internal error"},
		{"complete rejects", nil, &oauthserver.Error{Code: oauthserver.CodeInvalidRequest, Status: 400}, http.StatusBadRequest, "Invalid state"},
		{"complete storage failure", nil, errors.New("db down"), http.StatusInternalServerError, "Internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{verifyErr: tt.verifyErr, completeErr: tt.completeErr}
			upstream := &fakeUpstream{cred: &strava.Credential{AccessToken: "T", RefreshToken: "R"}}
			var identityCalls int
			b := NewBridge(testBridgeConfig(), provider, upstream, adaFetcher(&identityCalls, nil))

			w := httptest.NewRecorder()
			b.Callback(w, callbackRequest(t, url.Values{"code": {"abc"}, "state": {validState}}))

			if w.Code != tt.wantStatus || w.Body.String() != tt.wantBody {
				t.Errorf("got %d %q, want %d %q", w.Code, w.Body.String(), tt.wantStatus, tt.wantBody)
			}
			if tt.verifyErr != nil && upstream.exchangeCalls != 0 {
				t.Error("rejected state must not reach strava")
			}
		})
	}
}

// TestBridge_EndToEnd drives the whole flow against a fake Strava: authorize,
// callback, code redemption at the local token endpoint, then session load.
func TestBridge_EndToEnd(t *testing.T) {
	expiresAt := time.Now().Add(6 * time.Hour).Unix()
	stravaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			_ = r.ParseForm()
			if r.PostForm.Get("code") != "strava-code" {
				http.Error(w, `{"message":"Bad Request"}`, http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"T","refresh_token":"R","expires_at":%d,"expires_in":21600}`, expiresAt)
		case "/api/v3/athlete":
			if r.Header.Get("Authorization") != "Bearer T" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":42,"firstname":"Ada","lastname":"L"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer stravaSrv.Close()

	provider, reg := newTestProvider(t)
	ctx := context.Background()

	upstream := strava.NewOAuthClient(stravaSrv.URL+"/oauth/authorize", stravaSrv.URL+"/oauth/token", time.Second)
	b := NewBridge(testBridgeConfig(), provider, upstream, NewAthleteFetcher(stravaSrv.URL+"/api/v3", time.Second))

	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	authorize := url.Values{
		"response_type":         {"code"},
		"client_id":             {reg.ClientID},
		"redirect_uri":          {"http://127.0.0.1:3334/callback"},
		"state":                 {"host-state"},
		"code_challenge":        {"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"},
		"code_challenge_method": {"S256"},
	}
	w := httptest.NewRecorder()
	b.Authorize(w, httptest.NewRequest(http.MethodGet, "/authorize?"+authorize.Encode(), nil))
	if w.Code != http.StatusFound {
		t.Fatalf("authorize: %d %s", w.Code, w.Body.String())
	}
	toStrava, _ := url.Parse(w.Header().Get("Location"))
	state := toStrava.Query().Get("state")
	if state == "" {
		t.Fatal("strava redirect has no state")
	}

	w = httptest.NewRecorder()
	b.Callback(w, callbackRequest(t, url.Values{"code": {"strava-code"}, "state": {state}}))
	if w.Code != http.StatusFound {
		t.Fatalf("callback: %d %s", w.Code, w.Body.String())
	}
	back, _ := url.Parse(w.Header().Get("Location"))
	if back.Query().Get("state") != "host-state" {
		t.Errorf("client state not preserved: %s", back)
	}

	tokens, err := provider.Token(ctx, oauthserver.TokenRequest{
		GrantType:    "authorization_code",
		Code:         back.Query().Get("code"),
		RedirectURI:  "http://127.0.0.1:3334/callback",
		CodeVerifier: verifier,
		ClientID:     reg.ClientID,
	})
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	loader := NewSessionLoader(provider, NewRefresher(upstream, "strava-client", "strava-secret"), nil, 0)
	sess, err := loader.Authenticate(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	want := SessionProps{UserID: "42", FirstName: "Ada", LastName: "L", AccessToken: "T", RefreshToken: "R", ExpiresAt: expiresAt}
	if sess.Props != want {
		t.Errorf("session props = %+v, want %+v", sess.Props, want)
	}

	raw, _ := json.Marshal(sess.Props)
	if !strings.Contains(string(raw), `"userId":"42"`) {
		t.Errorf("unexpected props json %s", raw)
	}
}
