// Package auth bridges MCP client authorization to Strava's OAuth flow and
// materializes per-session Strava credentials for tool calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/strava-mcp/internal/mcpserver/client"
	"github.com/erauner12/strava-mcp/internal/oauthserver"
	"github.com/erauner12/strava-mcp/internal/strava"
)

// AuthorizationServer is the part of the local OAuth provider the bridge
// drives: parse the incoming request, re-check it when it comes back in
// state, then mint a grant once Strava is done.
type AuthorizationServer interface {
	ParseAuthRequest(r *http.Request) (*oauthserver.AuthRequest, error)
	VerifyAuthRequest(ctx context.Context, req *oauthserver.AuthRequest) error
	CompleteAuthorization(ctx context.Context, in oauthserver.CompleteAuthorizationRequest) (string, error)
}

// UpstreamOAuth is Strava's authorization-code flow
type UpstreamOAuth interface {
	BuildAuthorizationURL(clientID, scope, redirectURI, state string) string
	ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*strava.Credential, error)
}

// IdentityFetcher loads the athlete that owns accessToken
type IdentityFetcher func(ctx context.Context, accessToken string) (*strava.Athlete, error)

// NewAthleteFetcher returns an IdentityFetcher backed by the Strava API
// client, using a fixed token for the single identity call.
func NewAthleteFetcher(apiBaseURL string, timeout time.Duration) IdentityFetcher {
	return func(ctx context.Context, accessToken string) (*strava.Athlete, error) {
		c := client.NewHTTPClient(apiBaseURL, client.NewStaticTokenProvider(accessToken), timeout)
		return c.GetLoggedInAthlete(ctx)
	}
}

// BridgeConfig holds the Strava application settings used by the bridge
type BridgeConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	// CallbackURL is this server's /callback, registered with Strava
	CallbackURL string
	Allowlist   Allowlist
}

// Bridge serves /authorize and /callback
type Bridge struct {
	cfg           BridgeConfig
	provider      AuthorizationServer
	upstream      UpstreamOAuth
	fetchIdentity IdentityFetcher
}

// NewBridge wires the bridge to its collaborators
func NewBridge(cfg BridgeConfig, provider AuthorizationServer, upstream UpstreamOAuth, fetchIdentity IdentityFetcher) *Bridge {
	if cfg.Scope == "" {
		cfg.Scope = strava.DefaultScope
	}
	return &Bridge{
		cfg:           cfg,
		provider:      provider,
		upstream:      upstream,
		fetchIdentity: fetchIdentity,
	}
}

// Authorize handles GET /authorize: it validates the MCP client's request
// and redirects the browser to Strava with the request carried in state.
func (b *Bridge) Authorize(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	req, err := b.provider.ParseAuthRequest(r)
	if err != nil {
		logger.Warn().Err(err).Msg("rejecting authorization request")
		b.fail(w, r, flowError(ErrInvalidAuthorizationRequest, err))
		return
	}
	if req == nil || req.ClientID == "" {
		logger.Warn().Msg("authorization request without client_id")
		b.fail(w, r, flowError(ErrInvalidAuthorizationRequest, errors.New("client_id is required")))
		return
	}

	state, err := EncodeState(req)
	if err != nil {
		b.fail(w, r, err)
		return
	}

	target := b.upstream.BuildAuthorizationURL(b.cfg.ClientID, b.cfg.Scope, b.cfg.CallbackURL, state)
	logger.Info().
		Str("clientId", req.ClientID).
		Str("redirectUri", req.RedirectURI).
		Msg("redirecting to strava authorization")
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback handles GET /callback: Strava sends the user back here with a
// code, which is exchanged for tokens before a local grant is issued.
func (b *Bridge) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	q := r.URL.Query()

	req, err := DecodeState(q.Get("state"))
	if err != nil {
		logger.Warn().Err(err).Msg("callback with invalid state")
		b.fail(w, r, err)
		return
	}

	// state is client-held; the request inside it is checked again
	if err := b.provider.VerifyAuthRequest(ctx, req); err != nil {
		logger.Warn().Err(err).Str("clientId", req.ClientID).Msg("callback state fails client checks")
		b.fail(w, r, providerError(err))
		return
	}

	if denied := q.Get("error"); denied != "" {
		logger.Info().Str("error", denied).Str("clientId", req.ClientID).Msg("user denied strava authorization")
		b.fail(w, r, flowError(ErrAuthorizationDenied, fmt.Errorf("strava returned error=%s", denied)))
		return
	}

	cred, err := b.upstream.ExchangeCode(ctx, b.cfg.ClientID, b.cfg.ClientSecret, q.Get("code"), b.cfg.CallbackURL)
	if err != nil {
		kind := ErrUpstreamTokenExchange
		if errors.Is(err, strava.ErrMissingCode) {
			kind = ErrMissingAuthorizationCode
		}
		logger.Error().Err(err).Msg("strava code exchange failed")
		b.fail(w, r, flowError(kind, err))
		return
	}

	athlete, err := b.fetchIdentity(ctx, cred.AccessToken)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch strava athlete")
		b.fail(w, r, flowError(ErrUpstreamIdentityFetch, err))
		return
	}

	props := NewSessionProps(athlete, cred)
	if !b.cfg.Allowlist.Allows(props.UserID) {
		logger.Warn().Str("athleteId", props.UserID).Msg("athlete is not on the allowlist")
		b.fail(w, r, flowError(ErrAthleteNotAllowed, fmt.Errorf("athlete %s", props.UserID)))
		return
	}

	redirectTo, err := b.provider.CompleteAuthorization(ctx, oauthserver.CompleteAuthorizationRequest{
		Request: req,
		UserID:  props.UserID,
		Label:   props.DisplayName(),
		Scope:   req.Scope,
		Props:   props,
	})
	if err != nil {
		logger.Error().Err(err).Str("clientId", req.ClientID).Msg("failed to complete authorization")
		b.fail(w, r, providerError(err))
		return
	}

	logger.Info().
		Str("athleteId", props.UserID).
		Str("clientId", req.ClientID).
		Msg("authorization complete")
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// providerError classifies OAuth protocol errors from the provider as a bad
// callback state; anything else stays an internal error
func providerError(err error) error {
	var oerr *oauthserver.Error
	if errors.As(err, &oerr) {
		return flowError(ErrInvalidCallbackState, err)
	}
	return err
}

func (b *Bridge) fail(w http.ResponseWriter, _ *http.Request, err error) {
	status, msg := HTTPStatus(err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// Allowlist restricts which athlete IDs may authorize. The zero value
// allows everyone.
type Allowlist map[string]struct{}

// NewAllowlist builds an allowlist from athlete IDs; blanks are ignored
func NewAllowlist(ids []string) Allowlist {
	a := Allowlist{}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a[id] = struct{}{}
		}
	}
	if len(a) == 0 {
		return nil
	}
	return a
}

// Allows reports whether athleteID may use the server
func (a Allowlist) Allows(athleteID string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[athleteID]
	return ok
}
