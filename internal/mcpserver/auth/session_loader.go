package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/erauner12/strava-mcp/internal/mcpserver/client"
	"github.com/erauner12/strava-mcp/internal/oauthserver"
)

const (
	// TokenExpiryBuffer is how long before upstream expiry a token is refreshed
	TokenExpiryBuffer = 5 * time.Minute

	// DefaultUpstreamTokenLifetime is how long a Strava access token lives
	DefaultUpstreamTokenLifetime = 6 * time.Hour
)

// GrantStore resolves local access tokens and persists updated props
type GrantStore interface {
	ValidateAccessToken(ctx context.Context, token string) (*oauthserver.Session, error)
	LoadGrantProps(ctx context.Context, grantID string) (json.RawMessage, error)
	UpdateGrantProps(ctx context.Context, grantID string, props any) error
}

// TokenRefresher is satisfied by *Refresher
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenUpdate, error)
}

// Session is an authenticated MCP session with its Strava credentials
type Session struct {
	GrantID   string
	ClientID  string
	Scope     []string
	ExpiresAt time.Time
	Props     SessionProps
}

// SessionLoader turns bearer tokens into sessions, refreshing the Strava
// token when it is close to expiry.
type SessionLoader struct {
	grants    GrantStore
	refresher TokenRefresher
	allowlist Allowlist
	lifetime  time.Duration
	now       func() time.Time
	inflight  singleflight.Group
}

// NewSessionLoader creates a loader. A zero lifetime uses the Strava default.
func NewSessionLoader(grants GrantStore, refresher TokenRefresher, allowlist Allowlist, lifetime time.Duration) *SessionLoader {
	if lifetime <= 0 {
		lifetime = DefaultUpstreamTokenLifetime
	}
	return &SessionLoader{
		grants:    grants,
		refresher: refresher,
		allowlist: allowlist,
		lifetime:  lifetime,
		now:       time.Now,
	}
}

// Authenticate validates token and returns the session it belongs to
func (l *SessionLoader) Authenticate(ctx context.Context, token string) (*Session, error) {
	s, err := l.grants.ValidateAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var props SessionProps
	if err := json.Unmarshal(s.Props, &props); err != nil {
		return nil, fmt.Errorf("decode session props: %w", err)
	}
	if !l.allowlist.Allows(props.UserID) {
		return nil, flowError(ErrAthleteNotAllowed, fmt.Errorf("athlete %s", props.UserID))
	}

	sess := &Session{
		GrantID:  s.Grant.ID,
		ClientID: s.Grant.ClientID,
		Scope:    s.Grant.Scope,
		Props:    props,
	}
	if s.Claims != nil && s.Claims.ExpiresAt != nil {
		sess.ExpiresAt = s.Claims.ExpiresAt.Time
	}

	if l.upstreamExpiring(props, s.Grant.PropsUpdatedAt) {
		log.Ctx(ctx).Debug().Str("grantId", sess.GrantID).Msg("strava token near expiry, refreshing")
		refreshed, err := l.Refresh(ctx, sess)
		if err != nil {
			return nil, err
		}
		sess = refreshed
	}
	return sess, nil
}

// upstreamExpiring prefers the expiry Strava reported and falls back to
// the configured token lifetime counted from the last props update
func (l *SessionLoader) upstreamExpiring(props SessionProps, updatedAt time.Time) bool {
	var deadline time.Time
	switch {
	case props.ExpiresAt > 0:
		deadline = time.Unix(props.ExpiresAt, 0)
	case !updatedAt.IsZero():
		deadline = updatedAt.Add(l.lifetime)
	default:
		return false
	}
	return !l.now().Before(deadline.Add(-TokenExpiryBuffer))
}

// Refresh runs the refresh grant for sess and persists the new tokens.
// Concurrent refreshes of one grant share a single upstream call. When the
// stored tokens already differ from the ones sess holds, another request
// rotated them and the stored props are returned without calling Strava.
func (l *SessionLoader) Refresh(ctx context.Context, sess *Session) (*Session, error) {
	v, err, _ := l.inflight.Do(sess.GrantID, func() (any, error) {
		raw, err := l.grants.LoadGrantProps(ctx, sess.GrantID)
		if err != nil {
			return nil, fmt.Errorf("reload grant: %w", err)
		}
		var current SessionProps
		if err := json.Unmarshal(raw, &current); err != nil {
			return nil, fmt.Errorf("decode session props: %w", err)
		}
		if current.RefreshToken != sess.Props.RefreshToken || current.AccessToken != sess.Props.AccessToken {
			log.Ctx(ctx).Debug().Str("grantId", sess.GrantID).Msg("strava token already refreshed")
			return current, nil
		}

		update, err := l.refresher.Refresh(ctx, current.RefreshToken)
		if err != nil {
			return nil, err
		}
		next := current.WithTokens(update)
		if err := l.grants.UpdateGrantProps(ctx, sess.GrantID, next); err != nil {
			return nil, fmt.Errorf("persist refreshed tokens: %w", err)
		}
		log.Ctx(ctx).Info().Str("grantId", sess.GrantID).Str("athleteId", next.UserID).Msg("strava token refreshed")
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	out := *sess
	out.Props = v.(SessionProps)
	return &out, nil
}

// TokenProvider returns a client.TokenProvider for sess. Invalidating it
// refreshes the session's Strava token.
func (l *SessionLoader) TokenProvider(sess *Session) client.TokenProvider {
	return &sessionTokens{loader: l, sess: sess}
}

type sessionTokens struct {
	loader *SessionLoader
	mu     sync.Mutex
	sess   *Session
}

func (t *sessionTokens) Token() (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &oauth2.Token{AccessToken: t.sess.Props.AccessToken, TokenType: "Bearer"}, nil
}

func (t *sessionTokens) InvalidateToken(ctx context.Context) error {
	t.mu.Lock()
	current := t.sess
	t.mu.Unlock()

	next, err := t.loader.Refresh(ctx, current)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.sess = next
	t.mu.Unlock()
	return nil
}
