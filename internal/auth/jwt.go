package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ctxKey string

const CtxUserID ctxKey = "uid"

// ErrInvalidToken is returned for any access token that fails verification
var ErrInvalidToken = errors.New("invalid access token")

// JWTCfg holds configuration for the access tokens this service issues
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens
	Issuer      string // iss claim, the public URL of this service
	Audience    string // aud claim, the MCP resource URL
}

// AccessClaims are the claims carried by an MCP access token.
// Subject is the Strava athlete id; GrantID points at the stored grant
// holding the encrypted session props.
type AccessClaims struct {
	jwt.RegisteredClaims
	GrantID  string `json:"gid"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// IssueAccessToken signs a new HS256 access token valid for ttl
func IssueAccessToken(cfg JWTCfg, subject, grantID, clientID, scope string, ttl time.Duration) (string, time.Time, error) {
	if cfg.HS256Secret == "" {
		return "", time.Time{}, errors.New("jwt signing secret is not configured")
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		GrantID:  grantID,
		ClientID: clientID,
		Scope:    scope,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.HS256Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies signature, expiry, issuer and audience
func ParseAccessToken(cfg JWTCfg, tok string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &AccessClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		// Verify signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.HS256Secret), nil
	}, opts...)
	if err != nil || !t.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.GrantID == "" {
		return nil, fmt.Errorf("%w: missing sub or gid claim", ErrInvalidToken)
	}
	return claims, nil
}

// WithUserID stores the authenticated athlete id in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxUserID, userID)
}

// UserID extracts the authenticated user ID from request context
// Returns empty string if not authenticated
func UserID(ctx context.Context) string {
	if v := ctx.Value(CtxUserID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
