// Package pgstore persists authorization-server state in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erauner12/strava-mcp/internal/oauthserver"
)

// Store implements oauthserver.Storage on a pgx pool.
// Tables are created by db.Migrate.
type Store struct {
	DB *pgxpool.Pool
}

// New wraps an open pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{DB: pool}
}

var _ oauthserver.Storage = (*Store)(nil)

func (s *Store) CreateClient(ctx context.Context, c *oauthserver.Client) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO oauth_client (client_id, secret_hash, name, redirect_uris, grant_types, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ClientID, c.SecretHash, c.Name, c.RedirectURIs, c.GrantTypes, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("client already exists")
		}
		return err
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*oauthserver.Client, error) {
	var c oauthserver.Client
	err := s.DB.QueryRow(ctx, `
		SELECT client_id, secret_hash, name, redirect_uris, grant_types, created_at
		FROM oauth_client WHERE client_id = $1
	`, clientID).Scan(&c.ClientID, &c.SecretHash, &c.Name, &c.RedirectURIs, &c.GrantTypes, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) SaveGrant(ctx context.Context, g *oauthserver.Grant) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO oauth_grant (id, client_id, user_id, label, scope, sealed_props, props_updated_at, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, g.ID, g.ClientID, g.UserID, g.Label, scopeOrEmpty(g.Scope), g.SealedProps, g.PropsUpdatedAt, g.CreatedAt, g.ExpiresAt)
	return err
}

func (s *Store) GetGrant(ctx context.Context, id string) (*oauthserver.Grant, error) {
	var g oauthserver.Grant
	err := s.DB.QueryRow(ctx, `
		SELECT id, client_id, user_id, label, scope, sealed_props, props_updated_at, created_at, expires_at
		FROM oauth_grant WHERE id = $1
	`, id).Scan(&g.ID, &g.ClientID, &g.UserID, &g.Label, &g.Scope, &g.SealedProps, &g.PropsUpdatedAt, &g.CreatedAt, &g.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *Store) SetGrantProps(ctx context.Context, id string, sealedProps []byte, updatedAt time.Time) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE oauth_grant SET sealed_props = $2, props_updated_at = $3 WHERE id = $1
	`, id, sealedProps, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return oauthserver.ErrNotFound
	}
	return nil
}

func (s *Store) ExtendGrant(ctx context.Context, id string, expiresAt time.Time) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE oauth_grant SET expires_at = $2 WHERE id = $1
	`, id, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return oauthserver.ErrNotFound
	}
	return nil
}

// DeleteGrant removes the grant; codes and refresh tokens cascade
func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM oauth_grant WHERE id = $1`, id)
	return err
}

func (s *Store) SaveAuthorizationCode(ctx context.Context, c *oauthserver.AuthorizationCode) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO oauth_code (code_hash, grant_id, client_id, redirect_uri, code_challenge, code_challenge_method, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.CodeHash, c.GrantID, c.ClientID, c.RedirectURI, c.CodeChallenge, c.CodeChallengeMethod, c.ExpiresAt, c.CreatedAt)
	return err
}

// ConsumeAuthorizationCode deletes and returns the code in one statement,
// so concurrent redemptions cannot both succeed
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*oauthserver.AuthorizationCode, error) {
	var c oauthserver.AuthorizationCode
	err := s.DB.QueryRow(ctx, `
		DELETE FROM oauth_code WHERE code_hash = $1
		RETURNING code_hash, grant_id, client_id, redirect_uri, code_challenge, code_challenge_method, expires_at, created_at
	`, codeHash).Scan(&c.CodeHash, &c.GrantID, &c.ClientID, &c.RedirectURI, &c.CodeChallenge, &c.CodeChallengeMethod, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, t *oauthserver.RefreshToken) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO oauth_refresh_token (token_hash, grant_id, client_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.TokenHash, t.GrantID, t.ClientID, t.ExpiresAt, t.CreatedAt)
	return err
}

func (s *Store) ConsumeRefreshToken(ctx context.Context, tokenHash string) (*oauthserver.RefreshToken, error) {
	var t oauthserver.RefreshToken
	err := s.DB.QueryRow(ctx, `
		DELETE FROM oauth_refresh_token WHERE token_hash = $1
		RETURNING token_hash, grant_id, client_id, expires_at, created_at
	`, tokenHash).Scan(&t.TokenHash, &t.GrantID, &t.ClientID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	total := 0
	for _, stmt := range []string{
		`DELETE FROM oauth_code WHERE expires_at < $1`,
		`DELETE FROM oauth_refresh_token WHERE expires_at < $1`,
		`DELETE FROM oauth_grant WHERE expires_at < $1`,
	} {
		tag, err := tx.Exec(ctx, stmt, now)
		if err != nil {
			return 0, err
		}
		total += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return oauthserver.ErrNotFound
	}
	return err
}

func scopeOrEmpty(scope []string) []string {
	if scope == nil {
		return []string{}
	}
	return scope
}
