// Package credentials persists third-party API tokens in the database so
// long-lived secrets can be rotated without redeploying either binary.
package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"adforge/internal/infra"
)

const (
	ProviderMeta = "meta"
)

const schema = `
CREATE TABLE IF NOT EXISTS integration_tokens (
    provider   text PRIMARY KEY,
    token      text NOT NULL,
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now()
);
`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) MetaAccessToken(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderMeta)
}

// Token returns the stored token for a provider, or empty when none is set.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	query := `
SELECT token
FROM integration_tokens
WHERE provider = $1
LIMIT 1;
`
	var token string
	if err := s.pool.QueryRow(ctx, query, provider).Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetMetaAccessToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("meta access token is required")
	}
	return s.upsert(ctx, ProviderMeta, token)
}

func (s *Store) upsert(ctx context.Context, provider, token string) error {
	query := `
INSERT INTO integration_tokens (provider, token)
VALUES ($1, $2)
ON CONFLICT (provider) DO UPDATE SET
    token = excluded.token,
    updated_at = now();
`
	_, err := s.pool.Exec(ctx, query, provider, token)
	return err
}
