package activetoken

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
	txcontext "grantd/pkg/platform/tx"

	"github.com/lib/pq"
)

// PostgresStore persists active tokens in the active_tokens table. Token IDs
// are kept in a text[] column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed active token store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFor(ctx, s.db)
}

func (s *PostgresStore) Create(ctx context.Context, token *models.ActiveToken) error {
	query := `
		INSERT INTO active_tokens (code, access_token, token_ids, refresh_token, client_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			token_ids = EXCLUDED.token_ids,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		token.Code, token.AccessToken, pq.Array(token.TokenIDs), token.RefreshToken,
		token.ClientID, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert active token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Pop(ctx context.Context, code string) (*models.ActiveToken, error) {
	query := `
		DELETE FROM active_tokens
		WHERE code = $1
		RETURNING code, access_token, token_ids, refresh_token, client_id, created_at, expires_at
	`
	var token models.ActiveToken
	err := s.execer(ctx).QueryRowContext(ctx, query, code).Scan(
		&token.Code, &token.AccessToken, pq.Array(&token.TokenIDs), &token.RefreshToken,
		&token.ClientID, &token.CreatedAt, &token.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pop active token: %w", err)
	}
	return &token, nil
}

// Rotate appends the reissue in a single UPDATE; a concurrent Pop that wins
// the row lock leaves nothing to update.
func (s *PostgresStore) Rotate(ctx context.Context, code string, issued models.IssuedToken) error {
	query := `
		UPDATE active_tokens SET
			access_token = $2,
			token_ids = array_append(token_ids, $3),
			refresh_token = $4,
			expires_at = $5
		WHERE code = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		code, issued.AccessToken, issued.TokenID, issued.RefreshToken, issued.ExpiresAt)
	if err != nil {
		return fmt.Errorf("rotate active token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate active token: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("active token not found: %w", sentinel.ErrNotFound)
	}
	return nil
}
