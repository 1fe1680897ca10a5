package refreshtoken

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
	txcontext "grantd/pkg/platform/tx"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PostgresStore persists refresh tokens in the refresh_tokens table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed refresh token store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFor(ctx, s.db)
}

func (s *PostgresStore) Create(ctx context.Context, token *models.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (token, client_id, code, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, token.Token, token.ClientID, token.Code, token.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("refresh token already issued: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Pop(ctx context.Context, token string) (*models.RefreshTokenRecord, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE token = $1
		RETURNING token, client_id, code, created_at
	`
	var record models.RefreshTokenRecord
	err := s.execer(ctx).QueryRowContext(ctx, query, token).Scan(
		&record.Token, &record.ClientID, &record.Code, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pop refresh token: %w", err)
	}
	return &record, nil
}
