package authorizationcode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
	txcontext "grantd/pkg/platform/tx"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PostgresStore persists pending grants in the pending_grants table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed grant store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFor(ctx, s.db)
}

func (s *PostgresStore) Create(ctx context.Context, grant *models.PendingGrant) error {
	query := `
		INSERT INTO pending_grants (code, client_id, redirect_uri, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		grant.Code, grant.ClientID, grant.RedirectURI, grant.CreatedAt, grant.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("authorization code already issued: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert pending grant: %w", err)
	}
	return nil
}

// Pop deletes the row and returns it in one statement; concurrent callers race
// on the row lock and only one receives it.
func (s *PostgresStore) Pop(ctx context.Context, code string, now time.Time) (*models.PendingGrant, error) {
	query := `
		DELETE FROM pending_grants
		WHERE code = $1
		RETURNING code, client_id, redirect_uri, created_at, expires_at
	`
	var grant models.PendingGrant
	err := s.execer(ctx).QueryRowContext(ctx, query, code).Scan(
		&grant.Code, &grant.ClientID, &grant.RedirectURI, &grant.CreatedAt, &grant.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pop pending grant: %w", err)
	}
	if grant.IsExpired(now) {
		return nil, fmt.Errorf("authorization code expired: %w", sentinel.ErrExpired)
	}
	return &grant, nil
}

// DeleteExpired removes grants whose expires_at has passed, using the
// expires_at index.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) ([]*models.PendingGrant, error) {
	query := `
		DELETE FROM pending_grants
		WHERE expires_at <= $1
		RETURNING code, client_id, redirect_uri, created_at, expires_at
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired grants: %w", err)
	}
	defer rows.Close()

	var expired []*models.PendingGrant
	for rows.Next() {
		var grant models.PendingGrant
		if err := rows.Scan(&grant.Code, &grant.ClientID, &grant.RedirectURI, &grant.CreatedAt, &grant.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan expired grant: %w", err)
		}
		expired = append(expired, &grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired grants: %w", err)
	}
	return expired, nil
}
