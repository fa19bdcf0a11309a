package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db DBTX
}

func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token Token) (Token, error) {
	query := `
		INSERT INTO twofa_tokens (token_id, user_id, generated_on, expire_on)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Exec(ctx, query, token.ID, token.UserID, token.GeneratedOn, token.ExpireOn)
	if err != nil {
		slog.Error("Failed to create token", "err", err, "userID", token.UserID)
		return Token{}, fmt.Errorf("failed to create token: %w", err)
	}

	return token, nil
}

func (r *PostgresRepository) Get(ctx context.Context, tokenID string) (Token, error) {
	query := `
		SELECT token_id, user_id, generated_on, expire_on
		FROM twofa_tokens
		WHERE token_id = $1
	`

	var token Token
	row := r.db.QueryRow(ctx, query, tokenID)
	err := row.Scan(&token.ID, &token.UserID, &token.GeneratedOn, &token.ExpireOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrTokenNotFound
		}
		slog.Error("Failed to get token", "err", err)
		return Token{}, fmt.Errorf("failed to get token: %w", err)
	}

	return token, nil
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID int64) ([]Token, error) {
	query := `
		SELECT token_id, user_id, generated_on, expire_on
		FROM twofa_tokens
		WHERE user_id = $1
		ORDER BY generated_on DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		slog.Error("Failed to find tokens by user", "err", err, "userID", userID)
		return nil, fmt.Errorf("failed to find tokens by user: %w", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var token Token
		if err := rows.Scan(&token.ID, &token.UserID, &token.GeneratedOn, &token.ExpireOn); err != nil {
			slog.Error("Failed to scan token", "err", err)
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		slog.Error("Error iterating over tokens", "err", err)
		return nil, fmt.Errorf("error iterating over tokens: %w", err)
	}

	return tokens, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID int64, tokenID string) error {
	query := `DELETE FROM twofa_tokens WHERE user_id = $1 AND token_id = $2`

	_, err := r.db.Exec(ctx, query, userID, tokenID)
	if err != nil {
		slog.Error("Failed to delete token", "err", err, "userID", userID)
		return fmt.Errorf("failed to delete token: %w", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteByUserExcept(ctx context.Context, userID int64, keepTokenID string) error {
	query := `DELETE FROM twofa_tokens WHERE user_id = $1 AND token_id <> $2`

	_, err := r.db.Exec(ctx, query, userID, keepTokenID)
	if err != nil {
		slog.Error("Failed to delete user tokens", "err", err, "userID", userID)
		return fmt.Errorf("failed to delete user tokens: %w", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM twofa_tokens WHERE expire_on <= $1`

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		slog.Error("Failed to delete expired tokens", "err", err)
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	return tag.RowsAffected(), nil
}
