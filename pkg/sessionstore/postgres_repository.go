package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository over the sessions table's
// twofa_storage jsonb column.
type PostgresRepository struct {
	db DBTX
}

func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Select(ctx context.Context, sessionID string) (map[string]string, error) {
	query := `SELECT twofa_storage FROM sessions WHERE session_id = $1`

	var raw sql.NullString
	row := r.db.QueryRow(ctx, query, sessionID)
	err := row.Scan(&raw)
	if err != nil {
		// An unknown session has no state
		if err == pgx.ErrNoRows {
			return map[string]string{}, nil
		}
		slog.Error("Failed to select session storage", "err", err)
		return nil, fmt.Errorf("failed to select session storage: %w", err)
	}

	if !raw.Valid || raw.String == "" {
		return map[string]string{}, nil
	}

	fields := map[string]string{}
	if err := json.Unmarshal([]byte(raw.String), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode session storage: %w", err)
	}
	return fields, nil
}

func (r *PostgresRepository) Merge(ctx context.Context, sessionID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode session fields: %w", err)
	}

	query := `
		UPDATE sessions
		SET twofa_storage = COALESCE(twofa_storage, '{}'::jsonb) || $2::jsonb
		WHERE session_id = $1
	`

	tag, err := r.db.Exec(ctx, query, sessionID, string(raw))
	if err != nil {
		slog.Error("Failed to merge session storage", "err", err)
		return fmt.Errorf("failed to merge session storage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("Session row missing on merge", "sessionID", sessionID)
		return fmt.Errorf("failed to merge session storage for %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

func (r *PostgresRepository) DeleteFields(ctx context.Context, sessionID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	query := `
		UPDATE sessions
		SET twofa_storage = COALESCE(twofa_storage, '{}'::jsonb) - $2::text[]
		WHERE session_id = $1
	`

	_, err := r.db.Exec(ctx, query, sessionID, keys)
	if err != nil {
		slog.Error("Failed to delete session storage fields", "err", err)
		return fmt.Errorf("failed to delete session storage fields: %w", err)
	}
	return nil
}
