package usermethod

import (
	"context"
	"database/sql"
	"encoding/json"
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

// encodeData serializes the data map for the jsonb column. An empty map
// binds SQL NULL; the empty string is not valid jsonb input.
func encodeData(data map[string]string) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode method data: %w", err)
	}
	return string(raw), nil
}

func decodeData(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(raw.String), &data); err != nil {
		return nil, fmt.Errorf("failed to decode method data: %w", err)
	}
	return data, nil
}

func (r *PostgresRepository) Activate(ctx context.Context, userMethod UserMethod) (UserMethod, error) {
	if userMethod.ActivatedOn.IsZero() {
		userMethod.ActivatedOn = time.Now().UTC()
	}

	data, err := encodeData(userMethod.Data)
	if err != nil {
		return UserMethod{}, err
	}

	// The CTE makes the row insert and the flag update one atomic statement.
	query := `
		WITH ins AS (
			INSERT INTO twofa_user_methods (user_id, method_id, data, activated_on)
			VALUES ($1, $2, $3, $4)
			RETURNING user_id
		)
		UPDATE users SET has_twofa = TRUE
		WHERE id IN (SELECT user_id FROM ins)
	`

	_, err = r.db.Exec(ctx, query, userMethod.UserID, userMethod.MethodID, data, userMethod.ActivatedOn)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return UserMethod{}, ErrAlreadyActivated
		}
		slog.Error("Failed to activate method", "err", err, "userID", userMethod.UserID, "methodID", userMethod.MethodID)
		return UserMethod{}, fmt.Errorf("failed to activate method: %w", err)
	}

	return userMethod, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, userID int64, methodID int) error {
	// The flag check excludes the row being deleted because the outer
	// query does not see the CTE's effects.
	query := `
		WITH del AS (
			DELETE FROM twofa_user_methods
			WHERE user_id = $1 AND method_id = $2
			RETURNING user_id
		)
		UPDATE users SET has_twofa = EXISTS (
			SELECT 1 FROM twofa_user_methods
			WHERE user_id = $1 AND method_id <> $2
		)
		WHERE id IN (SELECT user_id FROM del)
	`

	tag, err := r.db.Exec(ctx, query, userID, methodID)
	if err != nil {
		slog.Error("Failed to deactivate method", "err", err, "userID", userID, "methodID", methodID)
		return fmt.Errorf("failed to deactivate method: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotActivated
	}
	return nil
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID int64) ([]UserMethod, error) {
	query := `
		SELECT user_id, method_id, data, activated_on
		FROM twofa_user_methods
		WHERE user_id = $1
		ORDER BY method_id
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		slog.Error("Failed to find user methods", "err", err, "userID", userID)
		return nil, fmt.Errorf("failed to find user methods: %w", err)
	}
	defer rows.Close()

	var userMethods []UserMethod
	for rows.Next() {
		var um UserMethod
		var data sql.NullString
		if err := rows.Scan(&um.UserID, &um.MethodID, &data, &um.ActivatedOn); err != nil {
			slog.Error("Failed to scan user method", "err", err)
			return nil, fmt.Errorf("failed to scan user method: %w", err)
		}
		um.Data, err = decodeData(data)
		if err != nil {
			return nil, err
		}
		userMethods = append(userMethods, um)
	}

	if err := rows.Err(); err != nil {
		slog.Error("Error iterating over user methods", "err", err)
		return nil, fmt.Errorf("error iterating over user methods: %w", err)
	}

	return userMethods, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID int64, methodID int) (UserMethod, error) {
	query := `
		SELECT user_id, method_id, data, activated_on
		FROM twofa_user_methods
		WHERE user_id = $1 AND method_id = $2
	`

	var um UserMethod
	var data sql.NullString
	row := r.db.QueryRow(ctx, query, userID, methodID)
	err := row.Scan(&um.UserID, &um.MethodID, &data, &um.ActivatedOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserMethod{}, ErrNotActivated
		}
		slog.Error("Failed to get user method", "err", err, "userID", userID, "methodID", methodID)
		return UserMethod{}, fmt.Errorf("failed to get user method: %w", err)
	}

	um.Data, err = decodeData(data)
	if err != nil {
		return UserMethod{}, err
	}
	return um, nil
}

func (r *PostgresRepository) HasTwoFAEnabled(ctx context.Context, userID int64) (bool, error) {
	query := `SELECT has_twofa FROM users WHERE id = $1`

	var enabled bool
	row := r.db.QueryRow(ctx, query, userID)
	if err := row.Scan(&enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		slog.Error("Failed to read user flag", "err", err, "userID", userID)
		return false, fmt.Errorf("failed to read user flag: %w", err)
	}

	return enabled, nil
}

func (r *PostgresRepository) RecountFlags(ctx context.Context) (int64, error) {
	query := `
		UPDATE users SET has_twofa = EXISTS (
			SELECT 1 FROM twofa_user_methods m WHERE m.user_id = users.id
		)
		WHERE has_twofa <> EXISTS (
			SELECT 1 FROM twofa_user_methods m WHERE m.user_id = users.id
		)
	`

	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		slog.Error("Failed to recount user flags", "err", err)
		return 0, fmt.Errorf("failed to recount user flags: %w", err)
	}

	return tag.RowsAffected(), nil
}
