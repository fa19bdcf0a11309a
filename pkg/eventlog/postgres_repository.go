package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
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

// encodeData serializes the data map for the jsonb column. json.Marshal
// orders map keys, so equal maps always serialize to the same string and
// the RecordIfDataAbsent equality check stays reliable. An empty map binds
// SQL NULL; the empty string is not valid jsonb input.
func encodeData(data map[string]string) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry data: %w", err)
	}
	return string(raw), nil
}

func decodeData(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(raw.String), &data); err != nil {
		return nil, fmt.Errorf("failed to decode entry data: %w", err)
	}
	return data, nil
}

func (r *PostgresRepository) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.InsertedOn.IsZero() {
		entry.InsertedOn = time.Now().UTC()
	}

	data, err := encodeData(entry.Data)
	if err != nil {
		return Entry{}, err
	}

	query := `
		INSERT INTO twofa_logs (user_id, event, data, inserted_on)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	row := r.db.QueryRow(ctx, query, entry.UserID, entry.Event, data, entry.InsertedOn)
	if err := row.Scan(&entry.ID); err != nil {
		slog.Error("Failed to record log entry", "err", err, "userID", entry.UserID, "event", entry.Event)
		return Entry{}, fmt.Errorf("failed to record log entry: %w", err)
	}

	return entry, nil
}

func (r *PostgresRepository) RecordIfDataAbsent(ctx context.Context, entry Entry, since time.Time) (bool, error) {
	if entry.InsertedOn.IsZero() {
		entry.InsertedOn = time.Now().UTC()
	}

	data, err := encodeData(entry.Data)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO twofa_logs (user_id, event, data, inserted_on)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM twofa_logs
			WHERE user_id = $1 AND event = $2 AND data IS NOT DISTINCT FROM $3 AND inserted_on >= $5
		)
	`

	tag, err := r.db.Exec(ctx, query, entry.UserID, entry.Event, data, entry.InsertedOn, since)
	if err != nil {
		slog.Error("Failed to record unique log entry", "err", err, "userID", entry.UserID, "event", entry.Event)
		return false, fmt.Errorf("failed to record unique log entry: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) CountSince(ctx context.Context, params CountSinceParams) (int64, error) {
	query := `
		SELECT COUNT(*) FROM twofa_logs
		WHERE user_id = $1 AND event = $2 AND inserted_on >= $3
	`

	var count int64
	row := r.db.QueryRow(ctx, query, params.UserID, params.Event, params.Since)
	if err := row.Scan(&count); err != nil {
		slog.Error("Failed to count log entries", "err", err, "userID", params.UserID, "event", params.Event)
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}

	return count, nil
}

func (r *PostgresRepository) SelectSince(ctx context.Context, params SelectSinceParams) ([]Entry, error) {
	query := `
		SELECT id, user_id, event, data, inserted_on FROM twofa_logs
		WHERE user_id = $1 AND event = $2 AND inserted_on >= $3
		ORDER BY inserted_on DESC
	`
	args := []interface{}{params.UserID, params.Event, params.Since}
	if params.Limit > 0 {
		query += " LIMIT $4"
		args = append(args, params.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to select log entries", "err", err, "userID", params.UserID, "event", params.Event)
		return nil, fmt.Errorf("failed to select log entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var data sql.NullString
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Event, &data, &entry.InsertedOn); err != nil {
			slog.Error("Failed to scan log entry", "err", err)
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entry.Data, err = decodeData(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		slog.Error("Error iterating over log entries", "err", err)
		return nil, fmt.Errorf("error iterating over log entries: %w", err)
	}

	return entries, nil
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, params DeleteOlderThanParams) (int64, error) {
	query := `DELETE FROM twofa_logs WHERE inserted_on < $1`
	args := []interface{}{params.Cutoff}
	if len(params.Events) > 0 {
		query += ` AND event = ANY($2)`
		args = append(args, params.Events)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to delete old log entries", "err", err)
		return 0, fmt.Errorf("failed to delete old log entries: %w", err)
	}

	return tag.RowsAffected(), nil
}
