package sessionstore

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execRecorderDB captures the arguments bound to Exec so tests can check
// what would reach the server.
type execRecorderDB struct {
	query string
	args  []interface{}
	tag   string
}

func (d *execRecorderDB) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	d.query = query
	d.args = args
	return pgconn.NewCommandTag(d.tag), nil
}

func (d *execRecorderDB) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (d *execRecorderDB) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	return nil
}

func TestMergeBindsEncodedFields(t *testing.T) {
	ctx := context.Background()
	db := &execRecorderDB{tag: "UPDATE 1"}
	repo := NewPostgresRepository(db)

	err := repo.Merge(ctx, "sess-1", map[string]string{KeyVerified: "1"})
	require.NoError(t, err)
	require.Len(t, db.args, 2)
	assert.Equal(t, "sess-1", db.args[0])
	assert.Equal(t, `{"`+KeyVerified+`":"1"}`, db.args[1])
}

func TestMergeReportsMissingSessionRow(t *testing.T) {
	ctx := context.Background()
	db := &execRecorderDB{tag: "UPDATE 0"}
	repo := NewPostgresRepository(db)

	// The host owns the session rows; a write against a row that is not
	// there must surface instead of vanishing.
	err := repo.Merge(ctx, "gone", map[string]string{KeyVerified: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
