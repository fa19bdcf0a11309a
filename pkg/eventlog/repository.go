package eventlog

import (
	"context"
	"time"
)

// CountSinceParams narrows a count to one user, one event kind and a
// lower time bound.
type CountSinceParams struct {
	UserID int64
	Event  string
	Since  time.Time
}

// SelectSinceParams selects entries newest first. Limit <= 0 means no limit.
type SelectSinceParams struct {
	UserID int64
	Event  string
	Since  time.Time
	Limit  int
}

// DeleteOlderThanParams bounds a purge. An empty Events list covers every
// event kind.
type DeleteOlderThanParams struct {
	Events []string
	Cutoff time.Time
}

// Repository persists audit log entries.
type Repository interface {
	// Record inserts an entry and returns it with ID and InsertedOn set.
	// A zero InsertedOn is replaced with the current time.
	Record(ctx context.Context, entry Entry) (Entry, error)

	// RecordIfDataAbsent inserts the entry only when no entry with the
	// same user, event and data exists at or after since. It reports
	// whether the insert happened. The check and insert are atomic.
	RecordIfDataAbsent(ctx context.Context, entry Entry, since time.Time) (bool, error)

	CountSince(ctx context.Context, params CountSinceParams) (int64, error)
	SelectSince(ctx context.Context, params SelectSinceParams) ([]Entry, error)

	// DeleteOlderThan removes entries of the given kinds inserted before
	// the cutoff and returns the number removed.
	DeleteOlderThan(ctx context.Context, params DeleteOlderThanParams) (int64, error)
}
