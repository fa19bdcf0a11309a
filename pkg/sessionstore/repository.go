package sessionstore

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when a write targets a session row the
// host never created.
var ErrSessionNotFound = errors.New("session not found")

// Repository persists small per-session key/value state inside the host's
// session row. The host owns the row lifecycle: rows exist before any
// write lands here. A session with no stored state reads as an empty map.
type Repository interface {
	Select(ctx context.Context, sessionID string) (map[string]string, error)

	// Merge writes the given fields into the session state, overwriting
	// existing keys and keeping the rest. Returns ErrSessionNotFound when
	// the session row does not exist.
	Merge(ctx context.Context, sessionID string, fields map[string]string) error

	// DeleteFields removes the given keys. Missing keys are ignored.
	DeleteFields(ctx context.Context, sessionID string, keys []string) error
}
