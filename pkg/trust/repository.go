package trust

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound is returned when a token id does not exist.
var ErrTokenNotFound = errors.New("token not found")

// Repository persists trusted-device tokens.
type Repository interface {
	Create(ctx context.Context, token Token) (Token, error)

	// Get returns the token with the given id or ErrTokenNotFound.
	Get(ctx context.Context, tokenID string) (Token, error)

	// FindByUser returns the user's tokens newest first.
	FindByUser(ctx context.Context, userID int64) ([]Token, error)

	// Delete removes one token belonging to the user. Missing tokens are
	// not an error.
	Delete(ctx context.Context, userID int64, tokenID string) error

	// DeleteByUserExcept removes all of the user's tokens except the one
	// with keepTokenID. An empty keepTokenID removes them all.
	DeleteByUserExcept(ctx context.Context, userID int64, keepTokenID string) error

	// DeleteExpired removes tokens past expiry and returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
