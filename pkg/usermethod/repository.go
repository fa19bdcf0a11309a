package usermethod

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyActivated is returned when the user already has the method.
	ErrAlreadyActivated = errors.New("method already activated")
	// ErrNotActivated is returned when the user does not have the method.
	ErrNotActivated = errors.New("method not activated")
)

// Repository persists activated methods and keeps the per-user has-2FA flag
// consistent with them.
type Repository interface {
	// Activate stores the record and raises the user's flag in one atomic
	// step. Returns ErrAlreadyActivated when the pair already exists.
	Activate(ctx context.Context, userMethod UserMethod) (UserMethod, error)

	// Deactivate removes the record and recomputes the user's flag in one
	// atomic step. Returns ErrNotActivated when the pair does not exist.
	Deactivate(ctx context.Context, userID int64, methodID int) error

	// FindByUser returns the user's activated methods ordered by method id.
	FindByUser(ctx context.Context, userID int64) ([]UserMethod, error)

	// Get returns one record or ErrNotActivated.
	Get(ctx context.Context, userID int64, methodID int) (UserMethod, error)

	// HasTwoFAEnabled reads the denormalized per-user flag.
	HasTwoFAEnabled(ctx context.Context, userID int64) (bool, error)

	// RecountFlags recomputes every user's flag from the activated method
	// rows and returns the number of users whose flag changed.
	RecountFlags(ctx context.Context) (int64, error)
}
