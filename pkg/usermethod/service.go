package usermethod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service manages activated second-factor methods per user.
type Service struct {
	repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{repository: repository}
}

// Activate stores a new activated method for the user and raises the
// has-2FA flag.
func (s *Service) Activate(ctx context.Context, userMethod UserMethod) (UserMethod, error) {
	activated, err := s.repository.Activate(ctx, userMethod)
	if err != nil {
		return UserMethod{}, err
	}
	slog.Info("Activated second factor", "userID", activated.UserID, "methodID", activated.MethodID)
	return activated, nil
}

// Deactivate removes an activated method; the flag follows the remaining rows.
func (s *Service) Deactivate(ctx context.Context, userID int64, methodID int) error {
	if err := s.repository.Deactivate(ctx, userID, methodID); err != nil {
		return err
	}
	slog.Info("Deactivated second factor", "userID", userID, "methodID", methodID)
	return nil
}

// FindUserMethods returns the user's activated methods ordered by method id.
func (s *Service) FindUserMethods(ctx context.Context, userID int64) ([]UserMethod, error) {
	userMethods, err := s.repository.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user methods: %w", err)
	}
	return userMethods, nil
}

// Get returns one activated method or ErrNotActivated.
func (s *Service) Get(ctx context.Context, userID int64, methodID int) (UserMethod, error) {
	return s.repository.Get(ctx, userID, methodID)
}

// IsActivated reports whether the user has the given method.
func (s *Service) IsActivated(ctx context.Context, userID int64, methodID int) (bool, error) {
	_, err := s.repository.Get(ctx, userID, methodID)
	if errors.Is(err, ErrNotActivated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasTwoFAEnabled reads the denormalized per-user flag. The flag is what
// request evaluation consults, so it must stay consistent with the rows.
func (s *Service) HasTwoFAEnabled(ctx context.Context, userID int64) (bool, error) {
	enabled, err := s.repository.HasTwoFAEnabled(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to read two-factor flag: %w", err)
	}
	return enabled, nil
}

// RecountFlags repairs any drift between the flags and the method rows.
func (s *Service) RecountFlags(ctx context.Context) (int64, error) {
	changed, err := s.repository.RecountFlags(ctx)
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		slog.Info("Recounted two-factor flags", "changed", changed)
	}
	return changed, nil
}
