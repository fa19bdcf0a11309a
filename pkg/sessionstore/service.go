package sessionstore

import (
	"context"
	"fmt"
)

// Keys stored in session state by the verification flow.
const (
	KeyVerified      = "verified"
	KeyAdminVerified = "admin_verified"
	KeyRedirected    = "redirected"
	KeyTOTPSecret    = "totp_secret_key"
)

// FlagSet is the value stored for boolean session flags.
const FlagSet = "1"

// Service provides typed access to per-session scratch state.
type Service struct {
	repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{repository: repository}
}

// Get returns the value of one key, with ok=false when unset.
func (s *Service) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	fields, err := s.repository.Select(ctx, sessionID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read session state: %w", err)
	}
	value, ok := fields[key]
	return value, ok, nil
}

// IsFlagSet reports whether a boolean flag key is set.
func (s *Service) IsFlagSet(ctx context.Context, sessionID, key string) (bool, error) {
	value, ok, err := s.Get(ctx, sessionID, key)
	if err != nil {
		return false, err
	}
	return ok && value == FlagSet, nil
}

// SetFlag sets a boolean flag key.
func (s *Service) SetFlag(ctx context.Context, sessionID, key string) error {
	return s.Set(ctx, sessionID, map[string]string{key: FlagSet})
}

// Set merges the given fields into the session state.
func (s *Service) Set(ctx context.Context, sessionID string, fields map[string]string) error {
	if err := s.repository.Merge(ctx, sessionID, fields); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

// Clear removes the given keys from the session state.
func (s *Service) Clear(ctx context.Context, sessionID string, keys ...string) error {
	if err := s.repository.DeleteFields(ctx, sessionID, keys); err != nil {
		return fmt.Errorf("failed to clear session state: %w", err)
	}
	return nil
}
