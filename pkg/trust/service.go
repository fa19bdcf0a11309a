package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forumkit/twofa/pkg/utils"
)

// Service manages the trusted-device token lifecycle.
type Service struct {
	repository Repository
	duration   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithDuration overrides the token lifetime.
func WithDuration(d time.Duration) Option {
	return func(s *Service) {
		s.duration = d
	}
}

func NewService(repository Repository, opts ...Option) *Service {
	s := &Service{
		repository: repository,
		duration:   30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a new token for the user, valid from now for the configured
// duration.
func (s *Service) Issue(ctx context.Context, userID int64) (Token, error) {
	id, err := utils.RandomHex(TokenIDBytes)
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate token id: %w", err)
	}

	now := time.Now().UTC()
	token := Token{
		ID:          id,
		UserID:      userID,
		GeneratedOn: now,
		ExpireOn:    now.Add(s.duration),
	}

	token, err = s.repository.Create(ctx, token)
	if err != nil {
		return Token{}, fmt.Errorf("failed to store token: %w", err)
	}

	slog.Debug("Issued trusted device token", "userID", userID, "expireOn", token.ExpireOn.Format(time.RFC3339))
	return token, nil
}

// IsTrusted reports whether the presented token id grants trust for the
// user: it must exist, belong to the user and not be expired. An unknown or
// foreign token is not an error, just untrusted.
func (s *Service) IsTrusted(ctx context.Context, tokenID string, userID int64) (bool, error) {
	if tokenID == "" {
		return false, nil
	}

	token, err := s.repository.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up token: %w", err)
	}

	if token.UserID != userID {
		slog.Warn("Token presented by wrong user", "userID", userID, "tokenUserID", token.UserID)
		return false, nil
	}

	return !token.Expired(time.Now().UTC()), nil
}

// ListUserTokens returns the user's tokens newest first, for the device
// management screen.
func (s *Service) ListUserTokens(ctx context.Context, userID int64) ([]Token, error) {
	tokens, err := s.repository.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user tokens: %w", err)
	}
	return tokens, nil
}

// RevokeCurrentDevice removes the token the device presented.
func (s *Service) RevokeCurrentDevice(ctx context.Context, userID int64, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	if err := s.repository.Delete(ctx, userID, tokenID); err != nil {
		return fmt.Errorf("failed to revoke current device: %w", err)
	}
	return nil
}

// RevokeOtherDevices removes every token of the user except the one the
// device presented.
func (s *Service) RevokeOtherDevices(ctx context.Context, userID int64, keepTokenID string) error {
	if err := s.repository.DeleteByUserExcept(ctx, userID, keepTokenID); err != nil {
		return fmt.Errorf("failed to revoke other devices: %w", err)
	}
	return nil
}

// RevokeAll removes every token of the user, used when two-factor is fully
// deactivated.
func (s *Service) RevokeAll(ctx context.Context, userID int64) error {
	if err := s.repository.DeleteByUserExcept(ctx, userID, ""); err != nil {
		return fmt.Errorf("failed to revoke all devices: %w", err)
	}
	return nil
}

// PurgeExpiredTokens removes tokens past expiry.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	removed, err := s.repository.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	return removed, nil
}
