package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Service wraps a Repository with the throttling and replay rules built on
// top of the raw audit log.
type Service struct {
	repository    Repository
	maxAttempts   int
	lockoutWindow time.Duration
	logMaxAge     time.Duration
	auditMaxAge   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAttempts overrides the failed-attempt threshold.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		s.maxAttempts = n
	}
}

// WithLockoutWindow overrides how far back failed attempts count.
func WithLockoutWindow(d time.Duration) Option {
	return func(s *Service) {
		s.lockoutWindow = d
	}
}

// WithLogMaxAge overrides the retention of the short-lived throttle kinds
// (failed attempts, code requests).
func WithLogMaxAge(d time.Duration) Option {
	return func(s *Service) {
		s.logMaxAge = d
	}
}

// WithAuditMaxAge overrides the retention of successful-attempt entries.
func WithAuditMaxAge(d time.Duration) Option {
	return func(s *Service) {
		s.auditMaxAge = d
	}
}

func NewService(repository Repository, opts ...Option) *Service {
	s := &Service{
		repository:    repository,
		maxAttempts:   5,
		lockoutWindow: 5 * time.Minute,
		logMaxAge:     time.Hour,
		auditMaxAge:   24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordFailedAttempt logs one failed verification attempt for the user.
func (s *Service) RecordFailedAttempt(ctx context.Context, userID int64, methodID int) error {
	_, err := s.repository.Record(ctx, Entry{
		UserID: userID,
		Event:  EventFailedAttempt,
		Data:   map[string]string{"method_id": strconv.Itoa(methodID)},
	})
	if err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return nil
}

// HasReachedMaxAttempts reports whether the user accumulated enough recent
// failures to be blocked from further attempts.
func (s *Service) HasReachedMaxAttempts(ctx context.Context, userID int64) (bool, error) {
	count, err := s.repository.CountSince(ctx, CountSinceParams{
		UserID: userID,
		Event:  EventFailedAttempt,
		Since:  time.Now().UTC().Add(-s.lockoutWindow),
	})
	if err != nil {
		return false, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	return count >= int64(s.maxAttempts), nil
}

// MarkCodeUsed records a successful attempt consuming the given code. It
// returns false when the same code was already consumed by the same method
// inside the window, which callers must treat as a replay.
func (s *Service) MarkCodeUsed(ctx context.Context, userID int64, methodID int, code string, window time.Duration) (bool, error) {
	inserted, err := s.repository.RecordIfDataAbsent(ctx, Entry{
		UserID: userID,
		Event:  EventSuccessfulAttempt,
		Data:   map[string]string{"method_id": strconv.Itoa(methodID), "code": code},
	}, time.Now().UTC().Add(-window))
	if err != nil {
		return false, fmt.Errorf("failed to mark code used: %w", err)
	}
	return inserted, nil
}

// RecordCodeRequest logs that a verification code was generated and sent,
// keeping the code so it can be checked later.
func (s *Service) RecordCodeRequest(ctx context.Context, userID int64, code string) error {
	_, err := s.repository.Record(ctx, Entry{
		UserID: userID,
		Event:  EventCodeRequested,
		Data:   map[string]string{"code": code},
	})
	if err != nil {
		return fmt.Errorf("failed to record code request: %w", err)
	}
	return nil
}

// LatestCodeRequest returns the newest code-request entry not older than
// maxAge, or ok=false when there is none.
func (s *Service) LatestCodeRequest(ctx context.Context, userID int64, maxAge time.Duration) (Entry, bool, error) {
	entries, err := s.repository.SelectSince(ctx, SelectSinceParams{
		UserID: userID,
		Event:  EventCodeRequested,
		Since:  time.Now().UTC().Add(-maxAge),
		Limit:  1,
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to select code requests: %w", err)
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[0], true, nil
}

// RecentEvents lists the newest entries of one kind for audit display.
func (s *Service) RecentEvents(ctx context.Context, userID int64, event string, since time.Time, limit int) ([]Entry, error) {
	entries, err := s.repository.SelectSince(ctx, SelectSinceParams{
		UserID: userID,
		Event:  event,
		Since:  since,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select recent events: %w", err)
	}
	return entries, nil
}

// PurgeShortLivedLogs removes failed-attempt and code-request entries past
// their retention. The lockout and rate-limit windows are far shorter than
// the retention, so purging never changes a throttle decision.
func (s *Service) PurgeShortLivedLogs(ctx context.Context) (int64, error) {
	removed, err := s.repository.DeleteOlderThan(ctx, DeleteOlderThanParams{
		Events: []string{EventFailedAttempt, EventCodeRequested},
		Cutoff: time.Now().UTC().Add(-s.logMaxAge),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge short-lived entries: %w", err)
	}
	return removed, nil
}

// PurgeExpiredThrottleEvents removes successful-attempt entries whose replay
// windows have long passed. These live longer than the throttle kinds so
// they stay inspectable for a day.
func (s *Service) PurgeExpiredThrottleEvents(ctx context.Context) (int64, error) {
	removed, err := s.repository.DeleteOlderThan(ctx, DeleteOlderThanParams{
		Events: []string{EventSuccessfulAttempt},
		Cutoff: time.Now().UTC().Add(-s.auditMaxAge),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired throttle entries: %w", err)
	}
	return removed, nil
}
