package engine

import (
	"context"
	"log/slog"
	"time"
)

// RunHourlyMaintenance drops the short-lived throttle log kinds past
// retention. Every lockout and rate-limit window is minutes long, so the
// hourly cut never affects a decision.
func (e *Engine) RunHourlyMaintenance(ctx context.Context) error {
	removed, err := e.base.Logs.PurgeShortLivedLogs(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		slog.Info("Purged short-lived log entries", "removed", removed)
	}
	return nil
}

// RunDailyMaintenance drops consumed-code entries past their replay
// windows, drops expired trust tokens, and repairs any drift in the
// per-user two-factor flags.
func (e *Engine) RunDailyMaintenance(ctx context.Context) error {
	removed, err := e.base.Logs.PurgeExpiredThrottleEvents(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		slog.Info("Purged expired throttle entries", "removed", removed)
	}

	removed, err = e.base.Trust.PurgeExpiredTokens(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		slog.Info("Purged expired trust tokens", "removed", removed)
	}

	if _, err := e.base.UserMethods.RecountFlags(ctx); err != nil {
		return err
	}
	return nil
}

// StartMaintenance runs the maintenance loops until the context ends.
func (e *Engine) StartMaintenance(ctx context.Context) {
	go e.loop(ctx, time.Hour, e.RunHourlyMaintenance)
	go e.loop(ctx, 24*time.Hour, e.RunDailyMaintenance)
}

func (e *Engine) loop(ctx context.Context, every time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := run(ctx); err != nil {
				slog.Error("Maintenance run failed", "err", err)
			}
		}
	}
}
