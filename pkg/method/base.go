package method

import (
	"context"
	"fmt"
	"time"

	"github.com/forumkit/twofa/pkg/config"
	"github.com/forumkit/twofa/pkg/eventlog"
	"github.com/forumkit/twofa/pkg/sessionstore"
	"github.com/forumkit/twofa/pkg/trust"
	"github.com/forumkit/twofa/pkg/usermethod"
)

// Base bundles the services every method needs and the flow steps shared by
// all of them. Concrete methods embed it.
type Base struct {
	Logs        *eventlog.Service
	Trust       *trust.Service
	Sessions    *sessionstore.Service
	UserMethods *usermethod.Service
	Settings    config.Settings
	Lang        Translator
}

// HasUserReachedMaxAttempts reports whether the user is currently locked
// out of verification attempts.
func (b *Base) HasUserReachedMaxAttempts(ctx context.Context, userID int64) (bool, error) {
	return b.Logs.HasReachedMaxAttempts(ctx, userID)
}

// RecordFailedAttempt logs one failed attempt against the method.
func (b *Base) RecordFailedAttempt(ctx context.Context, userID int64, methodID int) error {
	return b.Logs.RecordFailedAttempt(ctx, userID, methodID)
}

// ConsumeCode records a successful attempt with the code it used. It
// returns false when the code was already consumed inside the window;
// callers must then treat the attempt as failed.
func (b *Base) ConsumeCode(ctx context.Context, userID int64, methodID int, code string, window time.Duration) (bool, error) {
	return b.Logs.MarkCodeUsed(ctx, userID, methodID, code, window)
}

// DeviceTrustingAllowed reports whether this request may mark its device
// trusted.
func (b *Base) DeviceTrustingAllowed(admin bool) bool {
	if !b.Settings.EnableDeviceTrusting {
		return false
	}
	if admin && b.Settings.DisableDeviceTrustingInAdmin {
		return false
	}
	return true
}

// CompleteVerification finishes a successful verification: it marks the
// session verified, optionally issues a trusted device token, and redirects
// the user back to where they were headed.
func (b *Base) CompleteVerification(ctx context.Context, req Request) (Result, error) {
	var issued *trust.Token
	if b.DeviceTrustingAllowed(req.Admin) && req.Field("trust_device") == "1" {
		token, err := b.Trust.Issue(ctx, req.User.ID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to issue device token: %w", err)
		}
		issued = &token
	}

	flag := sessionstore.KeyVerified
	if req.Admin {
		flag = sessionstore.KeyAdminVerified
	}
	if err := b.Sessions.SetFlag(ctx, req.SessionID, flag); err != nil {
		return Result{}, err
	}

	result := RedirectResult(SanitizeRedirectTarget(req.RedirectTarget), b.Lang.Get("verified_success"))
	result.TrustToken = issued
	return result, nil
}

// CompleteActivation finishes a successful activation: it stores the
// activated method with its data, marks the session verified so the user is
// not immediately challenged, and redirects back to the setup page.
func (b *Base) CompleteActivation(ctx context.Context, req Request, methodID int, data map[string]string) (Result, error) {
	verified, err := b.Sessions.IsFlagSet(ctx, req.SessionID, sessionstore.KeyVerified)
	if err != nil {
		return Result{}, err
	}
	if !verified {
		if err := b.Sessions.SetFlag(ctx, req.SessionID, sessionstore.KeyVerified); err != nil {
			return Result{}, err
		}
	}

	_, err = b.UserMethods.Activate(ctx, usermethod.UserMethod{
		UserID:   req.User.ID,
		MethodID: methodID,
		Data:     data,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to activate method: %w", err)
	}

	return RedirectResult(SanitizeRedirectTarget(req.SetupTarget), b.Lang.Get("activated_success")), nil
}

// CompleteDeactivation removes the activated method and redirects back to
// the setup page. Removing the last method also revokes every trusted
// device, so re-enabling later starts without stale trust.
func (b *Base) CompleteDeactivation(ctx context.Context, req Request, methodID int) (Result, error) {
	if err := b.UserMethods.Deactivate(ctx, req.User.ID, methodID); err != nil {
		return Result{}, fmt.Errorf("failed to deactivate method: %w", err)
	}

	enabled, err := b.UserMethods.HasTwoFAEnabled(ctx, req.User.ID)
	if err != nil {
		return Result{}, err
	}
	if !enabled {
		if err := b.Trust.RevokeAll(ctx, req.User.ID); err != nil {
			return Result{}, err
		}
	}

	return RedirectResult(SanitizeRedirectTarget(req.SetupTarget), b.Lang.Get("deactivated_success")), nil
}
