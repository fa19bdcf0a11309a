// Package emailcode implements the emailed one-time code second factor.
package emailcode

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"math"
	"time"

	"github.com/forumkit/twofa/pkg/method"
	"github.com/forumkit/twofa/pkg/notification"
	"github.com/forumkit/twofa/pkg/utils"
)

const (
	MethodID = 2
	Order    = 2

	codeLength = 6

	// codeValidity is how long an emailed code stays usable. The replay
	// gate spans the same window.
	codeValidity = 630 * time.Second
)

// Email sends a one-time code to the user's account address and verifies
// it. Codes are kept in the audit log rather than in the session, so a code
// survives session churn but expires on its own clock.
type Email struct {
	*method.Base
	mailer notification.Mailer
}

func New(base *method.Base, mailer notification.Mailer) *Email {
	return &Email{Base: base, mailer: mailer}
}

func (m *Email) ID() int    { return MethodID }
func (m *Email) Order() int { return Order }

func (m *Email) Definition(lang method.Translator) method.Definition {
	return method.Definition{
		Name:        lang.Get("email_name"),
		Description: lang.Get("email_description"),
	}
}

func (m *Email) CanBeActivated() bool   { return true }
func (m *Email) CanBeDeactivated() bool { return true }
func (m *Email) CanBeManaged() bool     { return false }

func (m *Email) HandleVerification(ctx context.Context, req method.Request) (method.Result, error) {
	blocked, err := m.HasUserReachedMaxAttempts(ctx, req.User.ID)
	if err != nil {
		return method.Result{}, err
	}
	if blocked {
		return method.BlockedResult(m.Lang.Get("verification_blocked_error")), nil
	}

	if code := req.Field("code"); code != "" && req.Confirmed {
		valid, err := m.isCodeValid(ctx, req.User.ID, code)
		if err != nil {
			return method.Result{}, err
		}
		if valid {
			return m.CompleteVerification(ctx, req)
		}

		if err := m.RecordFailedAttempt(ctx, req.User.ID, MethodID); err != nil {
			return method.Result{}, err
		}
		blocked, err := m.HasUserReachedMaxAttempts(ctx, req.User.ID)
		if err != nil {
			return method.Result{}, err
		}
		if blocked {
			return method.BlockedResult(m.Lang.Get("verification_blocked_error")), nil
		}
		return m.verificationForm(req, m.Lang.Get("code_error")), nil
	}

	// First visit sends a code right away; repeat visits inside the rate
	// limit explain the remaining wait instead.
	wait, err := m.rateLimitRemaining(ctx, req.User.ID)
	if err != nil {
		return method.Result{}, err
	}
	if wait > 0 {
		return m.verificationForm(req, m.rateLimitError(wait)), nil
	}

	if err := m.sendCode(ctx, req.User); err != nil {
		return method.Result{}, err
	}
	return m.verificationForm(req), nil
}

func (m *Email) HandleActivation(ctx context.Context, req method.Request) (method.Result, error) {
	var errs []string
	confirming := req.Field("confirm_code") == "1"

	if req.Field("request_code") == "1" && req.Confirmed {
		wait, err := m.rateLimitRemaining(ctx, req.User.ID)
		if err != nil {
			return method.Result{}, err
		}
		if wait > 0 {
			confirming = false
			errs = append(errs, m.rateLimitError(wait))
		} else {
			if err := m.sendCode(ctx, req.User); err != nil {
				return method.Result{}, err
			}
			confirming = true
		}
	}

	if confirming {
		if code := req.Field("code"); code != "" && req.Confirmed {
			valid, err := m.isCodeValid(ctx, req.User.ID, code)
			if err != nil {
				return method.Result{}, err
			}
			if valid {
				return m.CompleteActivation(ctx, req, MethodID, nil)
			}
			errs = append(errs, m.Lang.Get("code_error"))
		}
		return method.FormResult("method_email_activation", m.formParams(req), errs...), nil
	}

	params := m.formParams(req)
	params["request_instruction"] = m.Lang.Get("email_request_instruction", req.User.Email)
	return method.FormResult("method_email_activation_request", params, errs...), nil
}

func (m *Email) HandleDeactivation(ctx context.Context, req method.Request) (method.Result, error) {
	return m.CompleteDeactivation(ctx, req, MethodID)
}

func (m *Email) HandleManagement(ctx context.Context, req method.Request) (method.Result, error) {
	return method.Result{}, nil
}

func (m *Email) verificationForm(req method.Request, errs ...string) method.Result {
	params := m.formParams(req)
	params["instruction"] = m.Lang.Get("email_instruction", utils.ObfuscateEmail(req.User.Email))
	return method.FormResult("method_email_verification", params, errs...)
}

func (m *Email) formParams(req method.Request) map[string]interface{} {
	return map[string]interface{}{
		"obfuscated_email": utils.ObfuscateEmail(req.User.Email),
	}
}

// rateLimitRemaining returns how long the user must wait before another
// code email, zero when one may be sent now.
func (m *Email) rateLimitRemaining(ctx context.Context, userID int64) (time.Duration, error) {
	entry, ok, err := m.Logs.LatestCodeRequest(ctx, userID, m.Settings.EmailCodeRateLimit())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	remaining := m.Settings.EmailCodeRateLimit() - time.Since(entry.InsertedOn)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (m *Email) rateLimitError(wait time.Duration) string {
	minutes := int(math.Ceil(wait.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return m.Lang.Get("email_rate_limited_error", minutes)
}

// sendCode generates a fresh code, records it, and mails it without holding
// up the request. A delivery failure is logged; the user can request a new
// code once the rate limit passes.
func (m *Email) sendCode(ctx context.Context, user method.User) error {
	code, err := utils.RandomNumericCode(codeLength)
	if err != nil {
		return err
	}

	if err := m.Logs.RecordCodeRequest(ctx, user.ID, code); err != nil {
		return err
	}

	subject := m.Lang.Get("email_subject", m.Settings.BoardName)
	body := m.Lang.Get("email_body", user.Username, code, m.Settings.BoardURL)

	go func(ctx context.Context) {
		if err := m.mailer.SendCode(ctx, user.Email, subject, body); err != nil {
			slog.Error("Failed to send verification code email", "err", err, "userID", user.ID)
		}
	}(context.WithoutCancel(ctx))

	return nil
}

// isCodeValid compares the submission against the newest emailed code still
// inside its validity, in constant time, and consumes it on success.
func (m *Email) isCodeValid(ctx context.Context, userID int64, code string) (bool, error) {
	if !isDigits(code, codeLength) {
		return false, nil
	}

	entry, ok, err := m.Logs.LatestCodeRequest(ctx, userID, codeValidity)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	expected := entry.Data["code"]
	if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) != 1 {
		return false, nil
	}

	return m.ConsumeCode(ctx, userID, MethodID, code, codeValidity)
}

func isDigits(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
