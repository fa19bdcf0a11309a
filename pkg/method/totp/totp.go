// Package totp implements the authenticator-app second factor.
package totp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/forumkit/twofa/pkg/method"
	"github.com/forumkit/twofa/pkg/sessionstore"
)

const (
	MethodID = 1
	Order    = 1

	period = 30
	skew   = 1

	// replayWindow covers every timestamp a valid code could come from,
	// so a code can never be accepted twice.
	replayWindow = 270 * time.Second
)

// TOTP verifies time-based one-time codes from an authenticator app. The
// shared secret lives in the activated method's data; during enrollment the
// pending secret lives in session storage until the user proves possession.
type TOTP struct {
	*method.Base
}

func New(base *method.Base) *TOTP {
	return &TOTP{Base: base}
}

func (m *TOTP) ID() int    { return MethodID }
func (m *TOTP) Order() int { return Order }

func (m *TOTP) Definition(lang method.Translator) method.Definition {
	return method.Definition{
		Name:        lang.Get("totp_name"),
		Description: lang.Get("totp_description"),
	}
}

func (m *TOTP) CanBeActivated() bool   { return true }
func (m *TOTP) CanBeDeactivated() bool { return true }
func (m *TOTP) CanBeManaged() bool     { return false }

func (m *TOTP) HandleVerification(ctx context.Context, req method.Request) (method.Result, error) {
	blocked, err := m.HasUserReachedMaxAttempts(ctx, req.User.ID)
	if err != nil {
		return method.Result{}, err
	}
	if blocked {
		return method.BlockedResult(m.Lang.Get("verification_blocked_error")), nil
	}

	code := normalizeCode(req.Field("code"))
	if code == "" || !req.Confirmed {
		return m.verificationForm(), nil
	}

	secret, err := m.activatedSecret(ctx, req.User.ID)
	if err != nil {
		return method.Result{}, err
	}

	valid, err := m.isCodeValid(ctx, req.User.ID, code, secret)
	if err != nil {
		return method.Result{}, err
	}
	if !valid {
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
		return m.verificationForm(m.Lang.Get("code_error")), nil
	}

	return m.CompleteVerification(ctx, req)
}

func (m *TOTP) HandleActivation(ctx context.Context, req method.Request) (method.Result, error) {
	secret, err := m.pendingSecret(ctx, req)
	if err != nil {
		return method.Result{}, err
	}

	code := normalizeCode(req.Field("code"))
	if code != "" && req.Confirmed {
		valid, err := m.isCodeValid(ctx, req.User.ID, code, secret)
		if err != nil {
			return method.Result{}, err
		}
		if valid {
			if err := m.Sessions.Clear(ctx, req.SessionID, sessionstore.KeyTOTPSecret); err != nil {
				return method.Result{}, err
			}
			return m.CompleteActivation(ctx, req, MethodID, map[string]string{"secret_key": secret})
		}
		return m.activationForm(req, secret, m.Lang.Get("code_error")), nil
	}

	return m.activationForm(req, secret), nil
}

func (m *TOTP) HandleDeactivation(ctx context.Context, req method.Request) (method.Result, error) {
	return m.CompleteDeactivation(ctx, req, MethodID)
}

func (m *TOTP) HandleManagement(ctx context.Context, req method.Request) (method.Result, error) {
	return method.Result{}, nil
}

func (m *TOTP) verificationForm(errs ...string) method.Result {
	return method.FormResult("method_totp_verification", nil, errs...)
}

func (m *TOTP) activationForm(req method.Request, secret string, errs ...string) method.Result {
	return method.FormResult("method_totp_activation", map[string]interface{}{
		"secret_key":       secret,
		"provisioning_url": m.ProvisioningURL(req.User.Username, secret),
	}, errs...)
}

// activatedSecret reads the shared secret from the user's activated method.
func (m *TOTP) activatedSecret(ctx context.Context, userID int64) (string, error) {
	userMethod, err := m.UserMethods.Get(ctx, userID, MethodID)
	if err != nil {
		return "", fmt.Errorf("failed to load totp secret: %w", err)
	}
	return userMethod.Data["secret_key"], nil
}

// pendingSecret returns the enrollment secret from session storage,
// generating and storing one on first use.
func (m *TOTP) pendingSecret(ctx context.Context, req method.Request) (string, error) {
	secret, ok, err := m.Sessions.Get(ctx, req.SessionID, sessionstore.KeyTOTPSecret)
	if err != nil {
		return "", err
	}
	if ok && secret != "" {
		return secret, nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.Settings.BoardName,
		AccountName: req.User.Username,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	secret = key.Secret()

	err = m.Sessions.Set(ctx, req.SessionID, map[string]string{sessionstore.KeyTOTPSecret: secret})
	if err != nil {
		return "", err
	}
	return secret, nil
}

// isCodeValid checks shape, the TOTP computation and the replay gate. A
// replayed code is invalid even though the computation accepts it.
func (m *TOTP) isCodeValid(ctx context.Context, userID int64, code, secret string) (bool, error) {
	if !isSixDigits(code) {
		return false, nil
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate totp code: %w", err)
	}
	if !valid {
		return false, nil
	}

	return m.ConsumeCode(ctx, userID, MethodID, code, replayWindow)
}

// ProvisioningURL builds the otpauth URI an authenticator app enrolls from.
// Rendering it as a QR image is the host's concern.
func (m *TOTP) ProvisioningURL(username, secret string) string {
	issuer := m.Settings.BoardName
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", "30")
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + username,
		RawQuery: v.Encode(),
	}
	return u.String()
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
