package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumkit/twofa/pkg/config"
	"github.com/forumkit/twofa/pkg/eventlog"
	"github.com/forumkit/twofa/pkg/method"
	emailmethod "github.com/forumkit/twofa/pkg/method/emailcode"
	skeletonmethod "github.com/forumkit/twofa/pkg/method/skeleton"
	totpmethod "github.com/forumkit/twofa/pkg/method/totp"
	"github.com/forumkit/twofa/pkg/notification"
	"github.com/forumkit/twofa/pkg/sessionstore"
	"github.com/forumkit/twofa/pkg/trust"
	"github.com/forumkit/twofa/pkg/usermethod"
)

type testEnv struct {
	engine      *Engine
	base        *method.Base
	mailer      *notification.MockMailer
	logRepo     *eventlog.InMemRepository
	userMethods *usermethod.InMemRepository
	settings    config.Settings
}

func testSettings() config.Settings {
	return config.Settings{
		BoardName:                    "Testboard",
		BoardURL:                     "https://board.test",
		MaxVerificationAttempts:      5,
		LockoutWindowSeconds:         300,
		EnableDeviceTrusting:         true,
		DeviceTrustingDurationDays:   30,
		EnableAdminIntegration:       true,
		DisableDeviceTrustingInAdmin: true,
		EmailCodeRateLimitSeconds:    120,
		ForcedGroupIDs:               []int64{9},
		PostCodeSecret:               "test-secret",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	settings := testSettings()

	logRepo := eventlog.NewInMemRepository()
	userMethodRepo := usermethod.NewInMemRepository()
	mailer := notification.NewMockMailer()

	base := &method.Base{
		Logs: eventlog.NewService(logRepo,
			eventlog.WithMaxAttempts(settings.MaxVerificationAttempts),
			eventlog.WithLockoutWindow(settings.LockoutWindow()),
		),
		Trust:       trust.NewService(trust.NewInMemRepository(), trust.WithDuration(settings.DeviceTrustingDuration())),
		Sessions:    sessionstore.NewService(sessionstore.NewInMemRepository()),
		UserMethods: usermethod.NewService(userMethodRepo),
		Settings:    settings,
		Lang:        method.DefaultTranslator(),
	}

	registry, err := method.NewRegistry(
		totpmethod.New(base),
		emailmethod.New(base, mailer),
		skeletonmethod.New(base),
	)
	require.NoError(t, err)

	return &testEnv{
		engine:      New(registry, base),
		base:        base,
		mailer:      mailer,
		logRepo:     logRepo,
		userMethods: userMethodRepo,
		settings:    settings,
	}
}

func newRequest(env *testEnv, user method.User, sessionID string, input map[string]string) method.Request {
	if input == nil {
		input = map[string]string{}
	}
	if _, ok := input["post_code"]; !ok {
		input["post_code"] = env.engine.GeneratePostCode(sessionID, user.ID)
	}
	return method.Request{
		User:      user,
		SessionID: sessionID,
		Input:     input,
	}
}

func totpCode(t *testing.T, secret string) string {
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestEvaluateRequestWithoutTwoFA(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	eval, err := env.engine.EvaluateRequest(ctx, method.Request{
		User:      method.User{ID: 1, HasTwoFA: false},
		SessionID: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, eval.Outcome)
}

func TestEvaluateRequestRedirectsOnceThenDowngrades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, HasTwoFA: true}
	sid := uuid.NewString()

	eval, err := env.engine.EvaluateRequest(ctx, method.Request{User: user, SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectToVerification, eval.Outcome)
	assert.Equal(t, "/2fa/verification", eval.RedirectTarget)

	// The user keeps browsing without verifying
	eval, err = env.engine.EvaluateRequest(ctx, method.Request{User: user, SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerificationPending, eval.Outcome)
	assert.True(t, eval.DowngradePrivileges)
	assert.NotEmpty(t, eval.PostCode)
}

func TestEvaluateRequestPersistsDeviceTrust(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, HasTwoFA: true}
	sid := uuid.NewString()

	token, err := env.base.Trust.Issue(ctx, user.ID)
	require.NoError(t, err)

	eval, err := env.engine.EvaluateRequest(ctx, method.Request{User: user, SessionID: sid, TrustTokenID: token.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, eval.Outcome)

	// Trust was copied onto the session: the token is no longer needed
	eval, err = env.engine.EvaluateRequest(ctx, method.Request{User: user, SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, eval.Outcome)
}

func TestEvaluateRequestForcedEnrollment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	eval, err := env.engine.EvaluateRequest(ctx, method.Request{
		User:      method.User{ID: 1, GroupIDs: []int64{9}},
		SessionID: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectToSetup, eval.Outcome)
	assert.Equal(t, "/2fa/setup", eval.RedirectTarget)

	// Members of other groups are not redirected
	eval, err = env.engine.EvaluateRequest(ctx, method.Request{
		User:      method.User{ID: 2, GroupIDs: []int64{4}},
		SessionID: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, eval.Outcome)
}

func TestOnLoginCompleteResetsRedirectMarker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, HasTwoFA: true}
	sid := uuid.NewString()

	eval, err := env.engine.EvaluateRequest(ctx, method.Request{User: user, SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectToVerification, eval.Outcome)

	require.NoError(t, env.engine.OnLoginComplete(ctx, method.Request{User: user, SessionID: sid}))

	eval, err = env.engine.EvaluateRequest(ctx, method.Request{User: user, SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectToVerification, eval.Outcome)
}

func TestAdminSessionKeepsOwnTrustState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, HasTwoFA: true}
	sid := uuid.NewString()

	// Verify the regular session
	require.NoError(t, env.base.Sessions.SetFlag(ctx, sid, sessionstore.KeyVerified))

	required, err := env.engine.IsVerificationRequired(ctx, method.Request{User: user, SessionID: sid})
	require.NoError(t, err)
	assert.False(t, required)

	// The admin area still demands its own verification
	required, err = env.engine.IsVerificationRequired(ctx, method.Request{User: user, SessionID: sid, Admin: true})
	require.NoError(t, err)
	assert.True(t, required)

	// Device tokens do not satisfy admin verification while disabled there
	token, err := env.base.Trust.Issue(ctx, user.ID)
	require.NoError(t, err)
	required, err = env.engine.IsVerificationRequired(ctx, method.Request{User: user, SessionID: sid, Admin: true, TrustTokenID: token.ID})
	require.NoError(t, err)
	assert.True(t, required)
}

func activateTOTP(t *testing.T, env *testEnv, user method.User, sid string) string {
	ctx := context.Background()

	req := newRequest(env, user, sid, map[string]string{"method": "1", "activate": "1"})
	result, err := env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindForm, result.Kind)
	assert.Equal(t, "method_totp_activation", result.Fragment.Template)

	secret, ok := result.Fragment.Params["secret_key"].(string)
	require.True(t, ok)
	require.NotEmpty(t, secret)
	assert.Contains(t, result.Fragment.Params["provisioning_url"], "otpauth://totp/")

	req = newRequest(env, user, sid, map[string]string{"method": "1", "activate": "1", "code": totpCode(t, secret)})
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)
	assert.Equal(t, "/2fa/setup", result.Redirect.Target)

	return secret
}

func TestTOTPActivationAndVerificationFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	secret := activateTOTP(t, env, user, uuid.NewString())

	enabled, err := env.base.UserMethods.HasTwoFAEnabled(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	stored, err := env.base.UserMethods.Get(ctx, user.ID, totpmethod.MethodID)
	require.NoError(t, err)
	assert.Equal(t, secret, stored.Data["secret_key"])

	// A new session must verify
	user.HasTwoFA = true
	sid := uuid.NewString()
	code := totpCode(t, secret)

	req := newRequest(env, user, sid, map[string]string{
		"method":       "1",
		"verify":       "1",
		"code":         code,
		"trust_device": "1",
	})
	req.RedirectTarget = "/forum/thread-42"
	result, err := env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)
	assert.Equal(t, "/forum/thread-42", result.Redirect.Target)
	require.NotNil(t, result.TrustToken)

	// Session is now verified
	required, err := env.engine.IsVerificationRequired(ctx, method.Request{User: user, SessionID: sid})
	require.NoError(t, err)
	assert.False(t, required)

	// The issued token trusts the device for other sessions
	trusted, err := env.base.Trust.IsTrusted(ctx, result.TrustToken.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, trusted)

	// Replaying the same code in another session fails and counts as an attempt
	otherSid := uuid.NewString()
	req = newRequest(env, user, otherSid, map[string]string{"method": "1", "verify": "1", "code": code})
	result, err = env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindForm, result.Kind)
	assert.NotEmpty(t, result.Fragment.Errors)

	failures, err := env.logRepo.CountSince(ctx, eventlog.CountSinceParams{
		UserID: user.ID,
		Event:  eventlog.EventFailedAttempt,
		Since:  time.Time{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), failures)
}

func TestVerificationBlocksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	activateTOTP(t, env, user, uuid.NewString())
	user.HasTwoFA = true

	sid := uuid.NewString()
	var result method.Result
	var err error
	for i := 0; i < env.settings.MaxVerificationAttempts; i++ {
		req := newRequest(env, user, sid, map[string]string{"method": "1", "verify": "1", "code": "000000"})
		result, err = env.engine.GetVerificationForm(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, method.KindBlocked, result.Kind)

	// Blocked attempts are rejected up front and not recorded
	req := newRequest(env, user, sid, map[string]string{"method": "1", "verify": "1", "code": "000000"})
	result, err = env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, method.KindBlocked, result.Kind)

	failures, err := env.logRepo.CountSince(ctx, eventlog.CountSinceParams{
		UserID: user.ID,
		Event:  eventlog.EventFailedAttempt,
		Since:  time.Time{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(env.settings.MaxVerificationAttempts), failures)
}

func TestInvalidPostCodeRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	activateTOTP(t, env, user, uuid.NewString())
	user.HasTwoFA = true

	req := method.Request{
		User:      user,
		SessionID: uuid.NewString(),
		Input:     map[string]string{"method": "1", "verify": "1", "code": "123456", "post_code": "forged"},
	}
	_, err := env.engine.GetVerificationForm(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidPostCode)
}

func TestVerificationListingShowsOnlyActivatedMethods(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	activateTOTP(t, env, user, uuid.NewString())
	user.HasTwoFA = true

	// No method selected falls back to the listing
	req := newRequest(env, user, uuid.NewString(), nil)
	result, err := env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindForm, result.Kind)
	assert.Equal(t, "verification_method_listing", result.Fragment.Template)

	summaries, ok := result.Fragment.Params["methods"].([]MethodSummary)
	require.True(t, ok)
	require.Len(t, summaries, 1)
	assert.Equal(t, totpmethod.MethodID, summaries[0].ID)

	// Selecting a method the user never activated falls back too
	req = newRequest(env, user, uuid.NewString(), map[string]string{"method": "2", "verify": "1"})
	result, err = env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "verification_method_listing", result.Fragment.Template)
}

func TestRedirectTargetIsSanitized(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	secret := activateTOTP(t, env, user, uuid.NewString())
	user.HasTwoFA = true

	req := newRequest(env, user, uuid.NewString(), map[string]string{
		"method": "1",
		"verify": "1",
		"code":   totpCode(t, secret),
	})
	req.RedirectTarget = "https://evil.example/phish"
	result, err := env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)
	assert.Equal(t, "/", result.Redirect.Target)
}

func TestEmailActivationFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	sid := uuid.NewString()

	// Activate the email method: request a code, then confirm it
	req := newRequest(env, user, sid, map[string]string{"method": "2", "activate": "1"})
	result, err := env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "method_email_activation_request", result.Fragment.Template)

	req = newRequest(env, user, sid, map[string]string{"method": "2", "activate": "1", "request_code": "1"})
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "method_email_activation", result.Fragment.Template)

	entry, ok, err := env.base.Logs.LatestCodeRequest(ctx, user.ID, 630*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	code := entry.Data["code"]

	require.Eventually(t, func() bool {
		sent, ok := env.mailer.LastSent()
		return ok && sent.To == user.Email
	}, time.Second, 10*time.Millisecond)

	req = newRequest(env, user, sid, map[string]string{"method": "2", "activate": "1", "confirm_code": "1", "code": code})
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	activated, err := env.base.UserMethods.IsActivated(ctx, user.ID, emailmethod.MethodID)
	require.NoError(t, err)
	assert.True(t, activated)
}

func TestEmailVerificationFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com", HasTwoFA: true}
	_, err := env.base.UserMethods.Activate(ctx, usermethod.UserMethod{UserID: user.ID, MethodID: emailmethod.MethodID})
	require.NoError(t, err)

	// A fresh verification visit emails a new code right away
	verifySid := uuid.NewString()
	req := newRequest(env, user, verifySid, map[string]string{"method": "2", "verify": "1"})
	result, err := env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindForm, result.Kind)
	assert.Equal(t, "method_email_verification", result.Fragment.Template)
	assert.Empty(t, result.Fragment.Errors)

	// Asking again inside the rate limit reports the wait instead
	req = newRequest(env, user, verifySid, map[string]string{"method": "2", "verify": "1"})
	result, err = env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Fragment.Errors)
	assert.Contains(t, result.Fragment.Errors[0], "minute")

	entry, ok, err := env.base.Logs.LatestCodeRequest(ctx, user.ID, 630*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	code := entry.Data["code"]

	req = newRequest(env, user, verifySid, map[string]string{"method": "2", "verify": "1", "code": code})
	result, err = env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	// The consumed code cannot be replayed
	otherSid := uuid.NewString()
	req = newRequest(env, user, otherSid, map[string]string{"method": "2", "verify": "1", "code": code})
	result, err = env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindForm, result.Kind)
	assert.NotEmpty(t, result.Fragment.Errors)
}

func TestEmailCodeRateLimitWindowElapses(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com", HasTwoFA: true}
	_, err := env.base.UserMethods.Activate(ctx, usermethod.UserMethod{UserID: user.ID, MethodID: emailmethod.MethodID})
	require.NoError(t, err)

	// An earlier request whose rate-limit window has already passed
	_, err = env.logRepo.Record(ctx, eventlog.Entry{
		UserID:     user.ID,
		Event:      eventlog.EventCodeRequested,
		Data:       map[string]string{"code": "111111"},
		InsertedOn: time.Now().UTC().Add(-time.Duration(env.settings.EmailCodeRateLimitSeconds+10) * time.Second),
	})
	require.NoError(t, err)

	sid := uuid.NewString()
	req := newRequest(env, user, sid, map[string]string{"method": "2", "verify": "1"})
	result, err := env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindForm, result.Kind)
	assert.Empty(t, result.Fragment.Errors)

	// Exactly one new code was recorded on top of the old one
	count, err := env.logRepo.CountSince(ctx, eventlog.CountSinceParams{UserID: user.ID, Event: eventlog.EventCodeRequested, Since: time.Time{}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The fresh request starts a new window
	req = newRequest(env, user, sid, map[string]string{"method": "2", "verify": "1"})
	result, err = env.engine.GetVerificationForm(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Fragment.Errors)

	count, err = env.logRepo.CountSince(ctx, eventlog.CountSinceParams{UserID: user.ID, Event: eventlog.EventCodeRequested, Since: time.Time{}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSetupListingAndTrustedDeviceRemoval(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	activateTOTP(t, env, user, uuid.NewString())
	user.HasTwoFA = true

	current, err := env.base.Trust.Issue(ctx, user.ID)
	require.NoError(t, err)
	other, err := env.base.Trust.Issue(ctx, user.ID)
	require.NoError(t, err)

	sid := uuid.NewString()
	req := newRequest(env, user, sid, nil)
	req.TrustTokenID = current.ID
	result, err := env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "setup", result.Fragment.Template)

	devices, ok := result.Fragment.Params["trusted_devices"].(TrustedDevices)
	require.True(t, ok)
	require.NotNil(t, devices.Current)
	assert.Equal(t, current.ID, devices.Current.ID)
	require.Len(t, devices.Others, 1)
	assert.Equal(t, other.ID, devices.Others[0].ID)

	summaries, ok := result.Fragment.Params["methods"].([]MethodSummary)
	require.True(t, ok)
	require.Len(t, summaries, 3)
	assert.True(t, summaries[0].Activated)
	assert.False(t, summaries[1].Activated)

	// Remove the other devices
	req = newRequest(env, user, sid, map[string]string{"remove_trusted_devices": "1", "others": "1"})
	req.TrustTokenID = current.ID
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	trusted, err := env.base.Trust.IsTrusted(ctx, other.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, trusted)
	trusted, err = env.base.Trust.IsTrusted(ctx, current.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, trusted)

	// Remove the current device
	req = newRequest(env, user, sid, map[string]string{"remove_trusted_devices": "1", "current": "1"})
	req.TrustTokenID = current.ID
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	trusted, err = env.base.Trust.IsTrusted(ctx, current.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, trusted)
}

func TestSkeletonDeactivationClearsFlag(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	sid := uuid.NewString()

	req := newRequest(env, user, sid, map[string]string{"method": "22", "activate": "1", "code": "123"})
	result, err := env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	enabled, err := env.base.UserMethods.HasTwoFAEnabled(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	req = newRequest(env, user, sid, map[string]string{"method": "22", "deactivate": "1"})
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	enabled, err = env.base.UserMethods.HasTwoFAEnabled(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestDeactivatingLastMethodRevokesTrustedDevices(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user := method.User{ID: 1, Username: "jdoe", Email: "jdoe@example.com"}
	activateTOTP(t, env, user, uuid.NewString())
	user.HasTwoFA = true

	sid := uuid.NewString()
	req := newRequest(env, user, sid, map[string]string{"method": "22", "activate": "1", "code": "123"})
	result, err := env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	token, err := env.base.Trust.Issue(ctx, user.ID)
	require.NoError(t, err)

	// Removing one of two methods keeps the trusted device
	req = newRequest(env, user, sid, map[string]string{"method": "22", "deactivate": "1"})
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	trusted, err := env.base.Trust.IsTrusted(ctx, token.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, trusted)

	// Removing the last one revokes it
	req = newRequest(env, user, sid, map[string]string{"method": "1", "deactivate": "1"})
	result, err = env.engine.GetSetupForm(ctx, req)
	require.NoError(t, err)
	require.Equal(t, method.KindRedirect, result.Kind)

	trusted, err = env.base.Trust.IsTrusted(ctx, token.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, trusted)
}

func TestMaintenanceRuns(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.logRepo.Record(ctx, eventlog.Entry{
		UserID:     1,
		Event:      eventlog.EventFailedAttempt,
		InsertedOn: time.Now().UTC().Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = env.logRepo.Record(ctx, eventlog.Entry{
		UserID:     1,
		Event:      eventlog.EventSuccessfulAttempt,
		Data:       map[string]string{"method_id": "1", "code": "492031"},
		InsertedOn: time.Now().UTC().Add(-25 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.RunHourlyMaintenance(ctx))

	count, err := env.logRepo.CountSince(ctx, eventlog.CountSinceParams{UserID: 1, Event: eventlog.EventFailedAttempt, Since: time.Time{}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Consumed codes are not touched by the hourly run
	count, err = env.logRepo.CountSince(ctx, eventlog.CountSinceParams{UserID: 1, Event: eventlog.EventSuccessfulAttempt, Since: time.Time{}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	env.userMethods.SetFlag(7, true)
	require.NoError(t, env.engine.RunDailyMaintenance(ctx))

	count, err = env.logRepo.CountSince(ctx, eventlog.CountSinceParams{UserID: 1, Event: eventlog.EventSuccessfulAttempt, Since: time.Time{}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	enabled, err := env.base.UserMethods.HasTwoFAEnabled(ctx, 7)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestGeneratePostCodeIsSessionBound(t *testing.T) {
	env := newTestEnv(t)

	a := env.engine.GeneratePostCode("sid-a", 1)
	b := env.engine.GeneratePostCode("sid-b", 1)
	c := env.engine.GeneratePostCode("sid-a", 2)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, env.engine.VerifyPostCode(a, "sid-a", 1))
	assert.False(t, env.engine.VerifyPostCode(a, "sid-b", 1))
	assert.False(t, env.engine.VerifyPostCode(fmt.Sprintf("%s0", a), "sid-a", 1))
}
