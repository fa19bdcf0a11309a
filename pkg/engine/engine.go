// Package engine decides, per request, whether a user may proceed, must
// verify a second factor, or must enroll one. It owns no transport: hosts
// call EvaluateRequest on every authenticated request and act on the
// returned Evaluation.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/forumkit/twofa/pkg/method"
	"github.com/forumkit/twofa/pkg/sessionstore"
)

// ErrInvalidPostCode is returned when a state-changing submission carries a
// missing or forged anti-forgery code.
var ErrInvalidPostCode = errors.New("invalid post code")

// Outcome is the decision for one request.
type Outcome int

const (
	// OutcomeAllowed lets the request through untouched.
	OutcomeAllowed Outcome = iota
	// OutcomeRedirectToVerification sends the user to the verification
	// form; the session is marked so the next request is not redirected
	// again.
	OutcomeRedirectToVerification
	// OutcomeVerificationPending means the user was already redirected but
	// is still unverified: the host must serve the request with guest
	// privileges and the fresh post code.
	OutcomeVerificationPending
	// OutcomeRedirectToSetup sends a forced-enrollment user to the setup
	// form.
	OutcomeRedirectToSetup
)

// Evaluation is the result of evaluating one request.
type Evaluation struct {
	Outcome Outcome

	// RedirectTarget is set for the redirect outcomes.
	RedirectTarget string

	// DowngradePrivileges is set with OutcomeVerificationPending: the host
	// must treat the user as a guest until verification completes.
	DowngradePrivileges bool

	// PostCode is a fresh anti-forgery code issued alongside a privilege
	// downgrade, so stale form tokens cannot act for the real user.
	PostCode string
}

// Engine evaluates requests and dispatches verification and setup flows to
// the registered methods.
type Engine struct {
	registry *method.Registry
	base     *method.Base

	verificationTarget string
	setupTarget        string
}

// Option configures an Engine.
type Option func(*Engine)

// WithVerificationTarget overrides where unverified users are sent.
func WithVerificationTarget(target string) Option {
	return func(e *Engine) {
		e.verificationTarget = target
	}
}

// WithSetupTarget overrides where forced-enrollment users are sent.
func WithSetupTarget(target string) Option {
	return func(e *Engine) {
		e.setupTarget = target
	}
}

func New(registry *method.Registry, base *method.Base, opts ...Option) *Engine {
	e := &Engine{
		registry:           registry,
		base:               base,
		verificationTarget: "/2fa/verification",
		setupTarget:        "/2fa/setup",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the configured methods.
func (e *Engine) Registry() *method.Registry {
	return e.registry
}

// SetupTarget returns where method activation flows return to.
func (e *Engine) SetupTarget() string {
	return e.setupTarget
}

// Translator exposes the configured language strings.
func (e *Engine) Translator() method.Translator {
	return e.base.Lang
}

// EvaluateRequest runs the per-request state machine. It must be called
// before the host does any privileged work for the request.
func (e *Engine) EvaluateRequest(ctx context.Context, req method.Request) (Evaluation, error) {
	if req.User.ID == 0 {
		return Evaluation{Outcome: OutcomeAllowed}, nil
	}

	required, err := e.IsVerificationRequired(ctx, req)
	if err != nil {
		return Evaluation{}, err
	}

	if required {
		redirected, err := e.base.Sessions.IsFlagSet(ctx, req.SessionID, sessionstore.KeyRedirected)
		if err != nil {
			return Evaluation{}, err
		}

		if !redirected {
			if err := e.base.Sessions.SetFlag(ctx, req.SessionID, sessionstore.KeyRedirected); err != nil {
				return Evaluation{}, err
			}
			return Evaluation{
				Outcome:        OutcomeRedirectToVerification,
				RedirectTarget: e.verificationTarget,
			}, nil
		}

		// The user declined to verify and kept browsing: serve the
		// request stripped of the account's privileges.
		return Evaluation{
			Outcome:             OutcomeVerificationPending,
			DowngradePrivileges: true,
			PostCode:            e.GeneratePostCode(req.SessionID, req.User.ID),
		}, nil
	}

	// Trust granted by a device token is copied onto the session so later
	// requests skip the token lookup.
	if req.User.HasTwoFA {
		if err := e.persistDeviceTrust(ctx, req); err != nil {
			return Evaluation{}, err
		}
	}

	if e.IsForcedEnrollment(req.User) {
		return Evaluation{
			Outcome:        OutcomeRedirectToSetup,
			RedirectTarget: e.setupTarget,
		}, nil
	}

	return Evaluation{Outcome: OutcomeAllowed}, nil
}

// IsVerificationRequired reports whether the request must verify a second
// factor before proceeding.
func (e *Engine) IsVerificationRequired(ctx context.Context, req method.Request) (bool, error) {
	if !req.User.HasTwoFA {
		return false, nil
	}
	if req.Admin && !e.base.Settings.EnableAdminIntegration {
		return false, nil
	}

	trusted, err := e.IsSessionTrusted(ctx, req)
	if err != nil {
		return false, err
	}
	return !trusted, nil
}

// IsSessionTrusted reports whether the session already verified or the
// device holds a valid trust token. Admin requests use their own session
// flag and honor the admin device-trusting setting.
func (e *Engine) IsSessionTrusted(ctx context.Context, req method.Request) (bool, error) {
	flag := sessionstore.KeyVerified
	if req.Admin {
		flag = sessionstore.KeyAdminVerified
	}

	set, err := e.base.Sessions.IsFlagSet(ctx, req.SessionID, flag)
	if err != nil {
		return false, err
	}
	if set {
		return true, nil
	}

	if !e.base.DeviceTrustingAllowed(req.Admin) {
		return false, nil
	}
	return e.base.Trust.IsTrusted(ctx, req.TrustTokenID, req.User.ID)
}

// IsAdminSessionTrusted answers the trust question for the admin domain of
// the same session, regardless of how the request was marked.
func (e *Engine) IsAdminSessionTrusted(ctx context.Context, req method.Request) (bool, error) {
	req.Admin = true
	return e.IsSessionTrusted(ctx, req)
}

func (e *Engine) persistDeviceTrust(ctx context.Context, req method.Request) error {
	flag := sessionstore.KeyVerified
	if req.Admin {
		flag = sessionstore.KeyAdminVerified
	}

	set, err := e.base.Sessions.IsFlagSet(ctx, req.SessionID, flag)
	if err != nil || set {
		return err
	}
	return e.base.Sessions.SetFlag(ctx, req.SessionID, flag)
}

// IsForcedEnrollment reports whether the user's group demands a second
// factor they have not activated yet.
func (e *Engine) IsForcedEnrollment(user method.User) bool {
	return !user.HasTwoFA && e.base.Settings.IsForcedGroup(user.GroupIDs)
}

// OnLoginComplete resets the redirect marker so the freshly logged-in user
// is sent to verification on their next request.
func (e *Engine) OnLoginComplete(ctx context.Context, req method.Request) error {
	required, err := e.IsVerificationRequired(ctx, req)
	if err != nil {
		return err
	}
	if !required {
		return nil
	}

	if err := e.base.Sessions.Clear(ctx, req.SessionID, sessionstore.KeyRedirected); err != nil {
		return fmt.Errorf("failed to reset redirect marker: %w", err)
	}
	return nil
}
