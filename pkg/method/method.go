// Package method defines the contract a second-factor method implements and
// the shared plumbing every method builds on. Methods make decisions and
// return Result values; rendering and transport stay with the host.
package method

import "context"

// Definition is the locale-resolved display data of a method.
type Definition struct {
	Name        string
	Description string
}

// Method is one pluggable second factor. Implementations hold their stable
// small integer id; ids must never be reused across methods.
type Method interface {
	ID() int
	Order() int
	Definition(lang Translator) Definition

	HandleVerification(ctx context.Context, req Request) (Result, error)
	HandleActivation(ctx context.Context, req Request) (Result, error)
	HandleDeactivation(ctx context.Context, req Request) (Result, error)
	HandleManagement(ctx context.Context, req Request) (Result, error)

	CanBeActivated() bool
	CanBeDeactivated() bool
	CanBeManaged() bool
}

// User is the host-provided identity a request acts for.
type User struct {
	ID       int64
	Username string
	Email    string
	GroupIDs []int64
	HasTwoFA bool
}

// Request carries everything a handler may consult. There is no ambient
// request state; hosts build a Request per call.
type Request struct {
	User User

	// SessionID addresses the per-session scratch storage.
	SessionID string

	// TrustTokenID is the trusted-device token the client presented, empty
	// when none.
	TrustTokenID string

	// Admin marks requests from the administration area, which keeps its
	// own trust state.
	Admin bool

	// Input holds submitted form fields. Side-effecting fields are only
	// honored when Confirmed is true.
	Input map[string]string

	// Confirmed is set by the caller after the submission's anti-forgery
	// code checked out.
	Confirmed bool

	// RedirectTarget is where the user wanted to go before verification
	// interrupted, validated before use.
	RedirectTarget string

	// SetupTarget is where method activation and deactivation return to.
	SetupTarget string
}

// Field returns a submitted form field, empty when absent.
func (r Request) Field(name string) string {
	return r.Input[name]
}
