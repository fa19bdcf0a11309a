package method

import (
	"strings"

	"github.com/forumkit/twofa/pkg/trust"
)

// Kind discriminates what a handler decided.
type Kind int

const (
	// KindForm asks the host to render a template with the given params.
	KindForm Kind = iota
	// KindBlocked tells the host the user is locked out of attempts.
	KindBlocked
	// KindRedirect tells the host to redirect; the flow step completed.
	KindRedirect
)

// Fragment describes a form for the host to render.
type Fragment struct {
	Template string
	Params   map[string]interface{}
	Errors   []string
}

// Redirect describes where to send the user and the flash message to show.
type Redirect struct {
	Target  string
	Message string
}

// Result is a handler's decision. Exactly one of Fragment, Redirect or
// Message is meaningful, per Kind.
type Result struct {
	Kind     Kind
	Fragment Fragment
	Redirect Redirect
	Message  string

	// TrustToken is set when completing verification issued a trusted
	// device token the host must hand to the client.
	TrustToken *trust.Token
}

// FormResult builds a KindForm result.
func FormResult(template string, params map[string]interface{}, errs ...string) Result {
	return Result{
		Kind: KindForm,
		Fragment: Fragment{
			Template: template,
			Params:   params,
			Errors:   errs,
		},
	}
}

// BlockedResult builds a KindBlocked result.
func BlockedResult(message string) Result {
	return Result{Kind: KindBlocked, Message: message}
}

// RedirectResult builds a KindRedirect result.
func RedirectResult(target, message string) Result {
	return Result{
		Kind:     KindRedirect,
		Redirect: Redirect{Target: target, Message: message},
	}
}

// SanitizeRedirectTarget keeps redirects inside the application. Anything
// that is not a plain relative path collapses to the root.
func SanitizeRedirectTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return "/"
	}
	if strings.ContainsAny(target, "\r\n") {
		return "/"
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}
