package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/forumkit/twofa/pkg/method"
	"github.com/forumkit/twofa/pkg/trust"
	"github.com/forumkit/twofa/pkg/usermethod"
)

// MethodSummary is one row of a method listing.
type MethodSummary struct {
	ID            int
	Name          string
	Description   string
	Activated     bool
	ActivatedOn   time.Time
	CanDeactivate bool
	CanManage     bool
}

// TrustedDevices is the device block of the setup form. Current is the
// token the requesting device presented, when it belongs to the user.
type TrustedDevices struct {
	Current *trust.Token
	Others  []trust.Token
}

// GetVerificationForm runs one step of the verification flow. With a valid
// method selection it delegates to the method; otherwise it lists the
// user's activated methods to choose from.
func (e *Engine) GetVerificationForm(ctx context.Context, req method.Request) (method.Result, error) {
	userMethods, err := e.base.UserMethods.FindUserMethods(ctx, req.User.ID)
	if err != nil {
		return method.Result{}, err
	}

	methodID := fieldInt(req, "method")
	m, inRegistry := e.registry.ByID(methodID)

	if inRegistry && findUserMethod(userMethods, methodID) != nil && req.Field("verify") == "1" {
		if err := e.confirm(&req); err != nil {
			return method.Result{}, err
		}

		result, err := m.HandleVerification(ctx, req)
		if err != nil {
			return method.Result{}, err
		}
		e.decorateVerificationForm(&result, req, m)
		return result, nil
	}

	summaries := make([]MethodSummary, 0, len(userMethods))
	for _, um := range userMethods {
		registered, ok := e.registry.ByID(um.MethodID)
		if !ok {
			continue
		}
		summaries = append(summaries, e.summarize(registered, &um))
	}

	return method.FormResult("verification_method_listing", map[string]interface{}{
		"methods":         summaries,
		"redirect_target": method.SanitizeRedirectTarget(req.RedirectTarget),
	}), nil
}

// GetSetupForm runs one step of the setup flow: method activation,
// deactivation and management, plus trusted device handling, falling back
// to the method listing.
func (e *Engine) GetSetupForm(ctx context.Context, req method.Request) (method.Result, error) {
	req.SetupTarget = e.setupTarget

	userMethods, err := e.base.UserMethods.FindUserMethods(ctx, req.User.ID)
	if err != nil {
		return method.Result{}, err
	}

	methodID := fieldInt(req, "method")
	if m, ok := e.registry.ByID(methodID); ok {
		if err := e.confirm(&req); err != nil {
			return method.Result{}, err
		}
		activated := findUserMethod(userMethods, methodID) != nil

		switch {
		case req.Field("deactivate") == "1" && m.CanBeDeactivated() && activated:
			return m.HandleDeactivation(ctx, req)
		case req.Field("activate") == "1" && m.CanBeActivated() && !activated:
			return m.HandleActivation(ctx, req)
		case req.Field("manage") == "1" && m.CanBeManaged() && activated:
			return m.HandleManagement(ctx, req)
		}
	}

	return e.setupListing(ctx, req, userMethods)
}

func (e *Engine) setupListing(ctx context.Context, req method.Request, userMethods []usermethod.UserMethod) (method.Result, error) {
	summaries := make([]MethodSummary, 0)
	for _, m := range e.registry.All() {
		if !m.CanBeActivated() {
			continue
		}
		summaries = append(summaries, e.summarize(m, findUserMethod(userMethods, m.ID())))
	}

	params := map[string]interface{}{
		"methods": summaries,
	}

	if e.base.DeviceTrustingAllowed(req.Admin) && req.User.HasTwoFA {
		devices, result, err := e.handleTrustedDevices(ctx, req)
		if err != nil {
			return method.Result{}, err
		}
		if result != nil {
			return *result, nil
		}
		if devices != nil {
			params["trusted_devices"] = *devices
		}
	}

	return method.FormResult("setup", params), nil
}

// handleTrustedDevices builds the trusted device block and applies removal
// submissions. A non-nil result short-circuits the listing.
func (e *Engine) handleTrustedDevices(ctx context.Context, req method.Request) (*TrustedDevices, *method.Result, error) {
	tokens, err := e.base.Trust.ListUserTokens(ctx, req.User.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(tokens) == 0 {
		return nil, nil, nil
	}

	devices := TrustedDevices{}
	for _, token := range tokens {
		if token.ID == req.TrustTokenID {
			current := token
			devices.Current = &current
		} else {
			devices.Others = append(devices.Others, token)
		}
	}

	if req.Field("remove_trusted_devices") == "1" {
		if err := e.confirm(&req); err != nil {
			return nil, nil, err
		}

		if req.Field("current") == "1" && devices.Current != nil {
			if err := e.base.Trust.RevokeCurrentDevice(ctx, req.User.ID, devices.Current.ID); err != nil {
				return nil, nil, err
			}
			result := method.RedirectResult(e.setupTarget, e.base.Lang.Get("current_device_untrusted"))
			return nil, &result, nil
		}
		if req.Field("others") == "1" && len(devices.Others) > 0 {
			if err := e.base.Trust.RevokeOtherDevices(ctx, req.User.ID, req.TrustTokenID); err != nil {
				return nil, nil, err
			}
			result := method.RedirectResult(e.setupTarget, e.base.Lang.Get("trusted_devices_removed"))
			return nil, &result, nil
		}
	}

	return &devices, nil, nil
}

// confirm validates the submission's anti-forgery code and marks the
// request confirmed for the method handlers.
func (e *Engine) confirm(req *method.Request) error {
	if !e.VerifyPostCode(req.Field("post_code"), req.SessionID, req.User.ID) {
		return fmt.Errorf("%w for user %d", ErrInvalidPostCode, req.User.ID)
	}
	req.Confirmed = true
	return nil
}

func (e *Engine) decorateVerificationForm(result *method.Result, req method.Request, m method.Method) {
	if result.Kind != method.KindForm {
		return
	}
	if result.Fragment.Params == nil {
		result.Fragment.Params = map[string]interface{}{}
	}

	def := m.Definition(e.base.Lang)
	result.Fragment.Params["method_id"] = m.ID()
	result.Fragment.Params["method_name"] = def.Name
	result.Fragment.Params["redirect_target"] = method.SanitizeRedirectTarget(req.RedirectTarget)
	result.Fragment.Params["trust_device_allowed"] = e.base.DeviceTrustingAllowed(req.Admin)
	result.Fragment.Params["trust_device_checked"] = req.Field("trust_device") != "0"
}

func (e *Engine) summarize(m method.Method, um *usermethod.UserMethod) MethodSummary {
	def := m.Definition(e.base.Lang)
	summary := MethodSummary{
		ID:            m.ID(),
		Name:          def.Name,
		Description:   def.Description,
		CanDeactivate: m.CanBeDeactivated(),
		CanManage:     m.CanBeManaged(),
	}
	if um != nil {
		summary.Activated = true
		summary.ActivatedOn = um.ActivatedOn
	}
	return summary
}

func findUserMethod(userMethods []usermethod.UserMethod, methodID int) *usermethod.UserMethod {
	for i := range userMethods {
		if userMethods[i].MethodID == methodID {
			return &userMethods[i]
		}
	}
	return nil
}

func fieldInt(req method.Request, name string) int {
	n, err := strconv.Atoi(req.Field(name))
	if err != nil {
		return 0
	}
	return n
}
