// Package api exposes the engine over HTTP for hosts that integrate through
// a sidecar instead of linking the packages directly. Every endpoint is a
// thin JSON mapping onto one engine call.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/forumkit/twofa/pkg/engine"
	"github.com/forumkit/twofa/pkg/method"
)

type Handle struct {
	engine *engine.Engine
}

func NewHandle(e *engine.Engine) Handle {
	return Handle{
		engine: e,
	}
}

func Routes(r *chi.Mux, handle Handle) {
	r.Route("/api/twofa", func(r chi.Router) {
		r.Get("/methods", handle.GetMethods)
		r.Post("/evaluate", handle.PostEvaluate)
		r.Post("/verification", handle.PostVerification)
		r.Post("/setup", handle.PostSetup)
		r.Post("/login-complete", handle.PostLoginComplete)
	})
}

// RequestBody is the host-side view of one request: who is asking, which
// session and device they present, and the submitted form fields.
type RequestBody struct {
	User           UserBody          `json:"user"`
	SessionID      string            `json:"session_id"`
	TrustTokenID   string            `json:"trust_token_id,omitempty"`
	Admin          bool              `json:"admin,omitempty"`
	Input          map[string]string `json:"input,omitempty"`
	RedirectTarget string            `json:"redirect_target,omitempty"`
}

type UserBody struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	GroupIDs []int64 `json:"group_ids,omitempty"`
	HasTwoFA bool    `json:"has_twofa"`
}

func (b RequestBody) toRequest() method.Request {
	return method.Request{
		User: method.User{
			ID:       b.User.ID,
			Username: b.User.Username,
			Email:    b.User.Email,
			GroupIDs: b.User.GroupIDs,
			HasTwoFA: b.User.HasTwoFA,
		},
		SessionID:      b.SessionID,
		TrustTokenID:   b.TrustTokenID,
		Admin:          b.Admin,
		Input:          b.Input,
		RedirectTarget: b.RedirectTarget,
	}
}

type EvaluationResponse struct {
	Outcome             string `json:"outcome"`
	RedirectTarget      string `json:"redirect_target,omitempty"`
	DowngradePrivileges bool   `json:"downgrade_privileges,omitempty"`
	PostCode            string `json:"post_code,omitempty"`
}

type ResultResponse struct {
	Kind       string              `json:"kind"`
	Template   string              `json:"template,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Errors     []string            `json:"errors,omitempty"`
	Redirect   string              `json:"redirect,omitempty"`
	Message    string              `json:"message,omitempty"`
	TrustToken *TrustTokenResponse `json:"trust_token,omitempty"`
}

type TrustTokenResponse struct {
	ID       string    `json:"id"`
	ExpireOn time.Time `json:"expire_on"`
}

type MethodResponse struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func outcomeName(outcome engine.Outcome) string {
	switch outcome {
	case engine.OutcomeRedirectToVerification:
		return "redirect_to_verification"
	case engine.OutcomeVerificationPending:
		return "verification_pending"
	case engine.OutcomeRedirectToSetup:
		return "redirect_to_setup"
	default:
		return "allowed"
	}
}

func kindName(kind method.Kind) string {
	switch kind {
	case method.KindBlocked:
		return "blocked"
	case method.KindRedirect:
		return "redirect"
	default:
		return "form"
	}
}

func toResultResponse(result method.Result) ResultResponse {
	resp := ResultResponse{
		Kind:     kindName(result.Kind),
		Template: result.Fragment.Template,
		Params:   result.Fragment.Params,
		Errors:   result.Fragment.Errors,
		Redirect: result.Redirect.Target,
		Message:  result.Message,
	}
	if result.Redirect.Message != "" {
		resp.Message = result.Redirect.Message
	}
	if result.TrustToken != nil {
		resp.TrustToken = &TrustTokenResponse{
			ID:       result.TrustToken.ID,
			ExpireOn: result.TrustToken.ExpireOn,
		}
	}
	return resp
}

// List the registered methods
// (GET /api/twofa/methods)
func (h Handle) GetMethods(w http.ResponseWriter, r *http.Request) {
	lang := h.engine.Translator()
	methods := make([]MethodResponse, 0)
	for _, m := range h.engine.Registry().All() {
		def := m.Definition(lang)
		methods = append(methods, MethodResponse{
			ID:          m.ID(),
			Name:        def.Name,
			Description: def.Description,
		})
	}
	render.JSON(w, r, methods)
}

// Evaluate one authenticated request
// (POST /api/twofa/evaluate)
func (h Handle) PostEvaluate(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	eval, err := h.engine.EvaluateRequest(r.Context(), body.toRequest())
	if err != nil {
		serverError(w, r, "Failed to evaluate request", err)
		return
	}

	render.JSON(w, r, EvaluationResponse{
		Outcome:             outcomeName(eval.Outcome),
		RedirectTarget:      eval.RedirectTarget,
		DowngradePrivileges: eval.DowngradePrivileges,
		PostCode:            eval.PostCode,
	})
}

// Run one step of the verification flow
// (POST /api/twofa/verification)
func (h Handle) PostVerification(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	result, err := h.engine.GetVerificationForm(r.Context(), body.toRequest())
	if err != nil {
		handleResultError(w, r, "Verification step failed", err)
		return
	}
	render.JSON(w, r, toResultResponse(result))
}

// Run one step of the setup flow
// (POST /api/twofa/setup)
func (h Handle) PostSetup(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	result, err := h.engine.GetSetupForm(r.Context(), body.toRequest())
	if err != nil {
		handleResultError(w, r, "Setup step failed", err)
		return
	}
	render.JSON(w, r, toResultResponse(result))
}

// Reset the session's redirect marker after a login
// (POST /api/twofa/login-complete)
func (h Handle) PostLoginComplete(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	if err := h.engine.OnLoginComplete(r.Context(), body.toRequest()); err != nil {
		serverError(w, r, "Failed to complete login", err)
		return
	}
	render.NoContent(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (RequestBody, bool) {
	var body RequestBody
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "unable to parse body"})
		return RequestBody{}, false
	}
	return body, true
}

func handleResultError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, engine.ErrInvalidPostCode) {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "invalid post code"})
		return
	}
	serverError(w, r, msg, err)
}

func serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "err", err)
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, map[string]string{"error": "internal error"})
}
