// Package skeleton is a minimal reference second factor. Its fixed code
// shows the smallest possible implementation of the method contract; it is
// not meant for production registries.
package skeleton

import (
	"context"
	"strings"

	"github.com/forumkit/twofa/pkg/method"
)

const (
	MethodID = 22
	Order    = 22

	// referenceCode is the method's whole verification predicate.
	referenceCode = "123"
)

type Skeleton struct {
	*method.Base
}

func New(base *method.Base) *Skeleton {
	return &Skeleton{Base: base}
}

func (m *Skeleton) ID() int    { return MethodID }
func (m *Skeleton) Order() int { return Order }

func (m *Skeleton) Definition(lang method.Translator) method.Definition {
	return method.Definition{
		Name:        lang.Get("skeleton_name"),
		Description: lang.Get("skeleton_description"),
	}
}

func (m *Skeleton) CanBeActivated() bool   { return true }
func (m *Skeleton) CanBeDeactivated() bool { return true }
func (m *Skeleton) CanBeManaged() bool     { return false }

func (m *Skeleton) HandleVerification(ctx context.Context, req method.Request) (method.Result, error) {
	blocked, err := m.HasUserReachedMaxAttempts(ctx, req.User.ID)
	if err != nil {
		return method.Result{}, err
	}
	if blocked {
		return method.BlockedResult(m.Lang.Get("verification_blocked_error")), nil
	}

	if code := req.Field("code"); code != "" && req.Confirmed {
		if isCodeValid(code) {
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
		return method.FormResult("method_skeleton_verification", nil, m.Lang.Get("code_error")), nil
	}

	return method.FormResult("method_skeleton_verification", nil), nil
}

func (m *Skeleton) HandleActivation(ctx context.Context, req method.Request) (method.Result, error) {
	if code := req.Field("code"); code != "" && req.Confirmed {
		if isCodeValid(code) {
			return m.CompleteActivation(ctx, req, MethodID, nil)
		}
		return method.FormResult("method_skeleton_activation", nil, m.Lang.Get("code_error")), nil
	}

	return method.FormResult("method_skeleton_activation", nil), nil
}

func (m *Skeleton) HandleDeactivation(ctx context.Context, req method.Request) (method.Result, error) {
	return m.CompleteDeactivation(ctx, req, MethodID)
}

func (m *Skeleton) HandleManagement(ctx context.Context, req method.Request) (method.Result, error) {
	return method.Result{}, nil
}

func isCodeValid(code string) bool {
	return strings.TrimSpace(code) == referenceCode
}
