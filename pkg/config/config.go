package config

import (
	"fmt"
	"time"
)

// Settings holds every tunable of the two-factor subsystem. Fields map to
// environment variables via cleanenv tags so the daemon can be configured
// without code changes.
type Settings struct {
	// BoardName is embedded in the otpauth provisioning URI as the issuer
	// and in code emails.
	BoardName string `env:"TWOFA_BOARD_NAME" env-default:"Forumkit"`

	// BoardURL is included in code emails so users can tell the sender.
	BoardURL string `env:"TWOFA_BOARD_URL" env-default:""`

	// MaxVerificationAttempts is the number of failed attempts inside the
	// lockout window after which a user is blocked.
	MaxVerificationAttempts int `env:"TWOFA_MAX_VERIFICATION_ATTEMPTS" env-default:"5"`

	// LockoutWindowSeconds is how far back failed attempts are counted.
	LockoutWindowSeconds int `env:"TWOFA_LOCKOUT_WINDOW_SECONDS" env-default:"300"`

	// EnableDeviceTrusting allows users to skip verification on devices
	// they have marked as trusted.
	EnableDeviceTrusting bool `env:"TWOFA_ENABLE_DEVICE_TRUSTING" env-default:"true"`

	// DeviceTrustingDurationDays is the lifetime of a trusted device token.
	DeviceTrustingDurationDays int `env:"TWOFA_DEVICE_TRUSTING_DURATION_DAYS" env-default:"30"`

	// EnableAdminIntegration extends verification to the admin area, with
	// its own trust state.
	EnableAdminIntegration bool `env:"TWOFA_ENABLE_ADMIN_INTEGRATION" env-default:"true"`

	// DisableDeviceTrustingInAdmin forces a code on every admin session
	// even from trusted devices.
	DisableDeviceTrustingInAdmin bool `env:"TWOFA_DISABLE_DEVICE_TRUSTING_IN_ADMIN" env-default:"true"`

	// EmailCodeRateLimitSeconds is the minimum gap between two code emails
	// to the same user.
	EmailCodeRateLimitSeconds int `env:"TWOFA_EMAIL_CODE_RATE_LIMIT_SECONDS" env-default:"120"`

	// ForcedGroupIDs lists user groups whose members must enroll before
	// using the rest of the application.
	ForcedGroupIDs []int64 `env:"TWOFA_FORCED_GROUP_IDS" env-default:""`

	// PostCodeSecret keys the anti-forgery code attached to state-changing
	// form submissions. Must be set in production.
	PostCodeSecret string `env:"TWOFA_POST_CODE_SECRET" env-default:"change-me"`
}

func (s Settings) Validate() error {
	if s.MaxVerificationAttempts < 1 {
		return fmt.Errorf("max verification attempts must be at least 1, got %d", s.MaxVerificationAttempts)
	}
	if s.LockoutWindowSeconds < 1 {
		return fmt.Errorf("lockout window must be positive, got %d", s.LockoutWindowSeconds)
	}
	if s.DeviceTrustingDurationDays < 1 {
		return fmt.Errorf("device trusting duration must be at least 1 day, got %d", s.DeviceTrustingDurationDays)
	}
	if s.EmailCodeRateLimitSeconds < 0 {
		return fmt.Errorf("email code rate limit must not be negative, got %d", s.EmailCodeRateLimitSeconds)
	}
	if s.PostCodeSecret == "" {
		return fmt.Errorf("post code secret must not be empty")
	}
	return nil
}

// LockoutWindow returns the failed-attempt counting window as a duration.
func (s Settings) LockoutWindow() time.Duration {
	return time.Duration(s.LockoutWindowSeconds) * time.Second
}

// DeviceTrustingDuration returns the trusted device token lifetime.
func (s Settings) DeviceTrustingDuration() time.Duration {
	return time.Duration(s.DeviceTrustingDurationDays) * 24 * time.Hour
}

// EmailCodeRateLimit returns the minimum gap between code emails.
func (s Settings) EmailCodeRateLimit() time.Duration {
	return time.Duration(s.EmailCodeRateLimitSeconds) * time.Second
}

// IsForcedGroup reports whether any of the given group ids requires
// mandatory enrollment.
func (s Settings) IsForcedGroup(groupIDs []int64) bool {
	for _, gid := range groupIDs {
		for _, forced := range s.ForcedGroupIDs {
			if gid == forced {
				return true
			}
		}
	}
	return false
}
