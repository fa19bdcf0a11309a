package method

import "fmt"

// Translator resolves locale strings at call time, so a method's display
// data follows the requesting user's language.
type Translator interface {
	Get(key string, args ...interface{}) string
}

// MapTranslator is a Translator over a plain string map. Unknown keys
// resolve to the key itself, which keeps missing strings visible.
type MapTranslator struct {
	strings map[string]string
}

func NewMapTranslator(strings map[string]string) *MapTranslator {
	return &MapTranslator{strings: strings}
}

func (t *MapTranslator) Get(key string, args ...interface{}) string {
	s, ok := t.strings[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(s, args...)
	}
	return s
}

// DefaultTranslator returns the built-in English strings.
func DefaultTranslator() *MapTranslator {
	return NewMapTranslator(map[string]string{
		"totp_name":        "Authenticator App",
		"totp_description": "Enter a one-time code generated by an authenticator app such as Aegis or FreeOTP.",

		"email_name":        "Email",
		"email_description": "Receive a one-time code at your account email address.",

		"skeleton_name":        "Skeleton",
		"skeleton_description": "An implementation sample of a second-factor method.",

		"code_error":                 "The code you entered is not valid. Please try again.",
		"verification_blocked_error": "You have exceeded the maximum number of attempts. Please wait a few minutes before trying again.",
		"verified_success":           "You have been successfully verified.",
		"activated_success":          "The method has been successfully activated.",
		"deactivated_success":        "The method has been successfully deactivated.",

		"email_rate_limited_error":   "A code has already been emailed to you. You can request a new one in %d minute(s).",
		"email_instruction":          "A one-time code has been sent to %s. Enter it below to continue.",
		"email_request_instruction":  "A one-time code will be sent to %s.",
		"email_subject":              "%s - Verification code",
		"email_body":                 "Hello %s,\n\nYour verification code is: %s\n\nIf you did not request this code, you can ignore this message.\n\n%s",
		"trusted_devices_removed":    "Your trusted devices have been removed.",
		"current_device_untrusted":   "This device is no longer trusted.",
		"enrollment_required_notice": "Your user group requires two-factor authentication. Please activate a method to continue.",
	})
}
