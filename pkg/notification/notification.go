package notification

import "context"

// Mailer delivers a verification code email. Implementations must be safe
// for concurrent use.
type Mailer interface {
	SendCode(ctx context.Context, to, subject, body string) error
}
