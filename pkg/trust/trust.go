package trust

import "time"

// TokenIDBytes is the number of random bytes in a token id; the id is the
// hex encoding, 32 characters.
const TokenIDBytes = 16

// Token is one trusted-device grant. The id doubles as the cookie value the
// host stores on the device.
type Token struct {
	ID          string
	UserID      int64
	GeneratedOn time.Time
	ExpireOn    time.Time
}

// Expired reports whether the token is past its expiry at the given time.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpireOn)
}
