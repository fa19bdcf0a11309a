package usermethod

import "time"

// UserMethod is one activated second-factor method for a user. Data holds
// method-specific material, such as the TOTP secret.
type UserMethod struct {
	UserID      int64
	MethodID    int
	Data        map[string]string
	ActivatedOn time.Time
}
