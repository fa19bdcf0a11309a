package eventlog

import "time"

// Event kinds recorded by the subsystem.
const (
	EventFailedAttempt     = "failed_attempt"
	EventSuccessfulAttempt = "successful_attempt"
	EventCodeRequested     = "email_code_requested"
)

// Entry is one audit log row. Data carries small event-specific values,
// such as the code a successful attempt consumed.
type Entry struct {
	ID         int64
	UserID     int64
	Event      string
	Data       map[string]string
	InsertedOn time.Time
}
