package notification

import (
	"context"
	"sync"
)

// SentMail records one delivery made through a MockMailer.
type SentMail struct {
	To      string
	Subject string
	Body    string
}

// MockMailer captures deliveries for tests instead of sending them.
type MockMailer struct {
	mutex sync.Mutex
	Sent  []SentMail
	Err   error
}

func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) SendCode(ctx context.Context, to, subject, body string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMail{To: to, Subject: subject, Body: body})
	return nil
}

// LastSent returns the most recent delivery, with ok=false when none.
func (m *MockMailer) LastSent() (SentMail, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.Sent) == 0 {
		return SentMail{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}
