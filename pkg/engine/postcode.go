package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GeneratePostCode derives the anti-forgery code for a session and user.
// The code is stable for the session, so forms rendered earlier keep
// working, and worthless outside it.
func (e *Engine) GeneratePostCode(sessionID string, userID int64) string {
	mac := hmac.New(sha256.New, []byte(e.base.Settings.PostCodeSecret))
	fmt.Fprintf(mac, "%s:%d", sessionID, userID)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPostCode checks a submitted anti-forgery code in constant time.
func (e *Engine) VerifyPostCode(code, sessionID string, userID int64) bool {
	expected := e.GeneratePostCode(sessionID, userID)
	return hmac.Equal([]byte(expected), []byte(code))
}
