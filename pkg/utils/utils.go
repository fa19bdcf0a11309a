package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// RandomHex returns n random bytes encoded as a lowercase hex string.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RandomNumericCode returns a random code of exactly length decimal digits,
// left-padded with zeros.
func RandomNumericCode(length int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < length; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate numeric code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// ObfuscateEmail masks the local part of an address for display,
// keeping the first and last character: "jdoe@example.com" -> "j***e@example.com".
func ObfuscateEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	return local[:1] + "***" + local[len(local)-1:] + domain
}
