package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns n random bytes as lowercase hex.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}

// ClientID appends a random suffix to prefix so several replicas can share
// a broker without kicking each other off.
func ClientID(prefix string) string {
	suffix, err := GenerateCode(4)
	if err != nil {
		return prefix
	}
	return strings.TrimSuffix(prefix, "-") + "-" + suffix
}
