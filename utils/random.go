package utils

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const sessionPrefix = "session_"

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,128}$`)

func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateSessionID returns an opaque checkout session identifier.
func GenerateSessionID() string {
	return sessionPrefix + uuid.NewString()
}

func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
