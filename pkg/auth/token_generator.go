package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const rawTokenBytes = 32 // 256 bits of entropy

// GenerateOpaqueToken returns a random hex-encoded token plus the hex-encoded
// SHA-256 that gets persisted. The raw value exists only in memory and in the
// outbound email; lookups re-hash the presented value.
func GenerateOpaqueToken() (raw string, hash string, err error) {
	buf := make([]byte, rawTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random token: %w", err)
	}

	raw = hex.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

// HashToken returns the hex-encoded SHA-256 of a presented token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
