// Package apikey is the single place that generates and verifies the
// salted-hash bearer credentials used throughout the control plane: agent
// and system credentials are minted by internal/lifecycle, and bearer keys
// presented to the HTTP surface are checked by internal/common/httpmw. Both
// callers shared a copy-pasted sha256(salt+secret) formula before this
// package existed; Verify is the only addition, since generation never
// needed a timing-safe comparison but authentication does.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Generate mints a new clear-text secret and its salt. The clear value is
// returned once; only Hash's output and the salt are ever persisted.
func Generate() (clear, salt string, err error) {
	secretBuf := make([]byte, 24)
	if _, err := rand.Read(secretBuf); err != nil {
		return "", "", err
	}
	saltBuf := make([]byte, 16)
	if _, err := rand.Read(saltBuf); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(secretBuf), hex.EncodeToString(saltBuf), nil
}

// Hash computes the stored digest for a clear-text secret and its salt.
func Hash(clear, salt string) string {
	sum := sha256.Sum256([]byte(salt + clear))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether clear hashes to want under salt, in constant time.
func Verify(clear, salt, want string) bool {
	got := Hash(clear, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
