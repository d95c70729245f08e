package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Redact returns a short stable digest of s: the first 8 bytes of its
// SHA-256, hex encoded. Used where keys would otherwise end up in logs.
func Redact(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
