package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashURL returns a stable storage key for a url.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
