package conversion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Identity carries the optional identity hints attached to event payloads.
// Email is raw at this layer; it is hashed before anything leaves the
// service and is never persisted.
type Identity struct {
	UserID string
	Email  string
}

// HashEmail normalizes and hashes an email per the external API's matching
// rules: trim, lowercase, SHA-256 hex. Empty input stays empty so the field
// is omitted from the payload.
func HashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
