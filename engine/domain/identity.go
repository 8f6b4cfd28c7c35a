package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Identity is the content-derived identity of a document: the lowercase hex
// SHA-256 digest of its raw bytes. Identical bytes always yield the same
// identity, which serves as the sole knowledge-base cache key.
type Identity string

// Identity format: 64 lowercase hex characters.
var identityRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HashBytes derives the Identity for a document's raw bytes.
func HashBytes(data []byte) Identity {
	sum := sha256.Sum256(data)
	return Identity(hex.EncodeToString(sum[:]))
}

// ParseIdentity validates an externally supplied identity string.
func ParseIdentity(s string) (Identity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !identityRegex.MatchString(s) {
		return "", NewValidationError("identity", s, ErrBadIdentity)
	}
	return Identity(s), nil
}

func (id Identity) String() string { return string(id) }

// Short returns a truncated form for log fields.
func (id Identity) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}
