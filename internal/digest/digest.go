// Package digest provides the content and naming digests used for stored
// artifacts.
package digest

import (
	"crypto/sha1" // #nosec G505 -- names objects, not a security boundary.
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 implements crawler.Hasher for content hashes.
type SHA256 struct{}

// NewSHA256 returns a SHA-256 hasher.
func NewSHA256() *SHA256 {
	return &SHA256{}
}

// Hash hashes the input and returns a hex digest.
func (SHA256) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Name returns the hex SHA-1 of s, used to derive stable object names from
// URLs that carry no usable file name.
func Name(s string) string {
	sum := sha1.Sum([]byte(s)) // #nosec G401
	return hex.EncodeToString(sum[:])
}
