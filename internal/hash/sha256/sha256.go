// Package sha256 fingerprints rendered detail pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher. Whitespace runs are collapsed before
// hashing so re-renders that only differ in layout produce the same digest.
type Hasher struct {
	Raw bool
}

// New returns a normalising Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	if !h.Raw {
		data = []byte(strings.Join(strings.Fields(string(data)), " "))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
