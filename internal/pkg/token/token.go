// Package token mints the URL-safe bearer secrets embedded in check-in
// confirmation links, trustee verification links, and trustee access links.
// Possession of a token is the entire credential, so entropy sizes are
// fixed per use and never negotiable at call sites.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Entropy in raw bytes before encoding.
const (
	CheckInBytes      = 32
	VerificationBytes = 32
	AccessBytes       = 48
)

// Minter produces tokens from an entropy source. The zero value reads
// crypto/rand; tests swap in a deterministic reader.
type Minter struct {
	Rand io.Reader
}

func (m Minter) mint(n int) (string, error) {
	r := m.Rand
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CheckIn mints a check-in confirmation token.
func (m Minter) CheckIn() (string, error) {
	return m.mint(CheckInBytes)
}

// Verification mints a trustee verification token.
func (m Minter) Verification() (string, error) {
	return m.mint(VerificationBytes)
}

// Access mints a trustee access token. Access tokens unlock the released
// vault, so they carry half again the entropy of the other tokens.
func (m Minter) Access() (string, error) {
	return m.mint(AccessBytes)
}
