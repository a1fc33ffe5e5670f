// Package seal encrypts final letter bodies at rest. Letters differ from
// vault items: the platform must be able to read them at release time to
// put them in an email, so they are sealed with a server-held key rather
// than a key derived from the user's passphrase.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is a parsed symmetric key.
type Key [KeySize]byte

// ParseKey decodes a hex-encoded 32-byte key from configuration.
func ParseKey(hexKey string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return k, fmt.Errorf("parse seal key: %w", err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("parse seal key: need %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
func Seal(key Key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("seal: %w", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts a sealed payload. Tampered or mismatched inputs fail
// authentication and return an error.
func Open(key Key, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plaintext, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
