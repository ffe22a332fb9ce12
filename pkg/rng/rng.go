// Package rng wraps the operating system CSPRNG: arbitrary-length random
// bytes, 32-byte symmetric keys and 24-byte AEAD nonces. No other package
// in this module imports it; the session and store read crypto/rand
// directly.
package rng

import (
	"crypto/rand"
	"fmt"
)

// KeySize is the length in bytes of a symmetric key throughout the package.
const KeySize = 32

// NonceSize is the length in bytes of an XChaCha20-Poly1305 nonce.
const NonceSize = 24

// Bytes returns n cryptographically secure random bytes. Failure of the OS
// source is treated as fatal by the caller; it is never retried here.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// Key returns a fresh 32-byte symmetric key.
func Key() ([32]byte, error) {
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("generating key: %w", err)
	}
	return k, nil
}

// Nonce returns a fresh 24-byte XChaCha20-Poly1305 nonce.
func Nonce() ([24]byte, error) {
	var n [24]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("generating nonce: %w", err)
	}
	return n, nil
}
