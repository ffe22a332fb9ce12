// Package enigma provides a small AEAD convenience wrapper around
// XChaCha20-Poly1305, plus HKDF derive helpers used by the local encrypted
// store. The session key schedule lives in pkg/kdf, which does not use
// them.
package enigma

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	base32alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	nonceSize      = chacha20poly1305.NonceSizeX
)

var ErrInvalidCiphertext = errors.New("ciphertext is not valid")

// Enigma wraps an XChaCha20-Poly1305 AEAD instance bound to a single key.
type Enigma struct {
	aead cipher.AEAD
}

// NewEnigma derives a 32-byte key via HKDF-SHA512(secret, salt, info) and
// builds an Enigma around it. Used by the local encrypted store, where the
// "secret" is a passphrase-derived key, not a ready-made symmetric key.
func NewEnigma(secret, salt, info []byte) (*Enigma, error) {
	key, err := Derive(secret, salt, info, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return newFromRawKey(key)
}

// NewFromKey builds an Enigma directly around an already-derived 32-byte
// key, with no further HKDF expansion. Used by the session's send and
// receive paths with the per-message keys the ratchet derives via pkg/kdf.
func NewFromKey(key []byte) (*Enigma, error) {
	return newFromRawKey(key)
}

func newFromRawKey(key []byte) (*Enigma, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305X: %w", err)
	}
	return &Enigma{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce, prepended to the
// returned ciphertext.
func (e *Enigma) Encrypt(plaintext []byte) []byte {
	return e.EncryptAAD(plaintext, nil)
}

// EncryptAAD seals plaintext with a fresh random nonce and the given
// associated data, prepending the nonce to the returned ciphertext.
func (e *Enigma) EncryptAAD(plaintext, aad []byte) []byte {
	nonce := make(
		[]byte, nonceSize, nonceSize+len(plaintext)+e.aead.Overhead(),
	)
	rand.Read(nonce)
	return e.aead.Seal(nonce, nonce, plaintext, aad)
}

// Decrypt opens a nonce-prefixed ciphertext produced by Encrypt.
func (e *Enigma) Decrypt(ciphertext []byte) ([]byte, error) {
	return e.DecryptAAD(ciphertext, nil)
}

// DecryptAAD opens a nonce-prefixed ciphertext produced by EncryptAAD.
func (e *Enigma) DecryptAAD(ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plaintext, nil
}

// SealDetached encrypts plaintext under an explicit nonce and AAD, without
// prepending the nonce to the output. Used on the wire path, where the
// nonce travels in its own envelope field (§6).
func (e *Enigma) SealDetached(nonce, plaintext, aad []byte) []byte {
	return e.aead.Seal(nil, nonce, plaintext, aad)
}

// OpenDetached decrypts ciphertext (AEAD tag included) under an explicit
// nonce and AAD.
func (e *Enigma) OpenDetached(nonce, ciphertext, aad []byte) ([]byte, error) {
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plaintext, nil
}

// Derive expands ikm via HKDF-SHA512 into size bytes. Used by the local
// store's KEK/DEK wrapping scheme.
func Derive(key, salt, info []byte, size int) ([]byte, error) {
	return derive(sha512.New, key, salt, info, size)
}

// Derive256 expands ikm via HKDF-SHA256 into size bytes, the same hash
// pkg/kdf uses for its own derivations.
func Derive256(key, salt, info []byte, size int) ([]byte, error) {
	return derive(sha256.New, key, salt, info, size)
}

func derive(newHash func() hash.Hash, key, salt, info []byte, size int) ([]byte, error) {
	r := hkdf.New(newHash, key, salt, info)
	d := make([]byte, size)
	if _, err := io.ReadFull(r, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Text returns a random base32-alphabet string of length l, used for
// human-typeable session identifiers.
func Text(l int) string {
	src := make([]byte, l)
	rand.Read(src)
	for i := range src {
		src[i] = base32alphabet[src[i]%32]
	}
	return string(src)
}
