// Package pqkem wraps the ML-KEM-1024 post-quantum key encapsulation
// mechanism (the standardized parameter set matching Kyber-1024) behind the
// small KeyPair/PublicKey/Ciphertext/SharedSecret vocabulary the handshake
// state machine expects.
package pqkem

import (
	"encoding"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
)

var scheme = mlkem1024.Scheme()

// PublicKeySize is the fixed length of a marshaled ML-KEM-1024 public key.
const PublicKeySize = 1568

// CiphertextSize is the fixed length of a marshaled ML-KEM-1024 ciphertext.
const CiphertextSize = 1568

// SharedSecretSize is the length of the shared secret this package returns,
// truncated from the KEM's native output to the first 32 bytes.
const SharedSecretSize = 32

var (
	// ErrInvalidKey reports a public key or ciphertext of the wrong length.
	ErrInvalidKey = errors.New("pqkem: invalid key or ciphertext length")
)

// SharedSecret is a 32-byte KEM output. Callers are responsible for
// handing it to pkg/secbuf or zeroing it once consumed by the KDF.
type SharedSecret [SharedSecretSize]byte

// PublicKey is an opaque, length-validated ML-KEM-1024 public key.
type PublicKey struct {
	inner kem.PublicKey
	bytes []byte
}

// Ciphertext is an opaque, length-validated ML-KEM-1024 ciphertext.
type Ciphertext struct {
	bytes []byte
}

// KeyPair holds an ephemeral ML-KEM-1024 key pair. One per handshake; never
// persisted.
type KeyPair struct {
	Public  PublicKey
	private kem.PrivateKey
}

// Generate creates a fresh ephemeral ML-KEM-1024 key pair.
func Generate() (KeyPair, error) {
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating ml-kem-1024 keypair: %w", err)
	}
	pubBytes, err := pub.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshaling public key: %w", err)
	}
	return KeyPair{
		Public:  PublicKey{inner: pub, bytes: pubBytes},
		private: priv,
	}, nil
}

// Bytes returns the marshaled public key bytes (1568 B for ML-KEM-1024).
func (p PublicKey) Bytes() []byte { return p.bytes }

// PublicKeyFromBytes validates length and parses a public key received over
// the wire.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf(
			"%w: want %d bytes, got %d", ErrInvalidKey, PublicKeySize, len(b),
		)
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return PublicKey{inner: pk, bytes: cp}, nil
}

// Bytes returns the marshaled ciphertext bytes (1568 B for ML-KEM-1024).
func (c Ciphertext) Bytes() []byte { return c.bytes }

// CiphertextFromBytes validates length and parses a ciphertext received
// over the wire.
func CiphertextFromBytes(b []byte) (Ciphertext, error) {
	if len(b) != CiphertextSize {
		return Ciphertext{}, fmt.Errorf(
			"%w: want %d bytes, got %d", ErrInvalidKey, CiphertextSize, len(b),
		)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Ciphertext{bytes: cp}, nil
}

// Encapsulate generates a shared secret and the ciphertext that lets the
// holder of the matching private key recover it. The returned shared
// secret is the first 32 bytes of the scheme's native output.
func (p PublicKey) Encapsulate() (SharedSecret, Ciphertext, error) {
	ct, ss, err := scheme.Encapsulate(p.inner)
	if err != nil {
		return SharedSecret{}, Ciphertext{}, fmt.Errorf("encapsulating: %w", err)
	}
	var out SharedSecret
	copy(out[:], ss[:SharedSecretSize])
	return out, Ciphertext{bytes: ct}, nil
}

// Decapsulate recovers the shared secret from a ciphertext using the key
// pair's private key. ML-KEM provides implicit rejection: a malformed
// ciphertext yields a deterministic-but-useless secret rather than an
// error, so this never leaks ciphertext validity through an error branch.
func (k KeyPair) Decapsulate(ct Ciphertext) (SharedSecret, error) {
	ss, err := scheme.Decapsulate(k.private, ct.bytes)
	if err != nil {
		return SharedSecret{}, fmt.Errorf("decapsulating: %w", err)
	}
	var out SharedSecret
	copy(out[:], ss[:SharedSecretSize])
	return out, nil
}
