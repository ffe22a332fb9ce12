// Package kdf implements the key schedule the ratchet and handshake are
// built on: HKDF-SHA256 expansion with the exact domain-separation strings
// the wire protocol requires, an HMAC-SHA256 rotation step, and a keyed
// BLAKE3 hash for out-of-band key-knowledge challenges.
package kdf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"
)

// Domain-separation strings. ASCII, byte-exact, no null terminator.
const (
	InfoMasterKey    = "aegis-master-key-v1"
	InfoMessageKey   = "aegis-message-key-v1"
	InfoKeyBundle    = "aegis-bundle-key-v1-"
	SaltHandshake    = "aegis-v1-salt"
	InfoSendChain    = "send-chain-v1"
	InfoRecvChain    = "recv-chain-v1"
	InfoChainAdvance = "chain-advance"
	InfoRotation     = "rotation-v1-"

	keySize = 32
)

// HKDFExpand performs a generic HKDF-SHA256 expansion of ikm into size
// bytes, using salt and info as extract/expand parameters.
func HKDFExpand(ikm, salt, info []byte, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// DeriveMasterKey derives the session's master key from the KEM shared
// secret and the handshake salt.
func DeriveMasterKey(sharedSecret, salt []byte) ([32]byte, error) {
	var out [32]byte
	b, err := HKDFExpand(sharedSecret, salt, []byte(InfoMasterKey), keySize)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// DeriveChainKey derives the initial send/recv chain keys from the master
// root key, using context to pick which chain ("send-chain-v1" /
// "recv-chain-v1"), and also the per-message chain-advance step ("chain-
// advance"). Salt is always empty, per §4.3.
func DeriveChainKey(prevChainKey []byte, context string) ([32]byte, error) {
	var out [32]byte
	b, err := HKDFExpand(prevChainKey, nil, []byte(context), keySize)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// DeriveMessageKey derives the per-message key from a chain key and its
// counter: info = "aegis-message-key-v1" || little-endian(counter, 8).
func DeriveMessageKey(chainKey []byte, counter uint64) ([32]byte, error) {
	var out [32]byte
	info := make([]byte, len(InfoMessageKey)+8)
	copy(info, InfoMessageKey)
	binary.LittleEndian.PutUint64(info[len(InfoMessageKey):], counter)

	b, err := HKDFExpand(chainKey, nil, info, keySize)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// RatchetKeyHMAC is the rotation step: a plain HMAC-SHA256(key, constant),
// distinct from the HKDF-based derivations above.
func RatchetKeyHMAC(key, constant []byte) [32]byte {
	var out [32]byte
	mac := hmac.New(sha256.New, key)
	mac.Write(constant)
	copy(out[:], mac.Sum(nil))
	return out
}

// RotationContext builds the "rotation-v1-" || little-endian(epoch, 8)
// domain-separation constant used by RatchetKeyHMAC during rotation.
func RotationContext(epoch uint64) []byte {
	ctx := make([]byte, len(InfoRotation)+8)
	copy(ctx, InfoRotation)
	binary.LittleEndian.PutUint64(ctx[len(InfoRotation):], epoch)
	return ctx
}

// Blake3KeyedHash computes a keyed BLAKE3 hash of data, for fast
// out-of-band challenge/response use. Never used to derive message keys.
func Blake3KeyedHash(key, data []byte) ([32]byte, error) {
	var k [32]byte
	if len(key) != 32 {
		return k, fmt.Errorf("blake3 key must be 32 bytes, got %d", len(key))
	}
	copy(k[:], key)
	h := blake3.New(32, k[:])
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ProveKeyKnowledge answers a challenge with a keyed BLAKE3 hash, letting a
// peer prove possession of a key without revealing it.
func ProveKeyKnowledge(key, challenge []byte) ([32]byte, error) {
	return Blake3KeyedHash(key, challenge)
}

// DeriveKeyBundle derives the index-th key in a bundle from a root secret,
// used to seed an explicit Rekey() without a fresh KEM exchange.
func DeriveKeyBundle(root []byte, index uint64) ([32]byte, error) {
	var out [32]byte
	info := make([]byte, len(InfoKeyBundle)+8)
	copy(info, InfoKeyBundle)
	binary.LittleEndian.PutUint64(info[len(InfoKeyBundle):], index)

	b, err := HKDFExpand(root, nil, info, keySize)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}
