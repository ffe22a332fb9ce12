package wire

import (
	"encoding/binary"
	"fmt"
)

// HandshakePayload carries the initiator's ephemeral KEM public key.
type HandshakePayload struct {
	PublicKey []byte
}

func (p HandshakePayload) Encode() []byte {
	out := make([]byte, 4+len(p.PublicKey))
	binary.BigEndian.PutUint32(out[:4], uint32(len(p.PublicKey)))
	copy(out[4:], p.PublicKey)
	return out
}

func DecodeHandshakePayload(b []byte) (HandshakePayload, error) {
	if len(b) < 4 {
		return HandshakePayload{}, fmt.Errorf("%w: handshake payload too short", ErrMalformedEnvelope)
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) != n {
		return HandshakePayload{}, fmt.Errorf("%w: handshake public key length mismatch", ErrMalformedEnvelope)
	}
	return HandshakePayload{PublicKey: append([]byte(nil), b[4:]...)}, nil
}

// HandshakeResponsePayload carries the responder's KEM ciphertext.
type HandshakeResponsePayload struct {
	Ciphertext []byte
}

func (p HandshakeResponsePayload) Encode() []byte {
	out := make([]byte, 4+len(p.Ciphertext))
	binary.BigEndian.PutUint32(out[:4], uint32(len(p.Ciphertext)))
	copy(out[4:], p.Ciphertext)
	return out
}

func DecodeHandshakeResponsePayload(b []byte) (HandshakeResponsePayload, error) {
	if len(b) < 4 {
		return HandshakeResponsePayload{}, fmt.Errorf("%w: handshake response payload too short", ErrMalformedEnvelope)
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) != n {
		return HandshakeResponsePayload{}, fmt.Errorf("%w: handshake response ciphertext length mismatch", ErrMalformedEnvelope)
	}
	return HandshakeResponsePayload{Ciphertext: append([]byte(nil), b[4:]...)}, nil
}

// EncryptedMessagePayload carries one ratchet-encrypted application
// message. Ciphertext already includes the AEAD's 16-byte tag.
type EncryptedMessagePayload struct {
	Nonce      [NonceSize]byte
	Counter    uint64
	Ciphertext []byte
}

func (p EncryptedMessagePayload) Encode() []byte {
	out := make([]byte, NonceSize+8+4+len(p.Ciphertext))
	copy(out[:NonceSize], p.Nonce[:])
	binary.LittleEndian.PutUint64(out[NonceSize:NonceSize+8], p.Counter)
	binary.BigEndian.PutUint32(out[NonceSize+8:NonceSize+12], uint32(len(p.Ciphertext)))
	copy(out[NonceSize+12:], p.Ciphertext)
	return out
}

func DecodeEncryptedMessagePayload(b []byte) (EncryptedMessagePayload, error) {
	const fixed = NonceSize + 8 + 4
	if len(b) < fixed {
		return EncryptedMessagePayload{}, fmt.Errorf("%w: encrypted message payload too short", ErrMalformedEnvelope)
	}
	var p EncryptedMessagePayload
	copy(p.Nonce[:], b[:NonceSize])
	p.Counter = binary.LittleEndian.Uint64(b[NonceSize : NonceSize+8])
	n := binary.BigEndian.Uint32(b[NonceSize+8 : fixed])
	if uint32(len(b)-fixed) != n {
		return EncryptedMessagePayload{}, fmt.Errorf("%w: ciphertext length mismatch", ErrMalformedEnvelope)
	}
	p.Ciphertext = append([]byte(nil), b[fixed:]...)
	return p, nil
}

// KeyRotationPayload carries the derivation index for the next ratchet
// root key bundle (§12).
type KeyRotationPayload struct {
	BundleIndex uint64
}

func (p KeyRotationPayload) Encode() []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, p.BundleIndex)
	return out
}

func DecodeKeyRotationPayload(b []byte) (KeyRotationPayload, error) {
	if len(b) != 8 {
		return KeyRotationPayload{}, fmt.Errorf("%w: key rotation payload must be 8 bytes", ErrMalformedEnvelope)
	}
	return KeyRotationPayload{BundleIndex: binary.LittleEndian.Uint64(b)}, nil
}
