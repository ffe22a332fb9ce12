// Package wire implements the length-prefixed frame format and envelope
// encoding described in §4.6/§6: a fixed, hand-specified binary layout
// rather than a third-party schema codec, since the two-party session
// protocol needs no forward-compatible schema evolution.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType identifies the payload carried by an Envelope.
type MessageType uint8

const (
	TypeHandshake         MessageType = 0x01
	TypeHandshakeResponse MessageType = 0x02
	TypeEncryptedMessage  MessageType = 0x03
	TypeKeyRotation       MessageType = 0x04
	TypeAck               MessageType = 0x05
	TypeHeartbeat         MessageType = 0x06
	TypeDisconnect        MessageType = 0x07
	TypeError             MessageType = 0xFF
)

func (t MessageType) String() string {
	switch t {
	case TypeHandshake:
		return "Handshake"
	case TypeHandshakeResponse:
		return "HandshakeResponse"
	case TypeEncryptedMessage:
		return "EncryptedMessage"
	case TypeKeyRotation:
		return "KeyRotation"
	case TypeAck:
		return "Ack"
	case TypeHeartbeat:
		return "Heartbeat"
	case TypeDisconnect:
		return "Disconnect"
	case TypeError:
		return "Error"
	default:
		return fmt.Sprintf("MessageType(0x%02x)", uint8(t))
	}
}

func (t MessageType) IsValid() bool {
	switch t {
	case TypeHandshake, TypeHandshakeResponse, TypeEncryptedMessage,
		TypeKeyRotation, TypeAck, TypeHeartbeat, TypeDisconnect, TypeError:
		return true
	default:
		return false
	}
}

const (
	// CurrentVersion is the version this port emits; Session.Recv rejects
	// envelopes with a higher version.
	CurrentVersion uint8 = 1

	// MaxFrameSize bounds a serialized envelope, rejected before
	// allocation if exceeded.
	MaxFrameSize = 1 << 20 // 1 MiB

	// NonceSize is the XChaCha20-Poly1305 nonce length carried in an
	// EncryptedMessage payload.
	NonceSize = 24

	// LengthPrefixSize is the frame's leading big-endian length field.
	LengthPrefixSize = 4

	// headerSize is version(1) + message_type(1) + timestamp(8) + key_id(2).
	headerSize = 1 + 1 + 8 + 2
)

var (
	// ErrInsufficientLengthPrefix means fewer than 4 bytes are buffered;
	// recoverable, the caller should read more and retry.
	ErrInsufficientLengthPrefix = errors.New("wire: insufficient data for length prefix")

	// ErrIncompleteFrame means the length prefix is present but the body
	// is still short; recoverable, the caller should read more and retry.
	ErrIncompleteFrame = errors.New("wire: incomplete frame")

	// ErrOversizeFrame means the declared frame length exceeds
	// MaxFrameSize; fatal to the connection.
	ErrOversizeFrame = errors.New("wire: frame exceeds maximum size")

	// ErrMalformedEnvelope means the frame's body failed to decode into a
	// valid envelope; fatal to the connection.
	ErrMalformedEnvelope = errors.New("wire: malformed envelope")
)

// Recoverable reports whether err signals that the caller should simply
// buffer more bytes and retry parsing, as opposed to tearing the
// connection down.
func Recoverable(err error) bool {
	return errors.Is(err, ErrInsufficientLengthPrefix) || errors.Is(err, ErrIncompleteFrame)
}

// Envelope is the fixed header common to every message type, plus its
// already-encoded, type-specific payload.
type Envelope struct {
	Version     uint8
	MessageType MessageType
	Timestamp   uint64 // Unix seconds
	KeyID       uint16
	Payload     []byte
}

// FrameMessage serializes env and prefixes it with a 4-byte big-endian
// length, ready to write to a transport.
func FrameMessage(env Envelope) ([]byte, error) {
	body := make([]byte, headerSize+len(env.Payload))
	body[0] = env.Version
	body[1] = byte(env.MessageType)
	binary.LittleEndian.PutUint64(body[2:10], env.Timestamp)
	binary.LittleEndian.PutUint16(body[10:12], env.KeyID)
	copy(body[headerSize:], env.Payload)

	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversizeFrame, len(body))
	}

	frame := make([]byte, LengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(body)))
	copy(frame[LengthPrefixSize:], body)
	return frame, nil
}

// ParseFramedMessage attempts to decode one framed envelope from the
// front of buf. On success it returns the envelope and the number of
// bytes consumed. Distinguishes recoverable (need more data) from fatal
// (oversize or malformed) failures per §4.6; callers should check
// Recoverable(err) before giving up on the connection.
func ParseFramedMessage(buf []byte) (*Envelope, int, error) {
	if len(buf) < LengthPrefixSize {
		return nil, 0, ErrInsufficientLengthPrefix
	}

	frameLen := binary.BigEndian.Uint32(buf[:LengthPrefixSize])
	if frameLen > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: declared %d bytes", ErrOversizeFrame, frameLen)
	}

	total := LengthPrefixSize + int(frameLen)
	if len(buf) < total {
		return nil, 0, ErrIncompleteFrame
	}

	body := buf[LengthPrefixSize:total]
	if len(body) < headerSize {
		return nil, 0, fmt.Errorf("%w: body shorter than header", ErrMalformedEnvelope)
	}

	env := &Envelope{
		Version:     body[0],
		MessageType: MessageType(body[1]),
		Timestamp:   binary.LittleEndian.Uint64(body[2:10]),
		KeyID:       binary.LittleEndian.Uint16(body[10:12]),
	}
	if !env.MessageType.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown message type 0x%02x", ErrMalformedEnvelope, body[1])
	}
	env.Payload = append([]byte(nil), body[headerSize:]...)

	return env, total, nil
}
