package aegis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/aegis-chat/aegis/pkg/kdf"
	"github.com/aegis-chat/aegis/pkg/pqkem"
	"github.com/aegis-chat/aegis/pkg/ratchet"
	"github.com/aegis-chat/aegis/pkg/wire"
)

// handshakeTimeout is the hard budget for a handshake to complete;
// exceeding it is fatal with no retry (§4.8).
const handshakeTimeout = 30 * time.Second

// handshakeReadErr reports a failed handshake read as ErrTimeout only when
// the handshake deadline expired; other failures (EOF, malformed frames)
// keep their own error.
func handshakeReadErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("reading handshake: %w", err)
}

// connectHandshake performs the initiator side: generate an ephemeral
// KEM keypair, send it, wait for the encapsulated response, derive the
// master key, and construct the ratchet in initiator orientation.
func connectHandshake(c *conn) (*Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	kp, err := pqkem.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral keypair: %w", err)
	}

	req := wire.Envelope{
		Version:     wire.CurrentVersion,
		MessageType: wire.TypeHandshake,
		Timestamp:   uint64(time.Now().Unix()),
		Payload:     wire.HandshakePayload{PublicKey: kp.Public.Bytes()}.Encode(),
	}
	if err := c.writeFrame(ctx, req); err != nil {
		return nil, fmt.Errorf("sending handshake: %w", err)
	}

	resp, err := c.readFrame(ctx)
	if err != nil {
		return nil, handshakeReadErr(err)
	}
	if resp.MessageType != wire.TypeHandshakeResponse {
		return nil, fmt.Errorf("%w: expected HandshakeResponse, got %s", ErrProtocol, resp.MessageType)
	}

	payload, err := wire.DecodeHandshakeResponsePayload(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	ct, err := pqkem.CiphertextFromBytes(payload.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	sharedSecret, err := kp.Decapsulate(ct)
	if err != nil {
		return nil, fmt.Errorf("decapsulating: %w", err)
	}

	root, err := kdf.DeriveMasterKey(sharedSecret[:], []byte(kdf.SaltHandshake))
	zero(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}

	r, err := ratchet.New(root)
	if err != nil {
		return nil, fmt.Errorf("constructing ratchet: %w", err)
	}

	s := newSession(c, r, root, kp.Public)
	slog.Info("handshake complete", slog.String("role", "initiator"), slog.String("session_id", s.SessionID()))
	return s, nil
}

// acceptHandshake performs the responder side: wait for the initiator's
// public key, encapsulate a shared secret, reply, derive the master key
// identically, and construct the ratchet in responder orientation.
func acceptHandshake(c *conn) (*Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	req, err := c.readFrame(ctx)
	if err != nil {
		return nil, handshakeReadErr(err)
	}
	if req.MessageType != wire.TypeHandshake {
		return nil, fmt.Errorf("%w: expected Handshake, got %s", ErrProtocol, req.MessageType)
	}

	payload, err := wire.DecodeHandshakePayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	peerPublic, err := pqkem.PublicKeyFromBytes(payload.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	sharedSecret, ct, err := peerPublic.Encapsulate()
	if err != nil {
		return nil, fmt.Errorf("encapsulating: %w", err)
	}

	resp := wire.Envelope{
		Version:     wire.CurrentVersion,
		MessageType: wire.TypeHandshakeResponse,
		Timestamp:   uint64(time.Now().Unix()),
		Payload:     wire.HandshakeResponsePayload{Ciphertext: ct.Bytes()}.Encode(),
	}
	if err := c.writeFrame(ctx, resp); err != nil {
		return nil, fmt.Errorf("sending handshake response: %w", err)
	}

	root, err := kdf.DeriveMasterKey(sharedSecret[:], []byte(kdf.SaltHandshake))
	zero(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}

	r, err := ratchet.NewResponder(root)
	if err != nil {
		return nil, fmt.Errorf("constructing ratchet: %w", err)
	}

	s := newSession(c, r, root, peerPublic)
	slog.Info("handshake complete", slog.String("role", "responder"), slog.String("session_id", s.SessionID()))
	return s, nil
}
