// Package aegis implements the post-quantum-secure peer-to-peer terminal
// chat session layer: a PQ KEM handshake, a two-chain symmetric double
// ratchet, a framed AEAD wire protocol, and a replay guard, composed into
// a single-owner Session over any reliable byte stream.
package aegis

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegis-chat/aegis/internal/enigma"
	"github.com/aegis-chat/aegis/pkg/kdf"
	"github.com/aegis-chat/aegis/pkg/pqkem"
	"github.com/aegis-chat/aegis/pkg/ratchet"
	"github.com/aegis-chat/aegis/pkg/replay"
	"github.com/aegis-chat/aegis/pkg/secbuf"
	"github.com/aegis-chat/aegis/pkg/wire"
)

// Session is an established, post-handshake encrypted channel with one
// peer. Single-owner per §5: all methods must be called from one
// goroutine, and no internal locking is provided beyond what's needed to
// make Close safe to call once from another goroutine.
type Session struct {
	conn    *conn
	ratchet *ratchet.Ratchet
	guard   *replay.Guard
	// rootKey is the handshake's master secret, held in a locked,
	// zero-on-Close buffer rather than a plain array (§9).
	rootKey     *secbuf.Buffer
	keyID       uint16
	established bool

	// initiatorPublic is the one asymmetric key exchanged in the
	// handshake (§4.4): the initiator's ephemeral KEM public key. Both
	// ends see the same bytes, which is what makes it useful as an
	// out-of-band TOFU fingerprint (§12 supplement) — it is never a
	// persistent identity.
	initiatorPublic pqkem.PublicKey
	sessionID       string
	store           *Storage
}

func newSession(c *conn, r *ratchet.Ratchet, rootKey [32]byte, initiatorPublic pqkem.PublicKey) *Session {
	idSum := sha256.Sum256(rootKey[:])
	s := &Session{
		conn:            c,
		ratchet:         r,
		guard:           replay.New(),
		rootKey:         secbuf.New(rootKey[:]),
		established:     true,
		initiatorPublic: initiatorPublic,
		sessionID:       hex.EncodeToString(idSum[:8]),
	}
	zero(rootKey[:])
	return s
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SessionID identifies this handshake; it is derived from the shared
// master key, so both ends compute the same value without exchanging
// anything further. Used to scope local chat history.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Fingerprint returns the raw bytes of the initiator's ephemeral KEM
// public key, the one piece of asymmetric material either side can
// display (e.g. via pkg/fingerprint) and compare out of band to confirm
// they share the same session.
func (s *Session) Fingerprint() []byte {
	return s.initiatorPublic.Bytes()
}

// Store returns the Storage attached to this Session by its Dialer or
// Server, or nil if none was configured.
func (s *Session) Store() *Storage {
	return s.store
}

// ProveKeyKnowledge answers challenge with a keyed proof over this
// session's root secret. An out-of-band verifier who also holds the root
// secret (i.e. the peer on the other end of this very session) can
// recompute the same proof and compare, confirming both sides derived
// the same handshake secret without exposing it directly. This never
// substitutes for the KEM handshake itself and never touches persistent
// identity — it's a convenience for a CLI "verify fingerprint" flow.
func (s *Session) ProveKeyKnowledge(challenge []byte) ([32]byte, error) {
	return kdf.ProveKeyKnowledge(s.rootKey.Bytes(), challenge)
}

// Send encrypts and transmits one application message.
func (s *Session) Send(ctx context.Context, plaintext []byte) error {
	if !s.established {
		return ErrNotEstablished
	}

	key, counter, err := s.ratchet.NextSendKey()
	if err != nil {
		return fmt.Errorf("deriving send key: %w", err)
	}
	cipher, err := enigma.NewFromKey(key[:])
	if err != nil {
		return fmt.Errorf("building send cipher: %w", err)
	}

	var nonce [wire.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := cipher.SealDetached(nonce[:], plaintext, nil)

	payload := wire.EncryptedMessagePayload{Nonce: nonce, Counter: counter, Ciphertext: ciphertext}
	env := wire.Envelope{
		Version:     wire.CurrentVersion,
		MessageType: wire.TypeEncryptedMessage,
		Timestamp:   uint64(time.Now().Unix()),
		KeyID:       s.keyID,
		Payload:     payload.Encode(),
	}
	return s.conn.writeFrame(ctx, env)
}

// Recv reads one framed message and dispatches on its type, per §4.8.
// EncryptedMessage yields the decrypted plaintext. Heartbeat and
// KeyRotation are handled internally and yield an empty, non-nil slice.
// Disconnect yields ErrConnClosed. Any other type is a protocol error.
func (s *Session) Recv(ctx context.Context) ([]byte, error) {
	if !s.established {
		return nil, ErrNotEstablished
	}

	env, err := s.conn.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	if env.Version > wire.CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrProtocol, env.Version)
	}
	if env.Timestamp > uint64(time.Now().Add(replay.MaxSkew).Unix()) {
		return nil, fmt.Errorf("%w: timestamp too far in the future", ErrProtocol)
	}

	switch env.MessageType {
	case wire.TypeEncryptedMessage:
		return s.recvEncrypted(env)
	case wire.TypeKeyRotation:
		return s.recvKeyRotation(env)
	case wire.TypeHeartbeat:
		if err := s.sendHeartbeat(ctx); err != nil {
			return nil, err
		}
		return []byte{}, nil
	case wire.TypeDisconnect:
		s.established = false
		return nil, ErrConnClosed
	default:
		return nil, fmt.Errorf("%w: unexpected message type %s", ErrProtocol, env.MessageType)
	}
}

func (s *Session) recvEncrypted(env *wire.Envelope) ([]byte, error) {
	payload, err := wire.DecodeEncryptedMessagePayload(env.Payload)
	if err != nil {
		s.established = false
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	key, err := s.ratchet.RecvKey(payload.Counter)
	if err != nil {
		s.established = false
		return nil, fmt.Errorf("retrieving recv key: %w", err)
	}
	cipher, err := enigma.NewFromKey(key[:])
	if err != nil {
		s.established = false
		return nil, fmt.Errorf("building recv cipher: %w", err)
	}
	plaintext, err := cipher.OpenDetached(payload.Nonce[:], payload.Ciphertext, nil)
	if err != nil {
		s.established = false
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	if err := s.guard.Check(payload.Counter, time.Unix(int64(env.Timestamp), 0)); err != nil {
		s.established = false
		return nil, fmt.Errorf("%w: %v", ErrReplayDetected, err)
	}

	return plaintext, nil
}

func (s *Session) recvKeyRotation(env *wire.Envelope) ([]byte, error) {
	payload, err := wire.DecodeKeyRotationPayload(env.Payload)
	if err != nil {
		s.established = false
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	newRoot, err := kdf.DeriveKeyBundle(s.rootKey.Bytes(), payload.BundleIndex)
	if err != nil {
		s.established = false
		return nil, fmt.Errorf("deriving key bundle: %w", err)
	}
	if err := s.ratchet.Rekey(newRoot); err != nil {
		s.established = false
		return nil, fmt.Errorf("rekeying: %w", err)
	}
	s.keyID++
	slog.Info("key rotation received", slog.String("session_id", s.sessionID), slog.Uint64("bundle_index", payload.BundleIndex))
	return []byte{}, nil
}

// RotateKeys derives bundle index idx from the handshake's root secret,
// rekeys the local ratchet, and tells the peer to do the same via an
// explicit KeyRotation message (§12).
func (s *Session) RotateKeys(ctx context.Context, idx uint64) error {
	if !s.established {
		return ErrNotEstablished
	}

	newRoot, err := kdf.DeriveKeyBundle(s.rootKey.Bytes(), idx)
	if err != nil {
		return fmt.Errorf("deriving key bundle: %w", err)
	}
	if err := s.ratchet.Rekey(newRoot); err != nil {
		return fmt.Errorf("rekeying: %w", err)
	}
	s.keyID++
	slog.Info("key rotation sent", slog.String("session_id", s.sessionID), slog.Uint64("bundle_index", idx))

	env := wire.Envelope{
		Version:     wire.CurrentVersion,
		MessageType: wire.TypeKeyRotation,
		Timestamp:   uint64(time.Now().Unix()),
		KeyID:       s.keyID,
		Payload:     wire.KeyRotationPayload{BundleIndex: idx}.Encode(),
	}
	return s.conn.writeFrame(ctx, env)
}

// Rotate mixes the current rotation epoch into the ratchet's chain keys.
// The owner should call this on a 60 s schedule so the receive chain
// rotates even on an otherwise-idle session (§5).
func (s *Session) Rotate() error {
	return s.ratchet.Rotate()
}

// SecondsUntilRotation reports how long until the next auto-rotation is
// due on the send path.
func (s *Session) SecondsUntilRotation() time.Duration {
	return s.ratchet.SecondsUntilRotation()
}

func (s *Session) sendHeartbeat(ctx context.Context) error {
	env := wire.Envelope{
		Version:     wire.CurrentVersion,
		MessageType: wire.TypeHeartbeat,
		Timestamp:   uint64(time.Now().Unix()),
		KeyID:       s.keyID,
	}
	return s.conn.writeFrame(ctx, env)
}

// SendHeartbeat proactively sends a heartbeat, for the owner's externally
// driven 30 s heartbeat schedule (§6, §12).
func (s *Session) SendHeartbeat(ctx context.Context) error {
	if !s.established {
		return ErrNotEstablished
	}
	return s.sendHeartbeat(ctx)
}

// Close sends a best-effort Disconnect, shuts down the transport, and
// zeroizes all ratchet key material.
func (s *Session) Close() error {
	slog.Info("closing session", slog.String("session_id", s.sessionID))
	if s.established {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env := wire.Envelope{
			Version:     wire.CurrentVersion,
			MessageType: wire.TypeDisconnect,
			Timestamp:   uint64(time.Now().Unix()),
		}
		_ = s.conn.writeFrame(ctx, env)
		s.established = false
	}
	s.ratchet.Close()
	s.rootKey.Close()
	return s.conn.Close()
}
