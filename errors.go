package aegis

import "errors"

// Sentinel errors for session-level failures, matching the teacher's
// package-level Err* convention so callers can errors.Is/As against them.
var (
	// ErrConnClosed means the peer disconnected or the transport hit EOF.
	ErrConnClosed = errors.New("aegis: connection closed")

	// ErrNotEstablished means Send/Recv was called before a handshake
	// completed, or after the session was torn down.
	ErrNotEstablished = errors.New("aegis: session not established")

	// ErrProtocol covers malformed envelopes, wrong message types, and
	// out-of-range versions; always fatal to the session.
	ErrProtocol = errors.New("aegis: protocol error")

	// ErrTimeout means the handshake did not complete within its 30 s
	// budget.
	ErrTimeout = errors.New("aegis: handshake timed out")

	// ErrAuthenticationFailed means an AEAD tag failed to verify.
	ErrAuthenticationFailed = errors.New("aegis: authentication failed")

	// ErrReplayDetected means the replay guard rejected a counter or
	// timestamp after a successful AEAD open.
	ErrReplayDetected = errors.New("aegis: replay detected")
)
