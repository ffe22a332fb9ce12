// Package ratchet implements the two-chain symmetric double ratchet: no
// Diffie-Hellman step, forward secrecy from per-message key derivation plus
// periodic wall-clock root rotation. One Ratchet per Session; never shared.
package ratchet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-chat/aegis/pkg/kdf"
	"github.com/aegis-chat/aegis/pkg/secbuf"
)

const (
	// RotationInterval is how often the owner is expected to call Rotate;
	// NextSendKey also triggers it lazily on the send side.
	RotationInterval = 60 * time.Second

	// MaxSkip bounds how far ahead of recvCounter a received counter may
	// be before it's rejected outright.
	MaxSkip = 1000

	// SkippedCacheHighWater is the size at which Rotate clears the
	// skipped-key cache rather than let it grow unbounded.
	SkippedCacheHighWater = 100
)

var (
	ErrChainNotInitialized  = errors.New("ratchet: chain not initialized")
	ErrTooManySkipped       = errors.New("ratchet: too many skipped messages")
	ErrMessageKeyNotFound   = errors.New("ratchet: message key not found")
)

// Ratchet holds one session's send/recv chain state. Each method holds an
// internal mutex for its duration; the owning session still drives it
// from one goroutine, per the single-owner session model (§5).
type Ratchet struct {
	mu sync.Mutex

	// rootKey/sendChainKey/recvChainKey live in locked, zero-on-Close
	// buffers rather than plain arrays: they're the actual secrets this
	// type exists to protect.
	rootKey      *secbuf.Buffer
	sendChainKey *secbuf.Buffer
	recvChainKey *secbuf.Buffer

	sendCounter uint64
	recvCounter uint64

	lastRotation time.Time
	skipped      map[uint64][32]byte

	// initiator records which chain-key domain separator maps to "send"
	// vs "recv", so Rekey can reseed with the same orientation.
	initiator bool

	now func() time.Time
}

// New constructs a Ratchet in initiator orientation: the initiator's send
// chain is seeded from "send-chain-v1", recv chain from "recv-chain-v1".
func New(rootKey [32]byte) (*Ratchet, error) {
	return newRatchet(rootKey, true)
}

// NewResponder constructs a Ratchet in responder orientation: the chain
// seeds are swapped so the initiator's send chain equals the responder's
// recv chain and vice versa.
func NewResponder(rootKey [32]byte) (*Ratchet, error) {
	return newRatchet(rootKey, false)
}

func newRatchet(rootKey [32]byte, initiator bool) (*Ratchet, error) {
	r := &Ratchet{
		skipped:   make(map[uint64][32]byte),
		initiator: initiator,
		now:       time.Now,
	}
	if err := r.seedChains(rootKey[:]); err != nil {
		return nil, err
	}
	r.rootKey = secbuf.New(rootKey[:])
	zero(rootKey[:])
	r.lastRotation = r.now()
	return r, nil
}

// seedChains derives fresh send/recv chain buffers from root and replaces
// whatever this Ratchet currently holds, closing the old buffers first.
func (r *Ratchet) seedChains(root []byte) error {
	sendInfo, recvInfo := kdf.InfoSendChain, kdf.InfoRecvChain
	if !r.initiator {
		sendInfo, recvInfo = kdf.InfoRecvChain, kdf.InfoSendChain
	}
	send, err := kdf.DeriveChainKey(root, sendInfo)
	if err != nil {
		return fmt.Errorf("seeding send chain: %w", err)
	}
	recv, err := kdf.DeriveChainKey(root, recvInfo)
	if err != nil {
		return fmt.Errorf("seeding recv chain: %w", err)
	}
	if r.sendChainKey != nil {
		r.sendChainKey.Close()
	}
	if r.recvChainKey != nil {
		r.recvChainKey.Close()
	}
	r.sendChainKey = secbuf.New(send[:])
	r.recvChainKey = secbuf.New(recv[:])
	zero(send[:])
	zero(recv[:])
	return nil
}

// NextSendKey derives the next per-message send key and its counter,
// rotating the root first if RotationInterval has elapsed since the last
// rotation.
func (r *Ratchet) NextSendKey() (key [32]byte, counter uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.now().Sub(r.lastRotation) >= RotationInterval {
		if err = r.rotateLocked(); err != nil {
			return key, 0, err
		}
	}

	key, err = kdf.DeriveMessageKey(r.sendChainKey.Bytes(), r.sendCounter)
	if err != nil {
		return key, 0, fmt.Errorf("deriving send message key: %w", err)
	}
	counter = r.sendCounter

	next, err := kdf.DeriveChainKey(r.sendChainKey.Bytes(), kdf.InfoChainAdvance)
	if err != nil {
		return key, 0, fmt.Errorf("advancing send chain: %w", err)
	}
	r.sendChainKey.Close()
	r.sendChainKey = secbuf.New(next[:])
	zero(next[:])
	r.sendCounter++

	return key, counter, nil
}

// RecvKey derives the message key for counter c, handling out-of-order
// delivery via the skipped-key cache, per §4.5.
func (r *Ratchet) RecvKey(c uint64) (key [32]byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mk, ok := r.skipped[c]; ok {
		delete(r.skipped, c)
		return mk, nil
	}

	switch {
	case c > r.recvCounter:
		if c-r.recvCounter > MaxSkip {
			return key, ErrTooManySkipped
		}
		for i := r.recvCounter; i < c; i++ {
			mk, derr := kdf.DeriveMessageKey(r.recvChainKey.Bytes(), i)
			if derr != nil {
				return key, fmt.Errorf("deriving skipped key %d: %w", i, derr)
			}
			r.skipped[i] = mk
			next, derr := kdf.DeriveChainKey(r.recvChainKey.Bytes(), kdf.InfoChainAdvance)
			if derr != nil {
				return key, fmt.Errorf("advancing recv chain: %w", derr)
			}
			r.recvChainKey.Close()
			r.recvChainKey = secbuf.New(next[:])
			zero(next[:])
		}
		r.recvCounter = c
	case c < r.recvCounter:
		return key, ErrMessageKeyNotFound
	}

	key, err = kdf.DeriveMessageKey(r.recvChainKey.Bytes(), c)
	if err != nil {
		return key, fmt.Errorf("deriving recv message key: %w", err)
	}

	if c == r.recvCounter {
		next, derr := kdf.DeriveChainKey(r.recvChainKey.Bytes(), kdf.InfoChainAdvance)
		if derr != nil {
			return key, fmt.Errorf("advancing recv chain: %w", derr)
		}
		r.recvChainKey.Close()
		r.recvChainKey = secbuf.New(next[:])
		zero(next[:])
		r.recvCounter++
	}

	return key, nil
}

// Rotate mixes the current rotation epoch into both chain keys via
// HMAC-SHA256, without resetting either counter.
func (r *Ratchet) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked()
}

func (r *Ratchet) rotateLocked() error {
	epoch := uint64(r.now().Unix()) / uint64(RotationInterval/time.Second)
	ctx := kdf.RotationContext(epoch)

	newSend := kdf.RatchetKeyHMAC(r.sendChainKey.Bytes(), ctx)
	newRecv := kdf.RatchetKeyHMAC(r.recvChainKey.Bytes(), ctx)
	r.sendChainKey.Close()
	r.recvChainKey.Close()
	r.sendChainKey = secbuf.New(newSend[:])
	r.recvChainKey = secbuf.New(newRecv[:])
	zero(newSend[:])
	zero(newRecv[:])
	r.lastRotation = r.now()

	if len(r.skipped) > SkippedCacheHighWater {
		r.skipped = make(map[uint64][32]byte)
	}
	return nil
}

// Rekey replaces the root key entirely, re-seeds both chains from it with
// the same orientation this Ratchet was constructed with, and resets both
// counters and the skipped-key cache. Used only on an explicit KeyRotation
// protocol message (§12).
func (r *Ratchet) Rekey(newRoot [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.seedChains(newRoot[:]); err != nil {
		return err
	}
	r.rootKey.Close()
	r.rootKey = secbuf.New(newRoot[:])
	zero(newRoot[:])
	r.sendCounter = 0
	r.recvCounter = 0
	r.skipped = make(map[uint64][32]byte)
	r.lastRotation = r.now()
	return nil
}

// SecondsUntilRotation reports how long until the next auto-rotation is due
// on the send path, saturating at zero if it's already overdue or the wall
// clock moved backward.
func (r *Ratchet) SecondsUntilRotation() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := r.now().Sub(r.lastRotation)
	if elapsed >= RotationInterval {
		return 0
	}
	return RotationInterval - elapsed
}

// SendCounter returns the next counter NextSendKey will hand out.
func (r *Ratchet) SendCounter() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendCounter
}

// RecvCounter returns the next counter the receive chain expects: one past
// the highest counter received so far (0 before any message).
func (r *Ratchet) RecvCounter() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recvCounter
}

// SkippedCount reports the number of cached skipped-message keys.
func (r *Ratchet) SkippedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.skipped)
}

// Close zeroizes all key material. Safe to call once the Ratchet is no
// longer in use; further use after Close is undefined.
func (r *Ratchet) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rootKey.Close()
	r.sendChainKey.Close()
	r.recvChainKey.Close()
	for k, v := range r.skipped {
		zero(v[:])
		delete(r.skipped, k)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
