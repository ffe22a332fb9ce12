// Package secbuf provides a zero-on-close, best-effort memory-locked byte
// container for secret material: root keys, chain keys, message keys, KEM
// secret keys. Locking failure (insufficient privilege, unsupported
// platform) degrades to a plain heap allocation; it is defense in depth,
// never a security boundary the protocol depends on.
package secbuf

import "sync"

// Buffer holds sensitive bytes. Its methods hold an internal mutex; the
// slice returned by Bytes is not protected by it.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// New copies b into a new locked buffer. The caller's b is left untouched;
// zero it yourself if you no longer need it.
func New(b []byte) *Buffer {
	buf := &Buffer{data: make([]byte, len(b))}
	copy(buf.data, b)
	buf.locked = lockMemory(buf.data)
	return buf
}

// Bytes returns the buffer's contents. The returned slice aliases internal
// storage and must not be retained past the buffer's lifetime.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	return b.data
}

// Locked reports whether the underlying memory is pinned (mlock succeeded).
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Close overwrites the buffer's bytes with zeroes and releases any memory
// lock. Safe to call more than once.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for i := range b.data {
		b.data[i] = 0
	}
	var err error
	if b.locked {
		err = unlockMemory(b.data)
	}
	b.closed = true
	return err
}
