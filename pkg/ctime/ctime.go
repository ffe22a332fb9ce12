// Package ctime collects constant-time primitives: equality, selection,
// and block padding that do not branch on secret data. No other package in
// this module imports it.
package ctime

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// Equal reports whether a and b hold the same bytes, in constant time with
// respect to their contents (the comparison still short-circuits on
// differing lengths, which are not secret).
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Select returns a if v == 1, b if v == 0, without branching on v. Both
// slices must have equal length.
func Select(v int, a, b []byte) []byte {
	out := make([]byte, len(a))
	subtle.ConstantTimeCopy(1-v, out, b)
	subtle.ConstantTimeCopy(v, out, a)
	return out
}

var ErrPaddingInvalid = errors.New("ctime: invalid padding")

// PadToBlockSize prepends a 2-byte big-endian length prefix to data and
// pads the result with zero bytes up to the next multiple of blockSize,
// hiding the plaintext's exact length from an observer watching ciphertext
// size alone.
func PadToBlockSize(data []byte, blockSize int) []byte {
	prefixed := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(prefixed, uint16(len(data)))
	copy(prefixed[2:], data)

	padded := len(prefixed)
	if rem := padded % blockSize; rem != 0 {
		padded += blockSize - rem
	}
	out := make([]byte, padded)
	copy(out, prefixed)
	return out
}

// Unpad reverses PadToBlockSize, validating the embedded length against the
// padded buffer's size.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrPaddingInvalid
	}
	n := int(binary.BigEndian.Uint16(padded))
	if 2+n > len(padded) {
		return nil, ErrPaddingInvalid
	}
	return padded[2 : 2+n], nil
}
