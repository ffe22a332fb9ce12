package fingerprint

import "crypto/sha256"

const hexDigits = "0123456789ABCDEF"

// Hex renders a colon-separated hex digest of b's SHA-256 hash, the same
// first step Emoji takes. A Session's fingerprint is a raw ML-KEM-1024
// public key (1568 bytes); hex-dumping that directly would run to several
// thousand characters, so Hex hashes down to a fixed 32-byte digest first.
func Hex(b []byte) string {
	sum := sha256.Sum256(b)
	digest := sum[:]
	s := make([]byte, len(digest)*3-1)
	for i, v := range digest {
		pos := i * 3
		s[pos] = hexDigits[v>>4]
		s[pos+1] = hexDigits[v&0x0F]
		if i != len(digest)-1 {
			s[pos+2] = ':'
		}
	}
	return string(s)
}
