package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/mdp/qrterminal/v3"
)

// QrCode renders b's SHA-256 hash, hex-encoded, as a terminal QR code.
// Encoding a raw 1568-byte ML-KEM-1024 public key directly would produce
// a QR dense enough to be unreadable in a terminal at normal zoom; the
// 32-byte digest keeps the code scannable.
func QrCode(b []byte) ([]byte, error) {
	sum := sha256.Sum256(b)
	var buffer bytes.Buffer
	qrterminal.Generate(hex.EncodeToString(sum[:]), qrterminal.L, &buffer)
	return buffer.Bytes(), nil
}
