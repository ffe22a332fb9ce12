package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
)

var emojiList = []string{
	"ğŸ˜", "ğŸ‘»", "ğŸ‘", "ğŸ‘‘", "ğŸƒ", "ğŸ˜", "ğŸ˜", "ğŸ˜‚",
	"ğŸ¶", "ğŸ±", "ğŸ¦", "ğŸ¹", "ğŸ°", "ğŸ¦Š", "ğŸ»", "ğŸ¼",
	"ğŸŒ¸", "ğŸŒ¼", "ğŸª·", "ğŸŒ¹", "ğŸŒº", "ğŸ", "ğŸŒ³", "ğŸŒµ",
	"ğŸ", "ğŸŒ", "ğŸ‡", "ğŸ“", "ğŸ’", "ğŸ•", "ğŸ”", "ğŸŸ",
	"â˜•ï¸", "ğŸ¦", "ğŸ¥•", "â˜€ï¸", "ğŸŒ™", "â„ï¸", "â˜ï¸", "ğŸ§‚",
	"ğŸ’¡", "ğŸ¹", "ğŸ’", "ğŸ“·", "ğŸ€", "ğŸ®", "ğŸ²", "ğŸ©",
	"â¤ï¸", "ğŸ", "â°", "ğŸ’", "ğŸ§²", "ğŸ”‘", "ğŸš—ï¸", "ğŸš€",
	"âœ¨", "ğŸ”¥", "ğŸŒˆ", "ğŸ‰", "ğŸ¶", "ğŸ”’", "ğŸ“Œ", "âœ…",
}

// Emoji renders s's SHA-256 hash as a sequence of 8 emoji. s is typically
// a Session's raw ML-KEM-1024 public key fingerprint (1568 bytes); hashing
// down to a fixed digest first is what lets Hex and QrCode render the same
// scale of input.
func Emoji(s []byte) []string {
	hash := sha256.Sum256(s)
	offset := 0
	l := uint32(len(emojiList))
	emojis := make([]string, 8)
	for i := range 8 {
		offset = i * 4
		num := binary.BigEndian.Uint32(hash[offset : offset+4])
		emojis[i] = emojiList[num%l]
	}
	return emojis
}
