package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length.
// Matches the algorithm used for bd hash IDs.
func EncodeBase36(data []byte, length int) string {
	// Convert bytes to big integer
	num := new(big.Int).SetBytes(data)

	// Convert to base36
	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	// Build the string in reverse
	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	// Reverse the string
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	// Pad with zeros if needed
	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}

	// Truncate to exact length if needed (keep least significant digits)
	if len(str) > length {
		str = str[len(str)-length:]
	}

	return str
}

// GenerateCaseHandleToken creates the opaque case-handle identity token that
// §6.5 says is produced by the external native layer and echoed back by the
// core. Within this Go port, the core itself mints it at case-open: a short
// base36 digest of the case path and open time, stable for the lifetime of
// the process but not required to be globally unique across restarts.
func GenerateCaseHandleToken(casePath string, openedAt time.Time, nonce int) string {
	content := fmt.Sprintf("%s|%d|%d", casePath, openedAt.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))
	return "case-" + EncodeBase36(hash[:6], 10)
}
