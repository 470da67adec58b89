package trader

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// ToChecksumAddress applies EIP-55 mixed-case casing to a hex address.
// Addresses are stored lowercase internally; checksumming is for display,
// logs and journal rows.
func ToChecksumAddress(address string) string {
	addr := strings.ToLower(strings.TrimPrefix(address, "0x"))

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(addr))
	hash := hasher.Sum(nil)

	var b strings.Builder
	b.Grow(2 + len(addr))
	b.WriteString("0x")
	for i, c := range []byte(addr) {
		if c >= 'a' && c <= 'f' {
			nibble := hash[i/2] >> (4 * uint(1-i%2)) & 0xf
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
