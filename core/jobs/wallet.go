package jobs

import (
	"strings"

	"github.com/mr-tron/base58"
)

// ValidWallet reports whether s decodes to a 32-byte base58 chain address.
func ValidWallet(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 32 || len(trimmed) > 44 {
		return false
	}
	raw, err := base58.Decode(trimmed)
	if err != nil {
		return false
	}
	return len(raw) == 32
}
