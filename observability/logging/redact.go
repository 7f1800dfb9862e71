package logging

import "strings"

// RedactedValue is the canonical placeholder used for secret material in logs.
const RedactedValue = "[REDACTED]"

// MaskSecret replaces non-empty secret values (signing keys, admin API keys)
// with the canonical placeholder. Wallet addresses and transaction signatures
// are public on-chain and are logged verbatim.
func MaskSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}
