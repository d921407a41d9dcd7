// Package obfuscate redacts API keys and other secrets before they reach logs.
package obfuscate

import (
	"strings"
)

// KeyPrefix is the prefix carried by every issued API key.
const KeyPrefix = "pk_"

// Generic obfuscates arbitrary secret-like strings for display/logging.
// - length <= 4  → all asterisks of same length
// - 5..12        → keep first 2 characters, replace the rest with asterisks
// - > 12         → keep first 8 characters, then "...", then last 4 characters
func Generic(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	if len(s) <= 12 {
		return s[:2] + strings.Repeat("*", len(s)-2)
	}
	return s[:8] + "..." + s[len(s)-4:]
}

// Key obfuscates an API key. Keys carrying KeyPrefix keep the prefix and the
// first and last four characters of the remainder; anything else is treated
// as an untrusted string and goes through Generic.
func Key(s string) string {
	if s == "" {
		return s
	}
	if !strings.HasPrefix(s, KeyPrefix) {
		return Generic(s)
	}
	rest := s[len(KeyPrefix):]
	if len(rest) <= 8 {
		return KeyPrefix + strings.Repeat("*", len(rest))
	}
	const visible = 4
	return KeyPrefix + rest[:visible] + strings.Repeat("*", len(rest)-visible*2) + rest[len(rest)-visible:]
}
