// Package apikey issues API keys and resolves presented keys to profiles.
package apikey

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/webuildtrades/postcode-lookup/internal/obfuscate"
)

// KeyPrefix is the prefix for all API keys
const KeyPrefix = obfuscate.KeyPrefix

// Generate returns a new API key: KeyPrefix followed by the URL-safe base64
// encoding of a UUIDv7. The embedded timestamp keeps keys time-ordered.
func Generate() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}

	raw, err := id.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal UUID: %w", err)
	}

	return KeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}
