package apikey

import (
	"context"
	"errors"
	"fmt"
)

// Errors related to key validation. Every rejection wraps ErrUnauthorized so
// callers only need errors.Is(err, ErrUnauthorized).
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrMissingKey   = errors.New("api key missing")
	ErrKeyNotFound  = errors.New("api key not found")
	ErrAmbiguousKey = errors.New("api key matches more than one profile")
)

// Validator resolves a presented key to exactly one profile.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	store ProfileStore
}

// NewValidator creates a Validator backed by store.
func NewValidator(store ProfileStore) *Validator {
	return &Validator{store: store}
}

// Validate returns the single profile owning key. The key is compared as
// given: case-sensitive, no trimming.
func (v *Validator) Validate(ctx context.Context, key string) (Profile, error) {
	if key == "" {
		return Profile{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrMissingKey)
	}

	// Two rows are enough to tell "exactly one" from "ambiguous".
	profiles, err := v.store.GetProfilesByAPIKey(ctx, key, 2)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: profile lookup failed: %w", ErrUnauthorized, err)
	}

	switch len(profiles) {
	case 0:
		return Profile{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrKeyNotFound)
	case 1:
		return profiles[0], nil
	default:
		return Profile{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrAmbiguousKey)
	}
}
