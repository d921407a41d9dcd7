package apikey

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProfileNotFound is returned by stores when no profile has the given id.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileExists is returned when creating a profile whose id or email is taken.
	ErrProfileExists = errors.New("profile already exists")
)

// Profile is the account record a key resolves to.
type Profile struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	FullName          string     `json:"full_name,omitempty"`
	APIKey            string     `json:"api_key,omitempty"` // empty until generated
	RateLimit         int        `json:"rate_limit"`        // requests per window, 0 = unlimited
	AllowedDomains    []string   `json:"allowed_domains"`   // empty = unrestricted
	IsAdmin           bool       `json:"is_admin"`
	RequestCount      int        `json:"request_count"`
	LastRequestAt     *time.Time `json:"last_request_time,omitempty"`
	APIKeyGeneratedAt *time.Time `json:"api_key_generated_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasKey reports whether an API key has been generated for the profile.
func (p Profile) HasKey() bool {
	return p.APIKey != ""
}

// ProfileStore is the read path the validator needs.
type ProfileStore interface {
	// GetProfilesByAPIKey returns at most limit profiles whose key equals key.
	GetProfilesByAPIKey(ctx context.Context, key string, limit int) ([]Profile, error)
}
