// Package provider talks to the external postcode and places APIs behind
// small capability interfaces so the concrete service can be swapped.
package provider

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the provider does not know the postcode.
	ErrNotFound = errors.New("postcode not found")
	// ErrRateLimited is returned when the provider throttles us.
	ErrRateLimited = errors.New("provider rate limit exceeded")
)

// UpstreamError is any other non-success answer from a provider.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Message)
}

// Location is a geocoded postcode.
type Location struct {
	Postcode  string  `json:"postcode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Town      string  `json:"town,omitempty"`
	District  string  `json:"district,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// Place is one nearby result.
type Place struct {
	ID        string
	Name      string
	Building  string
	Street    string
	Town      string
	Postcode  string
	Latitude  float64
	Longitude float64
}

// Geocoder resolves a postcode to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, postcode string) (Location, error)
}

// PlaceFinder lists places around a location.
type PlaceFinder interface {
	Nearby(ctx context.Context, loc Location, radiusMeters int) ([]Place, error)
}

// Suggester completes partial postcodes.
type Suggester interface {
	Autocomplete(ctx context.Context, partial string) ([]string, error)
}

// Set bundles the capabilities the lookup service needs.
type Set struct {
	Geocoder    Geocoder
	PlaceFinder PlaceFinder
	Suggester   Suggester
}
