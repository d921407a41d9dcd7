package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/webuildtrades/postcode-lookup/internal/metrics"
)

// Place finder backends selectable in the provider file.
const (
	FinderPostcodesIO  = "postcodes_io"
	FinderGooglePlaces = "google_places"
)

// Config describes the provider clients. It is loaded from an optional YAML
// file layered over values taken from the environment.
type Config struct {
	PostcodesIO struct {
		BaseURL     string        `yaml:"base_url"`
		Timeout     time.Duration `yaml:"timeout"`
		NearbyLimit int           `yaml:"nearby_limit"`
	} `yaml:"postcodes_io"`

	GooglePlaces struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"google_places"`

	// PlaceFinder selects the nearby backend: postcodes_io or google_places.
	PlaceFinder  string        `yaml:"place_finder"`
	RadiusMeters int           `yaml:"radius_meters"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns provider defaults. Google Places is chosen only when
// an API key is present.
func DefaultConfig(postcodesURL, placesURL, placesKey string, timeout time.Duration, radius int) Config {
	var c Config
	c.PostcodesIO.BaseURL = postcodesURL
	c.PostcodesIO.Timeout = timeout
	c.PostcodesIO.NearbyLimit = 10
	c.GooglePlaces.BaseURL = placesURL
	c.GooglePlaces.APIKey = placesKey
	c.GooglePlaces.Timeout = timeout
	c.PlaceFinder = FinderPostcodesIO
	if placesKey != "" {
		c.PlaceFinder = FinderGooglePlaces
	}
	c.RadiusMeters = radius
	c.Breaker = DefaultBreakerConfig()
	return c
}

// LoadConfig overlays the YAML file at path onto base. A missing file
// returns base unchanged.
func LoadConfig(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("failed to read provider config: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("failed to parse provider config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// Validate checks the provider settings.
func (c Config) Validate() error {
	if c.PostcodesIO.BaseURL == "" {
		return fmt.Errorf("postcodes_io.base_url is required")
	}
	switch c.PlaceFinder {
	case FinderPostcodesIO:
	case FinderGooglePlaces:
		if c.GooglePlaces.APIKey == "" {
			return fmt.Errorf("google_places.api_key is required when place_finder is %s", FinderGooglePlaces)
		}
	default:
		return fmt.Errorf("unknown place_finder %q", c.PlaceFinder)
	}
	if c.RadiusMeters <= 0 {
		return fmt.Errorf("radius_meters must be positive")
	}
	return nil
}

// Build constructs the provider Set described by c, each capability wrapped
// in a circuit breaker.
func Build(c Config, logger *zap.Logger, m *metrics.Metrics) (Set, *BreakerRegistry) {
	pc := NewPostcodesIO(c.PostcodesIO.BaseURL, c.PostcodesIO.Timeout, c.PostcodesIO.NearbyLimit, m)
	set := Set{Geocoder: pc, PlaceFinder: pc, Suggester: pc}
	names := SetNames{Geocoder: PostcodesIOName, PlaceFinder: PostcodesIOName, Suggester: PostcodesIOName}

	if c.PlaceFinder == FinderGooglePlaces {
		set.PlaceFinder = NewGooglePlaces(c.GooglePlaces.BaseURL, c.GooglePlaces.APIKey, c.GooglePlaces.Timeout, m)
		names.PlaceFinder = GooglePlacesName
	}

	registry := NewBreakerRegistry(c.Breaker, logger, m)
	return registry.Wrap(set, names), registry
}
