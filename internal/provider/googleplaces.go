package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/webuildtrades/postcode-lookup/internal/metrics"
)

// GooglePlacesName labels Google Places in metrics and breaker names.
const GooglePlacesName = "google_places"

// GooglePlaces is a PlaceFinder over the Places Nearby Search REST API.
type GooglePlaces struct {
	baseURL string
	apiKey  string
	http    httpClient
}

// NewGooglePlaces creates a client.
func NewGooglePlaces(baseURL, apiKey string, timeout time.Duration, m *metrics.Metrics) *GooglePlaces {
	return &GooglePlaces{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    newHTTPClient(GooglePlacesName, timeout, m),
	}
}

type gpResponse struct {
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message"`
	Results      []gpResult `json:"results"`
}

type gpResult struct {
	PlaceID  string `json:"place_id"`
	Name     string `json:"name"`
	Vicinity string `json:"vicinity"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// Nearby implements PlaceFinder.
func (c *GooglePlaces) Nearby(ctx context.Context, loc Location, radiusMeters int) ([]Place, error) {
	q := url.Values{}
	q.Set("location", strconv.FormatFloat(loc.Latitude, 'f', -1, 64)+","+strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(radiusMeters))
	q.Set("key", c.apiKey)

	var body gpResponse
	status, err := c.http.getJSON(ctx, "nearby", c.baseURL+"/maps/api/place/nearbysearch/json?"+q.Encode(), &body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: GooglePlacesName, Status: status, Message: body.ErrorMessage}
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []Place{}, nil
	case "OVER_QUERY_LIMIT":
		return nil, ErrRateLimited
	default:
		return nil, &UpstreamError{Provider: GooglePlacesName, Status: http.StatusBadGateway, Message: strings.TrimSpace(body.Status + " " + body.ErrorMessage)}
	}

	places := make([]Place, 0, len(body.Results))
	for _, r := range body.Results {
		building, street, town := splitVicinity(r.Vicinity)
		places = append(places, Place{
			ID:        r.PlaceID,
			Name:      r.Name,
			Building:  building,
			Street:    street,
			Town:      town,
			Postcode:  loc.Postcode,
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
		})
	}
	return places, nil
}

// splitVicinity breaks "10 Downing Street, London" into building, street and town.
func splitVicinity(v string) (building, street, town string) {
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > 1 {
		town = parts[len(parts)-1]
	}
	street = parts[0]
	if first, rest, ok := strings.Cut(street, " "); ok && first != "" && unicode.IsDigit(rune(first[0])) {
		building, street = first, rest
	}
	return building, street, town
}

// String implements fmt.Stringer for log fields.
func (c *GooglePlaces) String() string {
	return fmt.Sprintf("%s(%s)", GooglePlacesName, c.baseURL)
}
