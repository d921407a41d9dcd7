package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/webuildtrades/postcode-lookup/internal/metrics"
)

// PostcodesIOName labels postcodes.io in metrics and breaker names.
const PostcodesIOName = "postcodes_io"

// PostcodesIO is a client for the postcodes.io REST API. It implements
// Geocoder, PlaceFinder (nearest postcodes) and Suggester.
type PostcodesIO struct {
	baseURL string
	limit   int
	http    httpClient
}

// NewPostcodesIO creates a client. nearbyLimit caps reverse-geocoding results.
func NewPostcodesIO(baseURL string, timeout time.Duration, nearbyLimit int, m *metrics.Metrics) *PostcodesIO {
	if nearbyLimit <= 0 {
		nearbyLimit = 10
	}
	return &PostcodesIO{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   nearbyLimit,
		http:    newHTTPClient(PostcodesIOName, timeout, m),
	}
}

type pcResult struct {
	Postcode      string  `json:"postcode"`
	Longitude     float64 `json:"longitude"`
	Latitude      float64 `json:"latitude"`
	AdminDistrict string  `json:"admin_district"`
	AdminWard     string  `json:"admin_ward"`
	Parish        string  `json:"parish"`
	Country       string  `json:"country"`
	Distance      float64 `json:"distance"`
}

type pcLookupResponse struct {
	Status int       `json:"status"`
	Error  string    `json:"error"`
	Result *pcResult `json:"result"`
}

type pcListResponse struct {
	Status int        `json:"status"`
	Error  string     `json:"error"`
	Result []pcResult `json:"result"`
}

type pcAutocompleteResponse struct {
	Status int      `json:"status"`
	Error  string   `json:"error"`
	Result []string `json:"result"`
}

// Geocode implements Geocoder. The postcode is path-escaped with case preserved.
func (c *PostcodesIO) Geocode(ctx context.Context, postcode string) (Location, error) {
	var body pcLookupResponse
	status, err := c.http.getJSON(ctx, "geocode", c.baseURL+"/postcodes/"+url.PathEscape(postcode), &body)
	if err != nil {
		return Location{}, err
	}
	if err := c.statusError(status, body.Error); err != nil {
		return Location{}, err
	}
	if body.Result == nil {
		return Location{}, ErrNotFound
	}
	r := body.Result
	return Location{
		Postcode:  r.Postcode,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Town:      townOf(*r),
		District:  r.AdminDistrict,
		Country:   r.Country,
	}, nil
}

// Nearby implements PlaceFinder using reverse geocoding: the nearest
// postcodes within radiusMeters of loc.
func (c *PostcodesIO) Nearby(ctx context.Context, loc Location, radiusMeters int) ([]Place, error) {
	q := url.Values{}
	q.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(radiusMeters))
	q.Set("limit", strconv.Itoa(c.limit))

	var body pcListResponse
	status, err := c.http.getJSON(ctx, "nearby", c.baseURL+"/postcodes?"+q.Encode(), &body)
	if err != nil {
		return nil, err
	}
	if err := c.statusError(status, body.Error); err != nil {
		return nil, err
	}

	places := make([]Place, 0, len(body.Result))
	for _, r := range body.Result {
		places = append(places, Place{
			ID:        r.Postcode,
			Name:      r.Postcode,
			Street:    r.AdminWard,
			Town:      townOf(r),
			Postcode:  r.Postcode,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
		})
	}
	return places, nil
}

// Autocomplete implements Suggester. No matches is an empty list, not an error.
func (c *PostcodesIO) Autocomplete(ctx context.Context, partial string) ([]string, error) {
	var body pcAutocompleteResponse
	status, err := c.http.getJSON(ctx, "autocomplete", c.baseURL+"/postcodes/"+url.PathEscape(partial)+"/autocomplete", &body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []string{}, nil
	}
	if err := c.statusError(status, body.Error); err != nil {
		return nil, err
	}
	if body.Result == nil {
		return []string{}, nil
	}
	return body.Result, nil
}

func (c *PostcodesIO) statusError(status int, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &UpstreamError{Provider: PostcodesIOName, Status: status, Message: message}
	}
}

func townOf(r pcResult) string {
	if r.Parish != "" && !strings.Contains(strings.ToLower(r.Parish), "unparished") {
		return r.Parish
	}
	return r.AdminDistrict
}

// String implements fmt.Stringer for log fields.
func (c *PostcodesIO) String() string {
	return fmt.Sprintf("%s(%s)", PostcodesIOName, c.baseURL)
}
