// Package lookup is the API-key-gated postcode proxy: it validates the key,
// calls the provider, records exactly one usage row per identified request
// and shapes the response.
package lookup

import (
	"fmt"
	"net/http"
	"time"

	"github.com/webuildtrades/postcode-lookup/internal/ratelimit"
)

// Endpoint selects which provider capability a request uses.
type Endpoint string

const (
	EndpointSearch       Endpoint = "search"
	EndpointLocation     Endpoint = "location"
	EndpointAutocomplete Endpoint = "autocomplete"
)

// Kind classifies a failed lookup.
type Kind string

const (
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindMissingKey       Kind = "missing_key"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindRateLimited      Kind = "rate_limited"
	KindProviderError    Kind = "provider_error"
)

// Client-facing messages.
const (
	MessageMethodNotAllowed = "Method not allowed"
	MessageMissingKey       = "API key is required"
	MessageInvalidKey       = "Invalid API key"
	MessageForbidden        = "Origin not allowed for this API key"
	MessageNotFound         = "Postcode not found"
	MessageRateLimited      = "Rate limit exceeded"
	MessageInternal         = "Internal server error"
)

// Error is a mapped lookup failure.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	// RateLimit is set when the account limiter was consulted.
	RateLimit *ratelimit.Decision
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Body is the JSON error payload.
func (e *Error) Body() ErrorBody {
	return ErrorBody{Error: e.Message, Code: string(e.Kind)}
}

// Logged reports whether a usage record is written for this kind.
func (k Kind) Logged() bool {
	switch k {
	case KindMethodNotAllowed, KindMissingKey, KindUnauthorized:
		return false
	default:
		return true
	}
}

func newError(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	switch kind {
	case KindMethodNotAllowed:
		e.Message, e.Status = MessageMethodNotAllowed, http.StatusMethodNotAllowed
	case KindMissingKey:
		e.Message, e.Status = MessageMissingKey, http.StatusUnauthorized
	case KindUnauthorized:
		e.Message, e.Status = MessageInvalidKey, http.StatusUnauthorized
	case KindForbidden:
		e.Message, e.Status = MessageForbidden, http.StatusForbidden
	case KindNotFound:
		e.Message, e.Status = MessageNotFound, http.StatusNotFound
	case KindRateLimited:
		e.Message, e.Status = MessageRateLimited, http.StatusTooManyRequests
	default:
		e.Kind = KindProviderError
		e.Message, e.Status = MessageInternal, http.StatusInternalServerError
	}
	return e
}

// ErrorBody is the failure response shape.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Request is one inbound lookup.
type Request struct {
	Method    string
	Postcode  string
	APIKey    string
	Origin    string // Origin, or Referer when Origin is absent
	Endpoint  Endpoint
	ClientIP  string
	UserAgent string
}

// Summary types.
const (
	SummaryTypePlace       = "google_place"
	SummaryTypeResidential = "residential"
)

// AddressSummary is one normalized search result.
type AddressSummary struct {
	ID             string     `json:"Id"`
	Type           string     `json:"Type"`
	BuildingNumber string     `json:"BuildingNumber,omitempty"`
	StreetAddress  string     `json:"StreetAddress"`
	Town           string     `json:"Town"`
	Postcode       string     `json:"Postcode"`
	Address        string     `json:"Address"`
	CreatedAt      *time.Time `json:"CreatedAt,omitempty"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	SearchEnd SearchEnd `json:"SearchEnd"`
}

// SearchEnd wraps the summaries list.
type SearchEnd struct {
	Summaries []AddressSummary `json:"Summaries"`
}

// Coordinates is the geocode-only result.
type Coordinates struct {
	Postcode  string  `json:"postcode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationResponse is the body of a successful location lookup.
type LocationResponse struct {
	Result Coordinates `json:"result"`
}

// AutocompleteResponse is the body of a successful suggestion lookup.
type AutocompleteResponse struct {
	Result []string `json:"result"`
}

// Result is a successful lookup.
type Result struct {
	UserID    string
	Endpoint  string // recorded endpoint name
	Body      any
	RateLimit *ratelimit.Decision
}
