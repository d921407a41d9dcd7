package lookup

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/addressbook"
	"github.com/webuildtrades/postcode-lookup/internal/apikey"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
	"github.com/webuildtrades/postcode-lookup/internal/metrics"
	"github.com/webuildtrades/postcode-lookup/internal/obfuscate"
	"github.com/webuildtrades/postcode-lookup/internal/provider"
	"github.com/webuildtrades/postcode-lookup/internal/ratelimit"
	"github.com/webuildtrades/postcode-lookup/internal/usage"
)

// KeyValidator resolves a presented key to exactly one profile.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (apikey.Profile, error)
}

// AddressSource supplies stored residential addresses for a postcode.
type AddressSource interface {
	ByPostcode(ctx context.Context, postcode string) ([]addressbook.Address, error)
}

// UsageReporter appends one usage record and never fails the request.
type UsageReporter interface {
	Report(ctx context.Context, userID, endpoint string, status usage.Status) usage.Record
}

// Config holds the lookup settings.
type Config struct {
	RadiusMeters         int
	SearchEndpoint       string
	LocationEndpoint     string
	AutocompleteEndpoint string
}

// DefaultConfig returns the endpoint names recorded in the usage log.
func DefaultConfig() Config {
	return Config{
		RadiusMeters:         500,
		SearchEndpoint:       "postcode-search",
		LocationEndpoint:     "postcode-location",
		AutocompleteEndpoint: "postcode-autocomplete",
	}
}

// Deps are the collaborators of a Service. Validator, Providers.Geocoder
// and Usage are required.
type Deps struct {
	Validator KeyValidator
	Providers provider.Set
	Usage     UsageReporter
	Limiter   ratelimit.Limiter // nil disables account throttling
	Addresses AddressSource     // nil skips residential entries
	Logger    *zap.Logger
	Audit     *logging.AuditLogger
	Metrics   *metrics.Metrics
}

// Service handles lookup requests. It holds no per-request state.
type Service struct {
	cfg       Config
	validator KeyValidator
	providers provider.Set
	usage     UsageReporter
	limiter   ratelimit.Limiter
	addresses AddressSource
	domains   apikey.DomainPolicy
	logger    *zap.Logger
	audit     *logging.AuditLogger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService creates a lookup Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Validator == nil {
		return nil, errors.New("key validator is required")
	}
	if deps.Providers.Geocoder == nil {
		return nil, errors.New("geocoder is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("usage reporter is required")
	}
	def := DefaultConfig()
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = def.RadiusMeters
	}
	if cfg.SearchEndpoint == "" {
		cfg.SearchEndpoint = def.SearchEndpoint
	}
	if cfg.LocationEndpoint == "" {
		cfg.LocationEndpoint = def.LocationEndpoint
	}
	if cfg.AutocompleteEndpoint == "" {
		cfg.AutocompleteEndpoint = def.AutocompleteEndpoint
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		validator: deps.Validator,
		providers: deps.Providers,
		usage:     deps.Usage,
		limiter:   deps.Limiter,
		addresses: deps.Addresses,
		logger:    logger,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		now:       time.Now,
	}, nil
}

// EndpointName returns the usage endpoint name recorded for e.
func (s *Service) EndpointName(e Endpoint) string {
	switch e {
	case EndpointLocation:
		return s.cfg.LocationEndpoint
	case EndpointAutocomplete:
		return s.cfg.AutocompleteEndpoint
	default:
		return s.cfg.SearchEndpoint
	}
}

// Handle runs one request through key check, provider call and usage
// logging. Requests rejected before a profile is identified write nothing;
// every later outcome writes exactly one record after the provider call.
// Once the method and key are present the request runs to completion even
// if the caller's context is cancelled.
func (s *Service) Handle(ctx context.Context, req Request) (Result, *Error) {
	start := s.now()
	endpoint := s.EndpointName(req.Endpoint)

	// Received
	if req.Method != http.MethodGet {
		s.metrics.RecordLookup(endpoint, string(KindMethodNotAllowed))
		return Result{}, newError(KindMethodNotAllowed, nil)
	}
	if req.APIKey == "" {
		s.audit.LogAuthFailure(ctx, "", "missing API key", req.ClientIP, req.UserAgent)
		s.metrics.RecordLookup(endpoint, string(KindMissingKey))
		return Result{}, newError(KindMissingKey, nil)
	}
	ctx = context.WithoutCancel(ctx)

	// KeyChecked
	profile, err := s.validator.Validate(ctx, req.APIKey)
	if err != nil {
		logging.FromContext(ctx, s.logger).Info("API key rejected",
			zap.String(logging.FieldAPIKey, obfuscate.Key(req.APIKey)),
			zap.Error(err))
		s.audit.LogAuthFailure(ctx, obfuscate.Key(req.APIKey), err.Error(), req.ClientIP, req.UserAgent)
		s.metrics.RecordLookup(endpoint, string(KindUnauthorized))
		return Result{}, newError(KindUnauthorized, err)
	}
	ctx = logging.WithUserID(ctx, profile.ID)

	body, decision, lerr := s.dispatch(ctx, profile, req)

	// Logged
	status := usage.StatusSuccess
	if lerr != nil {
		status = usage.StatusError
	}
	s.usage.Report(ctx, profile.ID, endpoint, status)

	// Responded
	duration := s.now().Sub(start)
	if lerr != nil {
		lerr.RateLimit = decision
		s.metrics.RecordLookup(endpoint, string(lerr.Kind))
		s.audit.LogLookup(ctx, profile.ID, endpoint, req.Postcode, lerr.Status, logging.AuditOutcomeFailure, lerr.Message, duration)
		if lerr.Kind == KindProviderError {
			logging.FromContext(ctx, s.logger).Error("Postcode lookup failed",
				zap.String("endpoint", endpoint),
				zap.String("postcode", req.Postcode),
				zap.Error(lerr.Err))
		}
		return Result{}, lerr
	}
	s.metrics.RecordLookup(endpoint, string(usage.StatusSuccess))
	s.audit.LogLookup(ctx, profile.ID, endpoint, req.Postcode, http.StatusOK, logging.AuditOutcomeSuccess, "", duration)
	return Result{UserID: profile.ID, Endpoint: endpoint, Body: body, RateLimit: decision}, nil
}

// dispatch applies the account policies and calls the provider.
func (s *Service) dispatch(ctx context.Context, profile apikey.Profile, req Request) (any, *ratelimit.Decision, *Error) {
	if !s.domains.AllowedOrigin(profile, req.Origin) {
		return nil, nil, newError(KindForbidden, apikey.ErrDomainOriginRejected)
	}

	var decision *ratelimit.Decision
	if s.limiter != nil {
		d, err := s.limiter.Allow(ctx, profile.ID, profile.RateLimit)
		if err != nil {
			logging.FromContext(ctx, s.logger).Warn("Rate limiter unavailable, rejecting request", zap.Error(err))
			s.metrics.RecordRateLimitDenial()
			return nil, nil, newError(KindRateLimited, err)
		}
		if d.Limit > 0 {
			decision = &d
		}
		if !d.Allowed {
			s.metrics.RecordRateLimitDenial()
			return nil, decision, newError(KindRateLimited, nil)
		}
	}

	// ProviderCalled
	postcode := strings.TrimSpace(req.Postcode)
	if postcode == "" {
		return nil, decision, newError(KindNotFound, provider.ErrNotFound)
	}
	var (
		body any
		err  error
	)
	switch req.Endpoint {
	case EndpointLocation:
		body, err = s.location(ctx, postcode)
	case EndpointAutocomplete:
		body, err = s.autocomplete(ctx, postcode)
	default:
		body, err = s.search(ctx, postcode)
	}
	if err != nil {
		return nil, decision, mapProviderError(err)
	}
	return body, decision, nil
}

func (s *Service) search(ctx context.Context, postcode string) (SearchResponse, error) {
	loc, err := s.providers.Geocoder.Geocode(ctx, postcode)
	if err != nil {
		return SearchResponse{}, err
	}

	summaries := []AddressSummary{}
	if s.addresses != nil {
		stored, err := s.addresses.ByPostcode(ctx, loc.Postcode)
		if err != nil {
			logging.FromContext(ctx, s.logger).Warn("Failed to load residential addresses",
				zap.String("postcode", loc.Postcode), zap.Error(err))
		}
		for _, a := range stored {
			summaries = append(summaries, residentialSummary(a))
		}
	}

	if s.providers.PlaceFinder != nil {
		places, err := s.providers.PlaceFinder.Nearby(ctx, loc, s.cfg.RadiusMeters)
		if err != nil {
			return SearchResponse{}, err
		}
		for _, p := range places {
			summaries = append(summaries, placeSummary(p, loc))
		}
	}
	return SearchResponse{SearchEnd: SearchEnd{Summaries: summaries}}, nil
}

func (s *Service) location(ctx context.Context, postcode string) (LocationResponse, error) {
	loc, err := s.providers.Geocoder.Geocode(ctx, postcode)
	if err != nil {
		return LocationResponse{}, err
	}
	return LocationResponse{Result: Coordinates{
		Postcode:  loc.Postcode,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
	}}, nil
}

func (s *Service) autocomplete(ctx context.Context, partial string) (AutocompleteResponse, error) {
	if s.providers.Suggester == nil {
		return AutocompleteResponse{Result: []string{}}, nil
	}
	suggestions, err := s.providers.Suggester.Autocomplete(ctx, partial)
	if err != nil {
		return AutocompleteResponse{}, err
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return AutocompleteResponse{Result: suggestions}, nil
}

func mapProviderError(err error) *Error {
	switch {
	case errors.Is(err, provider.ErrNotFound):
		return newError(KindNotFound, err)
	case errors.Is(err, provider.ErrRateLimited):
		return newError(KindRateLimited, err)
	default:
		return newError(KindProviderError, err)
	}
}
