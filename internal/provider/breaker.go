package provider

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/metrics"
)

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`  // max requests allowed in half-open state
	Interval     time.Duration `yaml:"interval"`      // cyclic period of the closed state to clear counts
	Timeout      time.Duration `yaml:"timeout"`       // period of the open state before transitioning to half-open
	MinRequests  uint32        `yaml:"min_requests"`  // requests needed before the failure ratio is considered
	FailureRatio float64       `yaml:"failure_ratio"` // ratio of failures that trips the breaker
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  5,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

// BreakerRegistry manages one circuit breaker per provider.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
	config   BreakerConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewBreakerRegistry creates a new registry with the given config
func NewBreakerRegistry(config BreakerConfig, logger *zap.Logger, m *metrics.Metrics) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

// Breaker returns (or creates) the circuit breaker for name.
func (r *BreakerRegistry) Breaker(name string) *gobreaker.CircuitBreaker[any] {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()
	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: r.config.MaxRequests,
		Interval:    r.config.Interval,
		Timeout:     r.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < r.config.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= r.config.FailureRatio
		},
		// Answers about the postcode itself mean the provider is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			r.metrics.SetCircuitBreakerState(name, stateToInt(to))
			if to == gobreaker.StateOpen {
				r.metrics.RecordCircuitBreakerTrip(name)
			}
		},
	}

	cb = gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker. A rejected call becomes an
// UpstreamError with status 503.
func (r *BreakerRegistry) Execute(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	result, err := r.Breaker(name).Execute(func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.logger.Warn("circuit breaker rejecting request", zap.String("breaker", name), zap.Error(err))
		return nil, &UpstreamError{Provider: name, Status: http.StatusServiceUnavailable, Message: "circuit breaker open"}
	}
	return result, err
}

// BreakerStatus represents the current state of a circuit breaker
type BreakerStatus struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	Requests         uint32 `json:"requests"`
	TotalFailures    uint32 `json:"total_failures"`
	ConsecutiveFails uint32 `json:"consecutive_failures"`
}

// Status returns the current state of all circuit breakers
func (r *BreakerRegistry) Status() map[string]BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]BreakerStatus, len(r.breakers))
	for name, cb := range r.breakers {
		counts := cb.Counts()
		status[name] = BreakerStatus{
			Name:             name,
			State:            cb.State().String(),
			Requests:         counts.Requests,
			TotalFailures:    counts.TotalFailures,
			ConsecutiveFails: counts.ConsecutiveFailures,
		}
	}
	return status
}

// stateToInt converts a breaker state for metrics: 0=closed, 1=half-open, 2=open
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Wrap returns a Set whose calls go through the registry's breakers. Each
// capability is guarded by the breaker named after its backing provider.
func (r *BreakerRegistry) Wrap(set Set, names SetNames) Set {
	out := Set{}
	if set.Geocoder != nil {
		out.Geocoder = breakerGeocoder{r: r, name: names.Geocoder, next: set.Geocoder}
	}
	if set.PlaceFinder != nil {
		out.PlaceFinder = breakerPlaceFinder{r: r, name: names.PlaceFinder, next: set.PlaceFinder}
	}
	if set.Suggester != nil {
		out.Suggester = breakerSuggester{r: r, name: names.Suggester, next: set.Suggester}
	}
	return out
}

// SetNames names the provider behind each capability of a Set.
type SetNames struct {
	Geocoder    string
	PlaceFinder string
	Suggester   string
}

type breakerGeocoder struct {
	r    *BreakerRegistry
	name string
	next Geocoder
}

func (b breakerGeocoder) Geocode(ctx context.Context, postcode string) (Location, error) {
	res, err := b.r.Execute(ctx, b.name, func() (any, error) {
		return b.next.Geocode(ctx, postcode)
	})
	if err != nil {
		return Location{}, err
	}
	return res.(Location), nil
}

type breakerPlaceFinder struct {
	r    *BreakerRegistry
	name string
	next PlaceFinder
}

func (b breakerPlaceFinder) Nearby(ctx context.Context, loc Location, radiusMeters int) ([]Place, error) {
	res, err := b.r.Execute(ctx, b.name, func() (any, error) {
		return b.next.Nearby(ctx, loc, radiusMeters)
	})
	if err != nil {
		return nil, err
	}
	return res.([]Place), nil
}

type breakerSuggester struct {
	r    *BreakerRegistry
	name string
	next Suggester
}

func (b breakerSuggester) Autocomplete(ctx context.Context, partial string) ([]string, error) {
	res, err := b.r.Execute(ctx, b.name, func() (any, error) {
		return b.next.Autocomplete(ctx, partial)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}
