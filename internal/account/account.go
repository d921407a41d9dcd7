// Package account implements the self-service and administrative profile
// operations: key generation, allowed domains, usage views and rate limits.
package account

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/apikey"
	"github.com/webuildtrades/postcode-lookup/internal/logging"
	"github.com/webuildtrades/postcode-lookup/internal/obfuscate"
	"github.com/webuildtrades/postcode-lookup/internal/usage"
)

// RecentUsageLimit is the number of rows shown as recent activity.
const RecentUsageLimit = 10

var (
	ErrDomainExists     = errors.New("domain already exists")
	ErrDomainNotFound   = errors.New("domain not in allowed list")
	ErrInvalidRateLimit = errors.New("rate limit must be zero or positive")
	ErrInvalidProfile   = errors.New("invalid profile")
)

// Store is the profile persistence the account operations need.
type Store interface {
	GetProfile(ctx context.Context, id string) (apikey.Profile, error)
	ListProfiles(ctx context.Context) ([]apikey.Profile, error)
	CreateProfile(ctx context.Context, p apikey.Profile) error
	UpdateAPIKey(ctx context.Context, id, key string, generatedAt time.Time) error
	UpdateRateLimit(ctx context.Context, id string, limit int) error
	UpdateAllowedDomains(ctx context.Context, id string, domains []string) error
	DeleteProfile(ctx context.Context, id string) error
}

// UsageLister reads a user's usage history.
type UsageLister interface {
	ListUsageByUser(ctx context.Context, userID string, limit int, newestFirst bool) ([]usage.Record, error)
}

// Registration describes a profile created for a new identity.
type Registration struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// Service implements the account operations.
type Service struct {
	store            Store
	usage            UsageLister
	audit            *logging.AuditLogger
	logger           *zap.Logger
	defaultRateLimit int
	now              func() time.Time
	generateKey      func() (string, error)
}

// NewService creates an account Service. defaultRateLimit is assigned to
// registered profiles.
func NewService(store Store, usageStore UsageLister, audit *logging.AuditLogger, logger *zap.Logger, defaultRateLimit int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultRateLimit < 0 {
		defaultRateLimit = 0
	}
	return &Service{
		store:            store,
		usage:            usageStore,
		audit:            audit,
		logger:           logger,
		defaultRateLimit: defaultRateLimit,
		now:              time.Now,
		generateKey:      apikey.Generate,
	}
}

// Profile returns the caller's profile with its usage counters.
func (s *Service) Profile(ctx context.Context, userID string) (apikey.Profile, error) {
	return s.store.GetProfile(ctx, userID)
}

// GenerateKey issues a new API key for userID, replacing any previous key.
func (s *Service) GenerateKey(ctx context.Context, userID string) (apikey.Profile, error) {
	key, err := s.generateKey()
	if err != nil {
		s.audit.LogKeyGenerated(ctx, userID, "", logging.AuditOutcomeError, err.Error())
		return apikey.Profile{}, fmt.Errorf("failed to generate API key: %w", err)
	}
	at := s.now().UTC()
	if err := s.store.UpdateAPIKey(ctx, userID, key, at); err != nil {
		s.audit.LogKeyGenerated(ctx, userID, obfuscate.Key(key), logging.AuditOutcomeError, err.Error())
		return apikey.Profile{}, fmt.Errorf("failed to store API key: %w", err)
	}
	s.audit.LogKeyGenerated(ctx, userID, obfuscate.Key(key), logging.AuditOutcomeSuccess, "")
	logging.FromContext(ctx, s.logger).Info("API key generated",
		zap.String(logging.FieldUserID, userID),
		zap.String(logging.FieldAPIKey, obfuscate.Key(key)))
	return s.store.GetProfile(ctx, userID)
}

// AddDomain cleans, validates and appends domain to the allowed list.
func (s *Service) AddDomain(ctx context.Context, userID, domain string) ([]string, error) {
	cleaned := apikey.CleanDomain(domain)
	if !apikey.ValidDomain(cleaned) {
		s.audit.LogDomainChange(ctx, userID, cleaned, true, logging.AuditOutcomeFailure, apikey.ErrInvalidDomain.Error())
		return nil, apikey.ErrInvalidDomain
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if slices.Contains(p.AllowedDomains, cleaned) {
		s.audit.LogDomainChange(ctx, userID, cleaned, true, logging.AuditOutcomeFailure, ErrDomainExists.Error())
		return nil, ErrDomainExists
	}
	domains := append(slices.Clone(p.AllowedDomains), cleaned)
	if err := s.store.UpdateAllowedDomains(ctx, userID, domains); err != nil {
		s.audit.LogDomainChange(ctx, userID, cleaned, true, logging.AuditOutcomeError, err.Error())
		return nil, fmt.Errorf("failed to update allowed domains: %w", err)
	}
	s.audit.LogDomainChange(ctx, userID, cleaned, true, logging.AuditOutcomeSuccess, "")
	return domains, nil
}

// RemoveDomain drops domain from the allowed list.
func (s *Service) RemoveDomain(ctx context.Context, userID, domain string) ([]string, error) {
	cleaned := apikey.CleanDomain(domain)
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	domains := slices.DeleteFunc(slices.Clone(p.AllowedDomains), func(d string) bool { return d == cleaned })
	if len(domains) == len(p.AllowedDomains) {
		return nil, ErrDomainNotFound
	}
	if err := s.store.UpdateAllowedDomains(ctx, userID, domains); err != nil {
		s.audit.LogDomainChange(ctx, userID, cleaned, false, logging.AuditOutcomeError, err.Error())
		return nil, fmt.Errorf("failed to update allowed domains: %w", err)
	}
	s.audit.LogDomainChange(ctx, userID, cleaned, false, logging.AuditOutcomeSuccess, "")
	return domains, nil
}

// RecentUsage returns the latest RecentUsageLimit records, newest first.
func (s *Service) RecentUsage(ctx context.Context, userID string) ([]usage.Record, error) {
	return s.UsageList(ctx, userID, RecentUsageLimit, true)
}

// UsageHistory returns every record, oldest first.
func (s *Service) UsageHistory(ctx context.Context, userID string) ([]usage.Record, error) {
	return s.UsageList(ctx, userID, 0, false)
}

// UsageList returns up to limit records in the requested order.
func (s *Service) UsageList(ctx context.Context, userID string, limit int, newestFirst bool) ([]usage.Record, error) {
	records, err := s.usage.ListUsageByUser(ctx, userID, limit, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage: %w", err)
	}
	return records, nil
}

// DailyUsage returns the history bucketed per day.
func (s *Service) DailyUsage(ctx context.Context, userID string) ([]usage.DailyCount, error) {
	records, err := s.UsageHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	return usage.DailySeries(records), nil
}

// ListUsers returns every profile, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]apikey.Profile, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	return profiles, nil
}

// SetRateLimit changes a profile's rate limit. 0 means unlimited.
func (s *Service) SetRateLimit(ctx context.Context, actor, userID string, limit int) (apikey.Profile, error) {
	if limit < 0 {
		s.audit.LogRateLimitUpdate(ctx, userID, actor, 0, limit, logging.AuditOutcomeFailure, ErrInvalidRateLimit.Error())
		return apikey.Profile{}, ErrInvalidRateLimit
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return apikey.Profile{}, err
	}
	if err := s.store.UpdateRateLimit(ctx, userID, limit); err != nil {
		s.audit.LogRateLimitUpdate(ctx, userID, actor, p.RateLimit, limit, logging.AuditOutcomeError, err.Error())
		return apikey.Profile{}, fmt.Errorf("failed to update rate limit: %w", err)
	}
	s.audit.LogRateLimitUpdate(ctx, userID, actor, p.RateLimit, limit, logging.AuditOutcomeSuccess, "")
	p.RateLimit = limit
	return p, nil
}

// DeleteUser removes a profile and its usage history.
func (s *Service) DeleteUser(ctx context.Context, actor, userID string) error {
	if err := s.store.DeleteProfile(ctx, userID); err != nil {
		if !errors.Is(err, apikey.ErrProfileNotFound) {
			s.audit.LogProfileDelete(ctx, userID, actor, logging.AuditOutcomeError, err.Error())
		}
		return err
	}
	s.audit.LogProfileDelete(ctx, userID, actor, logging.AuditOutcomeSuccess, "")
	return nil
}

// RegisterProfile creates the profile row for a new identity. A blank id
// gets a fresh UUID.
func (s *Service) RegisterProfile(ctx context.Context, actor string, reg Registration) (apikey.Profile, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Email == "" || !strings.Contains(reg.Email, "@") {
		return apikey.Profile{}, fmt.Errorf("%w: email is required", ErrInvalidProfile)
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	now := s.now().UTC()
	p := apikey.Profile{
		ID:             reg.ID,
		Email:          reg.Email,
		FullName:       strings.TrimSpace(reg.FullName),
		RateLimit:      s.defaultRateLimit,
		AllowedDomains: []string{},
		IsAdmin:        reg.IsAdmin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		s.audit.LogProfileRegistered(ctx, p.ID, p.Email, actor, logging.AuditOutcomeFailure, err.Error())
		return apikey.Profile{}, err
	}
	s.audit.LogProfileRegistered(ctx, p.ID, p.Email, actor, logging.AuditOutcomeSuccess, "")
	return p, nil
}
