// Package addressbook manages user-submitted residential addresses that are
// merged into postcode search results.
package addressbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/logging"
)

var (
	ErrNotFound       = errors.New("address not found")
	ErrInvalidAddress = errors.New("invalid address")
	ErrForbidden      = errors.New("administrator role required")
)

// Address is a stored residential address.
type Address struct {
	ID             string    `json:"id"`
	Postcode       string    `json:"postcode"`
	BuildingNumber string    `json:"building_number"`
	StreetAddress  string    `json:"street_address"`
	Town           string    `json:"town"`
	FullAddress    string    `json:"full_address"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Input is the editable part of an address.
type Input struct {
	Postcode       string `json:"postcode"`
	BuildingNumber string `json:"building_number"`
	StreetAddress  string `json:"street_address"`
	Town           string `json:"town"`
}

// Normalize trims every field and upper-cases the postcode.
func (in Input) Normalize() Input {
	return Input{
		Postcode:       NormalizePostcode(in.Postcode),
		BuildingNumber: strings.TrimSpace(in.BuildingNumber),
		StreetAddress:  strings.TrimSpace(in.StreetAddress),
		Town:           strings.TrimSpace(in.Town),
	}
}

// Validate requires all four fields.
func (in Input) Validate() error {
	var missing []string
	if in.Postcode == "" {
		missing = append(missing, "postcode")
	}
	if in.BuildingNumber == "" {
		missing = append(missing, "building_number")
	}
	if in.StreetAddress == "" {
		missing = append(missing, "street_address")
	}
	if in.Town == "" {
		missing = append(missing, "town")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}

// FullAddress composes "<building> <street>, <postcode>".
func FullAddress(in Input) string {
	return fmt.Sprintf("%s %s, %s", in.BuildingNumber, in.StreetAddress, in.Postcode)
}

// NormalizePostcode is the stored form of a postcode: trimmed and upper-cased.
func NormalizePostcode(postcode string) string {
	return strings.ToUpper(strings.TrimSpace(postcode))
}

// Store persists addresses.
type Store interface {
	CreateAddress(ctx context.Context, a Address) error
	UpdateAddress(ctx context.Context, a Address) error
	DeleteAddress(ctx context.Context, id string) error
	GetAddress(ctx context.Context, id string) (Address, error)
	// ListAddresses returns all addresses, newest first.
	ListAddresses(ctx context.Context) ([]Address, error)
	// ListAddressesByPostcode returns addresses with exactly this stored postcode.
	ListAddressesByPostcode(ctx context.Context, postcode string) ([]Address, error)
}

// Service implements the address book operations.
type Service struct {
	store  Store
	audit  *logging.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an address book service.
func NewService(store Store, audit *logging.AuditLogger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, audit: audit, logger: logger, now: time.Now}
}

// Add stores a new address submitted by actorID.
func (s *Service) Add(ctx context.Context, actorID string, in Input) (Address, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Address{}, err
	}
	now := s.now().UTC()
	a := Address{
		ID:             uuid.NewString(),
		Postcode:       in.Postcode,
		BuildingNumber: in.BuildingNumber,
		StreetAddress:  in.StreetAddress,
		Town:           in.Town,
		FullAddress:    FullAddress(in),
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAddress(ctx, a); err != nil {
		s.audit.LogAddressChange(ctx, a.ID, actorID, "create", logging.AuditOutcomeError, err.Error())
		return Address{}, fmt.Errorf("failed to save address: %w", err)
	}
	s.audit.LogAddressChange(ctx, a.ID, actorID, "create", logging.AuditOutcomeSuccess, "")
	return a, nil
}

// List returns every address, newest first.
func (s *Service) List(ctx context.Context) ([]Address, error) {
	addresses, err := s.store.ListAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch addresses: %w", err)
	}
	return addresses, nil
}

// Search filters addresses whose full address or town contains term,
// case-insensitively. An empty term returns everything.
func (s *Service) Search(ctx context.Context, term string) ([]Address, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return all, nil
	}
	out := make([]Address, 0, len(all))
	for _, a := range all {
		if strings.Contains(strings.ToLower(a.FullAddress), term) || strings.Contains(strings.ToLower(a.Town), term) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Update replaces the fields of an address. Administrators only.
func (s *Service) Update(ctx context.Context, actorID string, isAdmin bool, id string, in Input) (Address, error) {
	if !isAdmin {
		s.audit.LogAddressChange(ctx, id, actorID, "update", logging.AuditOutcomeFailure, ErrForbidden.Error())
		return Address{}, ErrForbidden
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Address{}, err
	}
	a, err := s.store.GetAddress(ctx, id)
	if err != nil {
		return Address{}, err
	}
	a.Postcode = in.Postcode
	a.BuildingNumber = in.BuildingNumber
	a.StreetAddress = in.StreetAddress
	a.Town = in.Town
	a.FullAddress = FullAddress(in)
	a.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateAddress(ctx, a); err != nil {
		s.audit.LogAddressChange(ctx, id, actorID, "update", logging.AuditOutcomeError, err.Error())
		return Address{}, fmt.Errorf("failed to save address: %w", err)
	}
	s.audit.LogAddressChange(ctx, id, actorID, "update", logging.AuditOutcomeSuccess, "")
	return a, nil
}

// Delete removes an address. Administrators only.
func (s *Service) Delete(ctx context.Context, actorID string, isAdmin bool, id string) error {
	if !isAdmin {
		s.audit.LogAddressChange(ctx, id, actorID, "delete", logging.AuditOutcomeFailure, ErrForbidden.Error())
		return ErrForbidden
	}
	if err := s.store.DeleteAddress(ctx, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.audit.LogAddressChange(ctx, id, actorID, "delete", logging.AuditOutcomeError, err.Error())
		}
		return err
	}
	s.audit.LogAddressChange(ctx, id, actorID, "delete", logging.AuditOutcomeSuccess, "")
	return nil
}

// ByPostcode returns the addresses stored for postcode.
func (s *Service) ByPostcode(ctx context.Context, postcode string) ([]Address, error) {
	return s.store.ListAddressesByPostcode(ctx, NormalizePostcode(postcode))
}
