package lookup

import (
	"strings"

	"github.com/webuildtrades/postcode-lookup/internal/addressbook"
	"github.com/webuildtrades/postcode-lookup/internal/provider"
)

func placeSummary(p provider.Place, loc provider.Location) AddressSummary {
	s := AddressSummary{
		ID:             p.ID,
		Type:           SummaryTypePlace,
		BuildingNumber: p.Building,
		StreetAddress:  p.Street,
		Town:           p.Town,
		Postcode:       p.Postcode,
	}
	if s.StreetAddress == "" {
		s.StreetAddress = p.Name
	}
	if s.Town == "" {
		s.Town = loc.Town
	}
	if s.Postcode == "" {
		s.Postcode = loc.Postcode
	}
	s.Address = composeAddress(s)
	return s
}

func residentialSummary(a addressbook.Address) AddressSummary {
	created := a.CreatedAt
	s := AddressSummary{
		ID:             a.ID,
		Type:           SummaryTypeResidential,
		BuildingNumber: a.BuildingNumber,
		StreetAddress:  a.StreetAddress,
		Town:           a.Town,
		Postcode:       a.Postcode,
		Address:        a.FullAddress,
	}
	if !created.IsZero() {
		s.CreatedAt = &created
	}
	if s.Address == "" {
		s.Address = composeAddress(s)
	}
	return s
}

// composeAddress renders "<building> <street>, <town>, <postcode>" skipping blanks.
func composeAddress(s AddressSummary) string {
	line := strings.TrimSpace(strings.TrimSpace(s.BuildingNumber) + " " + strings.TrimSpace(s.StreetAddress))
	parts := make([]string, 0, 3)
	for _, p := range []string{line, s.Town, s.Postcode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
