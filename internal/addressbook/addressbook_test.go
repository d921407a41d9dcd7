package addressbook

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/webuildtrades/postcode-lookup/internal/logging"
)

type memStore struct {
	mu   sync.Mutex
	byID map[string]Address
	err  error
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]Address{}}
}

func (m *memStore) CreateAddress(_ context.Context, a Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.byID[a.ID] = a
	return nil
}

func (m *memStore) UpdateAddress(_ context.Context, a Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[a.ID]; !ok {
		return ErrNotFound
	}
	m.byID[a.ID] = a
	return nil
}

func (m *memStore) DeleteAddress(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memStore) GetAddress(_ context.Context, id string) (Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return Address{}, ErrNotFound
	}
	return a, nil
}

func (m *memStore) ListAddresses(context.Context) ([]Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Address, 0, len(m.byID))
	for _, a := range m.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListAddressesByPostcode(_ context.Context, postcode string) ([]Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Address
	for _, a := range m.byID {
		if a.Postcode == postcode {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestService(store Store) (*Service, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	svc := NewService(store, logging.NewAuditLogger(logger), logger)
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, recorded
}

func TestService_Add(t *testing.T) {
	svc, recorded := newTestService(newMemStore())

	a, err := svc.Add(context.Background(), "U1", Input{
		Postcode:       " sw1a 2aa ",
		BuildingNumber: "10",
		StreetAddress:  "Downing Street",
		Town:           "London",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "SW1A 2AA", a.Postcode)
	assert.Equal(t, "10 Downing Street, SW1A 2AA", a.FullAddress)
	assert.Equal(t, "U1", a.CreatedBy)
	assert.Equal(t, 1, recorded.FilterField(zap.String(logging.FieldEventType, string(logging.AuditEventAddressChange))).Len())
}

func TestService_AddRequiresAllFields(t *testing.T) {
	svc, _ := newTestService(newMemStore())

	_, err := svc.Add(context.Background(), "U1", Input{Postcode: "SW1A 2AA", Town: "London"})
	require.ErrorIs(t, err, ErrInvalidAddress)
	assert.Contains(t, err.Error(), "building_number")
	assert.Contains(t, err.Error(), "street_address")
}

func TestService_SearchAndList(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	ctx := context.Background()

	_, err := svc.Add(ctx, "U1", Input{Postcode: "SW1A 2AA", BuildingNumber: "10", StreetAddress: "Downing Street", Town: "London"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, "U1", Input{Postcode: "M1 1AE", BuildingNumber: "1", StreetAddress: "Piccadilly", Town: "Manchester"})
	require.NoError(t, err)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Manchester", all[0].Town, "newest first")

	found, err := svc.Search(ctx, "DOWNING")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "London", found[0].Town)

	found, err = svc.Search(ctx, "manch")
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = svc.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestService_UpdateAndDeleteRequireAdmin(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	a, err := svc.Add(ctx, "U1", Input{Postcode: "SW1A 2AA", BuildingNumber: "10", StreetAddress: "Downing Street", Town: "London"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "U1", false, a.ID, Input{Postcode: "SW1A 2AB", BuildingNumber: "11", StreetAddress: "Downing Street", Town: "London"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, "U1", false, a.ID), ErrForbidden)

	updated, err := svc.Update(ctx, "admin", true, a.ID, Input{Postcode: "sw1a 2ab", BuildingNumber: "11", StreetAddress: "Downing Street", Town: "London"})
	require.NoError(t, err)
	assert.Equal(t, "11 Downing Street, SW1A 2AB", updated.FullAddress)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	assert.Equal(t, a.CreatedAt, updated.CreatedAt)

	require.NoError(t, svc.Delete(ctx, "admin", true, a.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "admin", true, a.ID), ErrNotFound)

	_, err = svc.Update(ctx, "admin", true, "missing", Input{Postcode: "A", BuildingNumber: "1", StreetAddress: "S", Town: "T"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ByPostcodeNormalizes(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	ctx := context.Background()
	_, err := svc.Add(ctx, "U1", Input{Postcode: "SW1A 2AA", BuildingNumber: "10", StreetAddress: "Downing Street", Town: "London"})
	require.NoError(t, err)

	got, err := svc.ByPostcode(ctx, " sw1a 2aa")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestService_StoreErrors(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("db down")
	svc, recorded := newTestService(store)

	_, err := svc.Add(context.Background(), "U1", Input{Postcode: "A", BuildingNumber: "1", StreetAddress: "S", Town: "T"})
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 1, recorded.FilterField(zap.String(logging.FieldOutcome, string(logging.AuditOutcomeError))).Len())

	_, err = svc.List(context.Background())
	assert.ErrorContains(t, err, "failed to fetch addresses")
}
