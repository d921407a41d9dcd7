// Package usage records one accounting row per completed lookup.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the outcome stored with a usage record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is a status the store accepts.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusError
}

var (
	// ErrInvalidRecord is returned for records missing a user, endpoint or valid status.
	ErrInvalidRecord = errors.New("invalid usage record")
)

// Record is one append-only usage row.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord builds a record stamped with a fresh ULID and the given time.
func NewRecord(userID, endpoint string, status Status, at time.Time) Record {
	return Record{
		ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		UserID:    userID,
		Endpoint:  endpoint,
		Status:    status,
		Timestamp: at.UTC(),
	}
}

// Validate checks a record before it is written.
func (r Record) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}
	if r.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, r.Status)
	}
	return nil
}

// Sink appends usage records. Implementations never update or delete.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Store is the persistence the sink and the history views need.
type Store interface {
	InsertUsage(ctx context.Context, rec Record) error
	ListUsageByUser(ctx context.Context, userID string, limit int, newestFirst bool) ([]Record, error)
}

// StoreSink is a Sink writing straight to a Store.
type StoreSink struct {
	store Store
}

// NewStoreSink creates a sink over store.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements Sink.
func (s *StoreSink) Record(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.store.InsertUsage(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
