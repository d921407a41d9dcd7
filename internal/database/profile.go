package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/webuildtrades/postcode-lookup/internal/apikey"
)

const profileColumns = `p.id, p.email, p.full_name, p.api_key, p.rate_limit, p.allowed_domains, p.is_admin, p.api_key_generated_at, p.created_at, p.updated_at`

// Request counters are derived from the append-only usage log.
const profileStatsColumns = `,
	(SELECT COUNT(*) FROM api_usage u WHERE u.user_id = p.id),
	(SELECT MAX(u.timestamp) FROM api_usage u WHERE u.user_id = p.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner, withStats bool) (apikey.Profile, error) {
	var (
		p           apikey.Profile
		key         sql.NullString
		domainsJSON string
		generatedAt nullTime
		createdAt   nullTime
		updatedAt   nullTime
		lastRequest nullTime
		count       int64
	)
	dest := []any{&p.ID, &p.Email, &p.FullName, &key, &p.RateLimit, &domainsJSON, &p.IsAdmin, &generatedAt, &createdAt, &updatedAt}
	if withStats {
		dest = append(dest, &count, &lastRequest)
	}
	if err := row.Scan(dest...); err != nil {
		return apikey.Profile{}, err
	}
	p.APIKey = key.String
	p.APIKeyGeneratedAt = generatedAt.Ptr()
	p.CreatedAt = createdAt.Time
	p.UpdatedAt = updatedAt.Time
	p.RequestCount = int(count)
	p.LastRequestAt = lastRequest.Ptr()

	domains, err := decodeDomains(domainsJSON)
	if err != nil {
		return apikey.Profile{}, err
	}
	p.AllowedDomains = domains
	return p, nil
}

func decodeDomains(raw string) ([]string, error) {
	domains := []string{}
	if raw == "" {
		return domains, nil
	}
	if err := json.Unmarshal([]byte(raw), &domains); err != nil {
		return nil, fmt.Errorf("failed to decode allowed domains: %w", err)
	}
	return domains, nil
}

func encodeDomains(domains []string) (string, error) {
	if domains == nil {
		domains = []string{}
	}
	b, err := json.Marshal(domains)
	if err != nil {
		return "", fmt.Errorf("failed to encode allowed domains: %w", err)
	}
	return string(b), nil
}

// GetProfilesByAPIKey returns at most limit profiles holding key.
func (d *DB) GetProfilesByAPIKey(ctx context.Context, key string, limit int) ([]apikey.Profile, error) {
	if limit <= 0 {
		limit = 1
	}
	query := `SELECT ` + profileColumns + ` FROM profiles p WHERE p.api_key = ? LIMIT ?`
	rows, err := d.QueryContextRebound(ctx, query, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles by key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []apikey.Profile
	for rows.Next() {
		p, err := scanProfile(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// GetProfile retrieves a profile by id, including its usage counters.
func (d *DB) GetProfile(ctx context.Context, id string) (apikey.Profile, error) {
	query := `SELECT ` + profileColumns + profileStatsColumns + ` FROM profiles p WHERE p.id = ?`
	p, err := scanProfile(d.QueryRowContextRebound(ctx, query, id), true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apikey.Profile{}, apikey.ErrProfileNotFound
		}
		return apikey.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns all profiles, newest first, including usage counters.
func (d *DB) ListProfiles(ctx context.Context) ([]apikey.Profile, error) {
	query := `SELECT ` + profileColumns + profileStatsColumns + ` FROM profiles p ORDER BY p.created_at DESC, p.id`
	rows, err := d.QueryContextRebound(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	profiles := []apikey.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// CreateProfile inserts a new profile.
func (d *DB) CreateProfile(ctx context.Context, p apikey.Profile) error {
	domains, err := encodeDomains(p.AllowedDomains)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	query := `
	INSERT INTO profiles (id, email, full_name, api_key, rate_limit, allowed_domains, is_admin, api_key_generated_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.ExecContextRebound(ctx, query,
		p.ID,
		p.Email,
		p.FullName,
		nullableString(p.APIKey),
		p.RateLimit,
		domains,
		p.IsAdmin,
		nullableTime(p.APIKeyGeneratedAt),
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apikey.ErrProfileExists
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// UpdateAPIKey replaces a profile's key and stamps when it was generated.
func (d *DB) UpdateAPIKey(ctx context.Context, id, key string, generatedAt time.Time) error {
	query := `UPDATE profiles SET api_key = ?, api_key_generated_at = ?, updated_at = ? WHERE id = ?`
	result, err := d.ExecContextRebound(ctx, query, key, generatedAt.UTC(), generatedAt.UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update API key: %w", apikey.ErrProfileExists)
		}
		return fmt.Errorf("failed to update API key: %w", err)
	}
	return expectOneRow(result, apikey.ErrProfileNotFound)
}

// UpdateRateLimit sets a profile's per-window request limit.
func (d *DB) UpdateRateLimit(ctx context.Context, id string, limit int) error {
	query := `UPDATE profiles SET rate_limit = ?, updated_at = ? WHERE id = ?`
	result, err := d.ExecContextRebound(ctx, query, limit, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update rate limit: %w", err)
	}
	return expectOneRow(result, apikey.ErrProfileNotFound)
}

// UpdateAllowedDomains replaces a profile's allowed domain list.
func (d *DB) UpdateAllowedDomains(ctx context.Context, id string, domains []string) error {
	encoded, err := encodeDomains(domains)
	if err != nil {
		return err
	}
	query := `UPDATE profiles SET allowed_domains = ?, updated_at = ? WHERE id = ?`
	result, err := d.ExecContextRebound(ctx, query, encoded, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update allowed domains: %w", err)
	}
	return expectOneRow(result, apikey.ErrProfileNotFound)
}

// DeleteProfile removes a profile and, by cascade, its usage history.
func (d *DB) DeleteProfile(ctx context.Context, id string) error {
	result, err := d.ExecContextRebound(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return expectOneRow(result, apikey.ErrProfileNotFound)
}
