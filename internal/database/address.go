package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/webuildtrades/postcode-lookup/internal/addressbook"
)

const addressColumns = `id, postcode, building_number, street_address, town, full_address, created_by, created_at, updated_at`

func scanAddress(row rowScanner) (addressbook.Address, error) {
	var (
		a         addressbook.Address
		createdBy sql.NullString
		createdAt nullTime
		updatedAt nullTime
	)
	if err := row.Scan(&a.ID, &a.Postcode, &a.BuildingNumber, &a.StreetAddress, &a.Town, &a.FullAddress, &createdBy, &createdAt, &updatedAt); err != nil {
		return addressbook.Address{}, err
	}
	a.CreatedBy = createdBy.String
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time
	return a, nil
}

func (d *DB) queryAddresses(ctx context.Context, query string, args ...any) ([]addressbook.Address, error) {
	rows, err := d.QueryContextRebound(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	addresses := []addressbook.Address{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating addresses: %w", err)
	}
	return addresses, nil
}

// CreateAddress inserts a residential address.
func (d *DB) CreateAddress(ctx context.Context, a addressbook.Address) error {
	query := `INSERT INTO residential_addresses (` + addressColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.ExecContextRebound(ctx, query,
		a.ID, a.Postcode, a.BuildingNumber, a.StreetAddress, a.Town, a.FullAddress,
		nullableString(a.CreatedBy), a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create address: %w", err)
	}
	return nil
}

// UpdateAddress overwrites the editable fields of an address.
func (d *DB) UpdateAddress(ctx context.Context, a addressbook.Address) error {
	query := `
	UPDATE residential_addresses
	SET postcode = ?, building_number = ?, street_address = ?, town = ?, full_address = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := d.ExecContextRebound(ctx, query,
		a.Postcode, a.BuildingNumber, a.StreetAddress, a.Town, a.FullAddress, a.UpdatedAt.UTC(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}
	return expectOneRow(result, addressbook.ErrNotFound)
}

// DeleteAddress removes an address.
func (d *DB) DeleteAddress(ctx context.Context, id string) error {
	result, err := d.ExecContextRebound(ctx, `DELETE FROM residential_addresses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete address: %w", err)
	}
	return expectOneRow(result, addressbook.ErrNotFound)
}

// GetAddress retrieves an address by id.
func (d *DB) GetAddress(ctx context.Context, id string) (addressbook.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM residential_addresses WHERE id = ?`
	a, err := scanAddress(d.QueryRowContextRebound(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return addressbook.Address{}, addressbook.ErrNotFound
		}
		return addressbook.Address{}, fmt.Errorf("failed to get address: %w", err)
	}
	return a, nil
}

// ListAddresses returns every address, newest first.
func (d *DB) ListAddresses(ctx context.Context) ([]addressbook.Address, error) {
	return d.queryAddresses(ctx, `SELECT `+addressColumns+` FROM residential_addresses ORDER BY created_at DESC, id`)
}

// ListAddressesByPostcode returns the addresses stored under postcode, newest first.
func (d *DB) ListAddressesByPostcode(ctx context.Context, postcode string) ([]addressbook.Address, error) {
	return d.queryAddresses(ctx, `SELECT `+addressColumns+` FROM residential_addresses WHERE postcode = ? ORDER BY created_at DESC, id`, postcode)
}
