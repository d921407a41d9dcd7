package database

import (
	"context"
	"fmt"

	"github.com/webuildtrades/postcode-lookup/internal/usage"
)

// InsertUsage appends one usage record.
func (d *DB) InsertUsage(ctx context.Context, rec usage.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO api_usage (id, user_id, endpoint, status, timestamp) VALUES (?, ?, ?, ?, ?)`
	if _, err := d.ExecContextRebound(ctx, query, rec.ID, rec.UserID, rec.Endpoint, string(rec.Status), rec.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// ListUsageByUser returns a user's usage ordered by timestamp. limit <= 0
// returns every record.
func (d *DB) ListUsageByUser(ctx context.Context, userID string, limit int, newestFirst bool) ([]usage.Record, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := `SELECT id, user_id, endpoint, status, timestamp FROM api_usage WHERE user_id = ? ORDER BY timestamp ` + order + `, id ` + order
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.QueryContextRebound(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []usage.Record{}
	for rows.Next() {
		var (
			rec    usage.Record
			status string
			ts     nullTime
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Endpoint, &status, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.Status = usage.Status(status)
		rec.Timestamp = ts.Time
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}
