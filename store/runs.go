package store

import (
	"context"
	"fmt"

	"github.com/onescan/dentalsync/order"
)

// Run statuses recorded in the ingest log.
const (
	RunOK     = "ok"
	RunFailed = "failed"
)

// Run is one ingestion attempt against one portal.
type Run struct {
	ID           string         `json:"id"`
	Platform     order.Platform `json:"platform"`
	Status       string         `json:"status"`
	Fetched      int            `json:"fetched"`
	Inserted     int            `json:"inserted"`
	Updated      int            `json:"updated"`
	Unchanged    int            `json:"unchanged"`
	Rejected     int            `json:"rejected"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	StartedAt    int64          `json:"started_at"` // unix millis
}

// RecordRun appends one run to the ingest log.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO ingest_log (id, platform, status, fetched, inserted, updated,
			unchanged, rejected, error_message, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Platform), r.Status, r.Fetched, r.Inserted, r.Updated,
		r.Unchanged, r.Rejected, r.ErrorMessage, r.DurationMs, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns runs newest first, optionally filtered by platform.
func (s *Store) ListRuns(ctx context.Context, platform order.Platform, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, platform, status, fetched, inserted, updated, unchanged,
		rejected, error_message, duration_ms, started_at FROM ingest_log`
	args := []any{}
	if platform != "" {
		q += ` WHERE platform = ?`
		args = append(args, string(platform))
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		var (
			r        Run
			platform string
		)
		if err := rows.Scan(&r.ID, &platform, &r.Status, &r.Fetched, &r.Inserted,
			&r.Updated, &r.Unchanged, &r.Rejected, &r.ErrorMessage,
			&r.DurationMs, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Platform = order.Platform(platform)
		result = append(result, &r)
	}
	return result, rows.Err()
}
