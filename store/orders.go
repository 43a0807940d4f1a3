package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onescan/dentalsync/order"
)

const orderColumns = `id, external_id, platform, patient_ref, reception_date,
	due_date, practice, comment, seen, created_at, updated_at`

const upsertOrderSQL = `INSERT INTO orders (external_id, platform, patient_ref, reception_date,
		due_date, practice, comment, seen, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(external_id, platform) DO UPDATE SET
		patient_ref    = excluded.patient_ref,
		reception_date = COALESCE(orders.reception_date, excluded.reception_date),
		due_date       = COALESCE(excluded.due_date, orders.due_date),
		practice       = CASE WHEN excluded.practice <> ?
		                      THEN excluded.practice ELSE orders.practice END,
		comment        = CASE WHEN excluded.comment <> ''
		                      THEN excluded.comment ELSE orders.comment END,
		updated_at     = excluded.updated_at`

func upsertArgs(r *order.Record, now int64) []any {
	return []any{
		r.ExternalID, string(r.Platform), r.PatientRef, toMillis(r.ReceptionDate),
		toMillis(r.DueDate), r.Practice, r.Comment, r.Seen, now, now,
		order.UnknownPractice,
	}
}

// Save upserts one order on its (external_id, platform) key.
//
// Insert keeps the record as given. On conflict the row is refreshed from the
// new extraction with three exceptions: seen is never touched, the first
// observed reception_date wins, and empty practice/comment values never
// overwrite previously captured ones. Portals drop a case's date and comment
// from the list view once it ages; re-ingestion must not erase what an
// earlier run saw. The patient reference always follows the portal: a name
// corrected portal-side propagates on the next run.
func (s *Store) Save(ctx context.Context, r *order.Record) error {
	_, err := s.DB.ExecContext(ctx, upsertOrderSQL, upsertArgs(r, nowMillis())...)
	if err != nil {
		return fmt.Errorf("save order %s: %w", r.Key(), err)
	}
	return nil
}

// SaveAll upserts a batch in one transaction with Save's merge rules. A
// failure anywhere in the batch persists nothing.
func (s *Store) SaveAll(ctx context.Context, records []*order.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertOrderSQL)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := nowMillis()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, upsertArgs(r, now)...); err != nil {
			return fmt.Errorf("save order %s: %w", r.Key(), err)
		}
	}
	return tx.Commit()
}

// FindByKey returns the stored record for a dedup key, or nil when absent.
func (s *Store) FindByKey(ctx context.Context, k order.Key) (*order.Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE external_id = ? AND platform = ?`,
		k.ExternalID, string(k.Platform))
	r, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", k, err)
	}
	return r, nil
}

// ExistsByKey reports whether an order with the given key is stored.
func (s *Store) ExistsByKey(ctx context.Context, k order.Key) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE external_id = ? AND platform = ?`,
		k.ExternalID, string(k.Platform)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("order exists %s: %w", k, err)
	}
	return n > 0, nil
}

// MarkSeen flags one order as reviewed. Reports whether the row existed.
func (s *Store) MarkSeen(ctx context.Context, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE orders SET seen = 1, updated_at = ? WHERE id = ?`, nowMillis(), id)
	if err != nil {
		return false, fmt.Errorf("mark seen %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListFilter narrows List results. The zero value lists everything.
type ListFilter struct {
	Platform   order.Platform // empty = all platforms
	UnseenOnly bool
	Limit      int // <= 0 defaults to 200
	Offset     int
}

// List returns orders newest first. Rows without a reception date sort last.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*order.Record, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}
	if f.Platform != "" {
		q += ` AND platform = ?`
		args = append(args, string(f.Platform))
	}
	if f.UnseenOnly {
		q += ` AND seen = 0`
	}
	q += ` ORDER BY reception_date IS NULL, reception_date DESC, created_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var result []*order.Record
	for rows.Next() {
		r, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*order.Record, error) {
	var (
		r         order.Record
		platform  string
		reception sql.NullInt64
		due       sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.ExternalID, &platform, &r.PatientRef, &reception,
		&due, &r.Practice, &r.Comment, &r.Seen, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Platform = order.Platform(platform)
	r.ReceptionDate = fromMillis(reception)
	r.DueDate = fromMillis(due)
	return &r, nil
}
