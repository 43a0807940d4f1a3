package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onescan/dentalsync/order"
	"github.com/onescan/dentalsync/store"
)

// Counts summarises what one persist pass did to the store.
type Counts struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Reconciler persists validated records with (external_id, platform) dedup.
type Reconciler struct {
	store *store.Store
	log   *slog.Logger
}

// NewReconciler builds a reconciler. A nil logger means slog.Default().
func NewReconciler(s *store.Store, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: s, log: log}
}

// Persist classifies each record as inserted, updated or unchanged against
// the stored row, then upserts the whole batch in one transaction. The
// store's conflict clause does the actual merge; the lookups here only
// exist to produce honest counts. A failed batch persists nothing and
// reports zero counts.
func (r *Reconciler) Persist(ctx context.Context, records []*order.Record) (Counts, error) {
	var c Counts
	for _, rec := range records {
		existing, err := r.store.FindByKey(ctx, rec.Key())
		if err != nil {
			return Counts{}, fmt.Errorf("reconcile %s: %w", rec.Key(), err)
		}
		switch {
		case existing == nil:
			c.Inserted++
		case brings(existing, rec):
			c.Updated++
		default:
			c.Unchanged++
		}
	}
	if err := r.store.SaveAll(ctx, records); err != nil {
		return Counts{}, fmt.Errorf("reconcile batch: %w", err)
	}
	return c, nil
}

// brings reports whether the new extraction carries anything the stored row
// lacks, mirroring what the upsert's merge rules will actually change.
func brings(stored, fresh *order.Record) bool {
	if fresh.PatientRef != stored.PatientRef {
		return true
	}
	if stored.ReceptionDate == nil && fresh.ReceptionDate != nil {
		return true
	}
	if fresh.DueDate != nil && (stored.DueDate == nil || !stored.DueDate.Equal(*fresh.DueDate)) {
		return true
	}
	if fresh.Practice != order.UnknownPractice && fresh.Practice != stored.Practice {
		return true
	}
	if fresh.Comment != "" && fresh.Comment != stored.Comment {
		return true
	}
	return false
}
