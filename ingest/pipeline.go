// Package ingest turns raw portal rows into persisted order records: the
// normalization pipeline, the deduplicating reconciler and the orchestrator
// that drives whole runs across portals.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/onescan/dentalsync/connector"
	"github.com/onescan/dentalsync/order"
)

// Rejection is one raw row that failed admission. The run continues; the
// rejection is surfaced in the run report instead of aborting the batch.
type Rejection struct {
	Row connector.RawRow
	Err error
}

// Pipeline normalizes raw rows into candidate records.
type Pipeline struct {
	log *slog.Logger

	// commentInterval paces portal detail-page visits during comment
	// enrichment. Portals throttle accounts that hammer detail views.
	commentInterval time.Duration
}

// NewPipeline builds a pipeline. A nil logger means slog.Default().
func NewPipeline(log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{log: log, commentInterval: time.Second}
}

// Build converts one fetch's raw rows into validated records. Each row is
// processed in isolation: a malformed row becomes a Rejection and never
// affects its siblings.
func (p *Pipeline) Build(profile *connector.Profile, rows []connector.RawRow) ([]*order.Record, []Rejection) {
	records := make([]*order.Record, 0, len(rows))
	var rejected []Rejection

	for _, row := range rows {
		r := &order.Record{
			ExternalID: row.ExternalID,
			Platform:   profile.Platform,
			PatientRef: row.PatientRef,
			Practice:   row.Practice,
		}
		r.ReceptionDate = p.parseDate(profile, "reception", row.ExternalID, row.Reception)
		r.DueDate = p.parseDate(profile, "due", row.ExternalID, row.Due)
		r.Normalize()

		if err := r.Validate(); err != nil {
			p.log.Warn("row rejected",
				"platform", profile.Platform, "external_id", row.ExternalID, "err", err)
			rejected = append(rejected, Rejection{Row: row, Err: err})
			continue
		}
		records = append(records, r)
	}
	return records, rejected
}

// parseDate parses an optional portal date. An empty cell and an unparseable
// cell both yield nil; the record is kept. Dates are display text scraped
// from a list view, so a format drift must degrade to "date unknown" rather
// than reject the case.
func (p *Pipeline) parseDate(profile *connector.Profile, field, externalID, raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(profile.DateLayout, raw)
	if err != nil {
		p.log.Warn("unparseable date kept as missing",
			"platform", profile.Platform, "external_id", externalID,
			"field", field, "raw", raw)
		return nil
	}
	t = t.UTC()
	return &t
}

// CommentSource fetches one order's free-text comment from the portal.
// The bool is false when the platform has no comment detail view.
type CommentSource interface {
	Comment(ctx context.Context, externalID string) (string, bool, error)
}

// EnrichComments visits the portal detail page of each record and fills in
// its comment, paced to one visit per commentInterval. A failed detail fetch
// leaves that record's comment empty and moves on.
func (p *Pipeline) EnrichComments(ctx context.Context, src CommentSource, profile *connector.Profile, records []*order.Record) error {
	if !profile.HasComments {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(p.commentInterval), 1)

	for _, r := range records {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		comment, supported, err := src.Comment(ctx, r.ExternalID)
		if !supported {
			return nil
		}
		if err != nil {
			p.log.Warn("comment fetch failed",
				"platform", profile.Platform, "external_id", r.ExternalID, "err", err)
			continue
		}
		r.Comment = strings.TrimSpace(comment)
	}
	return nil
}
