package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onescan/dentalsync/connector"
	"github.com/onescan/dentalsync/order"
)

func meditProfile() *connector.Profile {
	return &connector.Profile{
		Platform:    order.MeditLink,
		DateLayout:  "2006-01-02 15:04",
		HasComments: true,
	}
}

func TestBuildRowIsolation(t *testing.T) {
	// WHAT: One malformed row out of three yields two records and one
	// rejection.
	// WHY: A single broken list row on the portal must never cost the
	// whole batch.
	p := NewPipeline(nil)
	rows := []connector.RawRow{
		{ExternalID: "ML-1", PatientRef: "Durand", Reception: "2026-08-20 09:30"},
		{}, // parse failure upstream left an empty row
		{ExternalID: "ML-3", PatientRef: "Petit"},
	}

	records, rejected := p.Build(meditProfile(), rows)
	if len(records) != 2 {
		t.Fatalf("records: %d", len(records))
	}
	if len(rejected) != 1 {
		t.Fatalf("rejections: %d", len(rejected))
	}
	if rejected[0].Err == nil {
		t.Error("rejection carries no error")
	}
	if records[0].ExternalID != "ML-1" || records[1].ExternalID != "ML-3" {
		t.Errorf("wrong survivors: %s %s", records[0].ExternalID, records[1].ExternalID)
	}
}

func TestBuildDates(t *testing.T) {
	p := NewPipeline(nil)
	rows := []connector.RawRow{
		{ExternalID: "a", PatientRef: "A", Reception: "2026-08-20 09:30", Due: "2026-09-01 00:00"},
		{ExternalID: "b", PatientRef: "B"},
		{ExternalID: "c", PatientRef: "C", Reception: "pas de date"},
	}

	records, rejected := p.Build(meditProfile(), rows)
	if len(rejected) != 0 {
		t.Fatalf("rejections: %v", rejected)
	}

	want := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	if records[0].ReceptionDate == nil || !records[0].ReceptionDate.Equal(want) {
		t.Errorf("reception: %v", records[0].ReceptionDate)
	}
	if records[0].DueDate == nil {
		t.Error("due date dropped")
	}
	// Absent and unparseable dates stay missing; the record survives.
	if records[1].ReceptionDate != nil {
		t.Errorf("empty cell parsed to %v", records[1].ReceptionDate)
	}
	if records[2].ReceptionDate != nil {
		t.Errorf("garbage cell parsed to %v", records[2].ReceptionDate)
	}
}

func TestBuildNormalizes(t *testing.T) {
	p := NewPipeline(nil)
	records, rejected := p.Build(meditProfile(), []connector.RawRow{
		{ExternalID: "  x  ", PatientRef: " Leroy ", Practice: "  "},
	})
	if len(rejected) != 0 || len(records) != 1 {
		t.Fatalf("records=%d rejected=%d", len(records), len(rejected))
	}
	r := records[0]
	if r.ExternalID != "x" || r.PatientRef != "Leroy" {
		t.Errorf("not trimmed: %+v", r)
	}
	if r.Practice != order.UnknownPractice {
		t.Errorf("practice sentinel missing: %q", r.Practice)
	}
}

type fakeComments struct {
	comments  map[string]string
	errs      map[string]error
	supported bool
	calls     int
}

func (f *fakeComments) Comment(_ context.Context, externalID string) (string, bool, error) {
	f.calls++
	if !f.supported {
		return "", false, nil
	}
	if err := f.errs[externalID]; err != nil {
		return "", true, err
	}
	return f.comments[externalID], true, nil
}

func TestEnrichComments(t *testing.T) {
	p := NewPipeline(nil)
	p.commentInterval = time.Millisecond

	records := []*order.Record{
		{ExternalID: "1"}, {ExternalID: "2"}, {ExternalID: "3"},
	}
	src := &fakeComments{
		supported: true,
		comments:  map[string]string{"1": " teinte A2 ", "3": "stellite"},
		errs:      map[string]error{"2": errors.New("detail page timeout")},
	}

	if err := p.EnrichComments(context.Background(), src, meditProfile(), records); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if records[0].Comment != "teinte A2" {
		t.Errorf("comment 1: %q", records[0].Comment)
	}
	// A failed detail fetch skips that record only.
	if records[1].Comment != "" {
		t.Errorf("comment 2: %q", records[1].Comment)
	}
	if records[2].Comment != "stellite" {
		t.Errorf("comment 3: %q", records[2].Comment)
	}
}

func TestEnrichCommentsSkipsUnsupported(t *testing.T) {
	p := NewPipeline(nil)
	p.commentInterval = time.Millisecond
	records := []*order.Record{{ExternalID: "1"}, {ExternalID: "2"}}

	src := &fakeComments{}
	if err := p.EnrichComments(context.Background(), src, meditProfile(), records); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("calls after unsupported answer: %d", src.calls)
	}

	// Platforms without a comment view are never visited at all.
	profile := &connector.Profile{Platform: order.Dexis, DateLayout: "02/01/2006"}
	src2 := &fakeComments{supported: true}
	if err := p.EnrichComments(context.Background(), src2, profile, records); err != nil {
		t.Fatal(err)
	}
	if src2.calls != 0 {
		t.Errorf("commentless platform visited %d times", src2.calls)
	}
}

func TestEnrichCommentsHonorsCancellation(t *testing.T) {
	p := NewPipeline(nil)
	p.commentInterval = time.Hour // force the limiter to block

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.EnrichComments(ctx, &fakeComments{supported: true}, meditProfile(),
			[]*order.Record{{ExternalID: "1"}, {ExternalID: "2"}})
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected a cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("enrichment did not stop on cancel")
	}
}
