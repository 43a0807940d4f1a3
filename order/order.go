// Package order defines the canonical order record produced by ingestion
// and the admission rules every extracted row must pass before it may be
// persisted.
package order

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies one of the supported dental portals.
type Platform string

const (
	MeditLink  Platform = "meditlink"
	Dexis      Platform = "dexis"
	ThreeShape Platform = "threeshape"
	Itero      Platform = "itero"
)

// Platforms lists every supported portal in ingestion order.
var Platforms = []Platform{MeditLink, Dexis, ThreeShape, Itero}

// ParsePlatform maps a string tag to a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case MeditLink:
		return MeditLink, nil
	case Dexis:
		return Dexis, nil
	case ThreeShape:
		return ThreeShape, nil
	case Itero:
		return Itero, nil
	}
	return "", fmt.Errorf("order: unknown platform %q", s)
}

// UnknownPractice is the sentinel stored when a portal does not expose the
// ordering practice.
const UnknownPractice = "unknown"

// Record is the canonical, deduplicated shape of one dental-case order.
// (ExternalID, Platform) uniquely identifies a record across the whole
// store; ExternalID alone does not — different portals may coincidentally
// emit colliding identifiers.
type Record struct {
	ID         int64
	ExternalID string
	Platform   Platform
	PatientRef string

	// ReceptionDate and DueDate stay nil when the portal omits them.
	// A missing date is recorded as missing, never defaulted to "today".
	ReceptionDate *time.Time
	DueDate       *time.Time

	Practice string
	Comment  string

	// Seen is human-review state local to this system. Re-ingestion must
	// never reset it.
	Seen bool

	CreatedAt int64 // unix millis, store-managed
	UpdatedAt int64 // unix millis, store-managed
}

// Key returns the dedup key of the record.
func (r *Record) Key() Key {
	return Key{ExternalID: r.ExternalID, Platform: r.Platform}
}

// Key is the (externalId, platform) pair used to identify a unique order
// across repeated ingestions.
type Key struct {
	ExternalID string
	Platform   Platform
}

func (k Key) String() string {
	return string(k.Platform) + "/" + k.ExternalID
}

// Validate reports whether the record may be admitted for persistence.
// A record failing admission is dropped, not stored as a partial row.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("order: empty external id")
	}
	if strings.TrimSpace(r.PatientRef) == "" {
		return fmt.Errorf("order: empty patient reference")
	}
	if r.Platform == "" {
		return fmt.Errorf("order: missing platform tag")
	}
	return nil
}

// Normalize trims whitespace and applies the practice sentinel. Called by
// the extraction pipeline before Validate.
func (r *Record) Normalize() {
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.PatientRef = strings.TrimSpace(r.PatientRef)
	r.Practice = strings.TrimSpace(r.Practice)
	r.Comment = strings.TrimSpace(r.Comment)
	if r.Practice == "" {
		r.Practice = UnknownPractice
	}
}
