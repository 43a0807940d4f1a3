// Package connector implements one login/fetch/logout driver per dental
// portal. Each variant is a small Profile (URLs, selector set, field-presence
// flags) over a shared base; portal pages are read through the Page surface
// so drivers can be exercised against a scripted fake in tests.
package connector

import (
	"context"
	"time"

	"github.com/onescan/dentalsync/order"
)

// Page is the browser surface a connector drives. *browser.Session
// implements it; tests substitute a scripted fake.
type Page interface {
	Open(ctx context.Context, url string) error
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) error
	WaitForCondition(ctx context.Context, desc string, timeout time.Duration, pred func(context.Context) (bool, error)) error
	WaitForURL(ctx context.Context, fragment string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	ClickJS(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	ReadText(ctx context.Context, selector string) (string, error)
	ReadAttribute(ctx context.Context, selector, name string) (string, error)
	ElementHTML(ctx context.Context, selector string, timeout time.Duration) (string, error)
	ElementsHTML(ctx context.Context, selector string, timeout time.Duration) ([]string, error)
	CurrentURL(ctx context.Context) (string, error)
	IsAlive() bool
	Close() error
}

// Credentials is one portal account. The engine never persists credentials;
// connectors read them at login time and let them leave scope immediately
// after the form is submitted.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource is the read-only per-platform credential lookup the
// engine consumes.
type CredentialSource interface {
	Lookup(p order.Platform) (Credentials, error)
}

// RawRow is one order row as extracted from a portal page, before
// normalization and admission. Fields a portal does not expose stay empty.
type RawRow struct {
	ExternalID string
	PatientRef string
	Reception  string // raw cell text, parsed by the pipeline
	Due        string
	Practice   string
}

// Connector drives one portal through an owned browser page.
//
// Login is fatal on failure (AuthError). FetchOrders fails only at page
// level (FetchError); single-row trouble surfaces as empty RawRow fields
// and is rejected downstream. Logout is best-effort and never fails
// fatally. Verify is the cheap liveness/reachability probe the lifecycle
// manager runs before trusting a cached authentication.
type Connector interface {
	Platform() order.Platform
	Profile() *Profile
	Login(ctx context.Context, pg Page) error
	FetchOrders(ctx context.Context, pg Page) ([]RawRow, error)
	Logout(ctx context.Context, pg Page)
	Verify(ctx context.Context, pg Page) bool
}

// CommentFetcher is implemented by connectors whose portal exposes a
// per-order comment on a separate detail page.
type CommentFetcher interface {
	FetchComment(ctx context.Context, pg Page, externalID string) (string, error)
}
