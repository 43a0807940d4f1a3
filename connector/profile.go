package connector

import (
	"context"
	"log/slog"
	"time"

	"github.com/onescan/dentalsync/order"
)

// Profile is the explicit per-portal configuration a variant is built
// from: navigation targets, the selector set, which optional fields the
// portal exposes, and the wait bounds for its slowest pages.
type Profile struct {
	Platform order.Platform

	BaseURL   string
	LoginURL  string
	OrdersURL string
	// LogoutURL is navigated best-effort before the session closes.
	// Empty = the portal has no logout endpoint; closing the session is
	// the whole logout.
	LogoutURL string
	// VerifyURL is the cheap reachability probe target.
	VerifyURL string

	// DateLayout parses reception/due cell text. Empty = the portal
	// exposes no dates.
	DateLayout string

	HasDueDate  bool
	HasPractice bool
	HasComments bool

	// LoginTimeout bounds the post-submit redirect wait.
	LoginTimeout time.Duration
	// ResultsTimeout bounds the wait for the results container; portals
	// render their tables client-side and can take a while.
	ResultsTimeout time.Duration
	// VerifyTimeout bounds the liveness probe.
	VerifyTimeout time.Duration

	Selectors Selectors
}

// Selectors is the portal-specific CSS selector set. Portal extras that
// only one variant needs (consent banners, animated buttons) live here
// too, empty for the others.
type Selectors struct {
	Username    string
	Password    string
	LoginButton string

	// Row matches one order row on the results page.
	Row string
	// LoggedInProbe is an element that only renders for an authenticated
	// session; used when VerifyURL alone cannot distinguish.
	LoggedInProbe string

	// CookieConsent is clicked best-effort before the login form.
	CookieConsent string
	// PostLoginDismiss is clicked best-effort after a successful login
	// (welcome popups and the like).
	PostLoginDismiss string
}

func (p *Profile) defaults() {
	if p.LoginTimeout <= 0 {
		p.LoginTimeout = 20 * time.Second
	}
	if p.ResultsTimeout <= 0 {
		p.ResultsTimeout = 40 * time.Second
	}
	if p.VerifyTimeout <= 0 {
		p.VerifyTimeout = 10 * time.Second
	}
}

// base carries what every variant shares: its profile, the credential
// lookup and a logger.
type base struct {
	profile Profile
	creds   CredentialSource
	log     *slog.Logger
}

func newBase(profile Profile, creds CredentialSource, log *slog.Logger) base {
	profile.defaults()
	if log == nil {
		log = slog.Default()
	}
	return base{profile: profile, creds: creds, log: log.With("platform", string(profile.Platform))}
}

func (b *base) Platform() order.Platform { return b.profile.Platform }
func (b *base) Profile() *Profile        { return &b.profile }

// dismiss clicks a best-effort selector with a short bound; absence is not
// an error.
func (b *base) dismiss(ctx context.Context, pg Page, selector string) {
	if selector == "" {
		return
	}
	if err := pg.WaitForElement(ctx, selector, 3*time.Second); err != nil {
		return
	}
	if err := pg.ClickJS(ctx, selector); err != nil {
		b.log.Debug("dismiss click failed", "selector", selector, "error", err)
	}
}
