// Package session wraps one platform connector with the lifecycle state
// machine that owns its browser handle: Disconnected → Authenticating →
// Authenticated → Degraded → Disconnected. At most one authentication
// attempt is in flight per platform; concurrent callers await the shared
// outcome. A cached "already authenticated" answer is never trusted
// without re-verifying liveness, because the browser process can die
// silently between calls.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/onescan/dentalsync/browser"
	"github.com/onescan/dentalsync/connector"
	"github.com/onescan/dentalsync/order"
)

// ErrNotAuthenticated is returned by Fetch when no authenticated session
// exists. Callers go through EnsureAuthenticated first.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Phase is the lifecycle state of one platform session.
type Phase int

const (
	Disconnected Phase = iota
	Authenticating
	Authenticated
	Degraded
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// Outcome describes how EnsureAuthenticated satisfied the caller.
type Outcome string

const (
	AlreadyConnected Outcome = "already connected"
	Connected        Outcome = "connected"
)

// DialFunc acquires a fresh browser handle for a login cycle.
type DialFunc func(ctx context.Context) (connector.Page, error)

// BrowserDial returns a DialFunc launching a Chrome session with cfg.
func BrowserDial(cfg browser.Config) DialFunc {
	return func(ctx context.Context) (connector.Page, error) {
		return browser.Dial(ctx, cfg)
	}
}

// *browser.Session is the production Page behind a manager.
var _ connector.Page = (*browser.Session)(nil)

// Config configures a Manager.
type Config struct {
	Connector connector.Connector
	Dial      DialFunc
	Logger    *slog.Logger
}

// Manager owns the browser handle for one platform and serializes every
// session operation on it: a fetch never runs concurrently with a login
// for the same session.
type Manager struct {
	conn connector.Connector
	dial DialFunc
	log  *slog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	page    connector.Page
	phase   Phase
	lastErr error
}

// NewManager creates a lifecycle manager for one platform.
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		conn: cfg.Connector,
		dial: cfg.Dial,
		log:  log.With("platform", string(cfg.Connector.Platform())),
	}
}

// EnsureAuthenticated returns once an authenticated, live session exists.
// Concurrent callers share one underlying login attempt and observe the
// same outcome.
func (m *Manager) EnsureAuthenticated(ctx context.Context) (Outcome, error) {
	v, err, _ := m.flight.Do("auth", func() (any, error) {
		return m.ensure(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(Outcome), nil
}

func (m *Manager) ensure(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == Authenticated {
		// Fast path, but only after re-verifying liveness.
		if m.page != nil && m.page.IsAlive() && m.conn.Verify(ctx, m.page) {
			return AlreadyConnected, nil
		}
		m.phase = Degraded
		m.log.Warn("session degraded, attempting one re-authentication")
	}

	// Disconnected or Degraded: exactly one (re-)login attempt.
	if err := m.loginLocked(ctx); err != nil {
		return "", err
	}
	return Connected, nil
}

// loginLocked runs one full login cycle: drop any stale handle, acquire a
// fresh one, delegate to the connector. Failure closes the session and
// lands in Disconnected with the error recorded.
func (m *Manager) loginLocked(ctx context.Context) error {
	m.closeLocked()
	m.phase = Authenticating

	page, err := m.dial(ctx)
	if err != nil {
		m.failLocked(err)
		return err
	}
	m.page = page

	if err := m.conn.Login(ctx, page); err != nil {
		m.failLocked(err)
		return err
	}

	m.phase = Authenticated
	m.lastErr = nil
	m.log.Info("authenticated")
	return nil
}

// Fetch runs the connector's order extraction on the owned session. It is
// serialized against login and logout on the same manager.
func (m *Manager) Fetch(ctx context.Context) ([]connector.RawRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != Authenticated || m.page == nil {
		return nil, ErrNotAuthenticated
	}

	rows, err := m.conn.FetchOrders(ctx, m.page)
	if err != nil {
		m.lastErr = err
		if errors.Is(err, browser.ErrSessionClosed) {
			m.failLocked(err)
		}
		return nil, err
	}
	return rows, nil
}

// Comment fetches one order's comment when the platform supports it. The
// second return is false when it does not.
func (m *Manager) Comment(ctx context.Context, externalID string) (string, bool, error) {
	cf, ok := m.conn.(connector.CommentFetcher)
	if !ok {
		return "", false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != Authenticated || m.page == nil {
		return "", true, ErrNotAuthenticated
	}
	comment, err := cf.FetchComment(ctx, m.page, externalID)
	return comment, true, err
}

// Logout navigates the portal's logout endpoint best-effort, then always
// closes the browser session. Reports whether there was a session to drop.
func (m *Manager) Logout(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page == nil && m.phase == Disconnected {
		return false
	}
	if m.page != nil {
		m.conn.Logout(ctx, m.page)
	}
	m.closeLocked()
	m.phase = Disconnected
	m.log.Info("logged out")
	return true
}

// Status reports the cached authentication state without probing the
// portal. The probe happens lazily on the next EnsureAuthenticated.
func (m *Manager) Status() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == Authenticated
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// LastError returns the most recent login or fetch failure, nil after a
// successful login.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Platform returns the platform this manager drives.
func (m *Manager) Platform() order.Platform { return m.conn.Platform() }

// Connector exposes the wrapped connector for capability queries.
func (m *Manager) Connector() connector.Connector { return m.conn }

func (m *Manager) failLocked(err error) {
	m.lastErr = err
	m.closeLocked()
	m.phase = Disconnected
}

func (m *Manager) closeLocked() {
	if m.page == nil {
		return
	}
	if err := m.page.Close(); err != nil {
		m.log.Debug("session close", "error", err)
	}
	m.page = nil
}
