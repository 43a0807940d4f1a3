package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onescan/dentalsync/connector"
	"github.com/onescan/dentalsync/order"
)

type stubPage struct {
	alive  bool
	closed bool
}

func (p *stubPage) Open(context.Context, string) error { return nil }
func (p *stubPage) WaitForElement(context.Context, string, time.Duration) error {
	return nil
}
func (p *stubPage) WaitForCondition(context.Context, string, time.Duration, func(context.Context) (bool, error)) error {
	return nil
}
func (p *stubPage) WaitForURL(context.Context, string, time.Duration) error { return nil }
func (p *stubPage) Click(context.Context, string) error                     { return nil }
func (p *stubPage) ClickJS(context.Context, string) error                   { return nil }
func (p *stubPage) Type(context.Context, string, string) error              { return nil }
func (p *stubPage) ReadText(context.Context, string) (string, error)        { return "", nil }
func (p *stubPage) ReadAttribute(context.Context, string, string) (string, error) {
	return "", nil
}
func (p *stubPage) ElementHTML(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (p *stubPage) ElementsHTML(context.Context, string, time.Duration) ([]string, error) {
	return nil, nil
}
func (p *stubPage) CurrentURL(context.Context) (string, error) { return "", nil }
func (p *stubPage) IsAlive() bool                              { return p.alive && !p.closed }
func (p *stubPage) Close() error                               { p.closed = true; return nil }

type stubConn struct {
	loginErr   error
	loginDelay time.Duration
	verifyOK   bool
	rows       []connector.RawRow
	fetchErr   error

	logins  atomic.Int32
	logouts atomic.Int32
	fetches atomic.Int32
}

func (c *stubConn) Platform() order.Platform      { return order.MeditLink }
func (c *stubConn) Profile() *connector.Profile   { return &connector.Profile{Platform: order.MeditLink} }
func (c *stubConn) Login(context.Context, connector.Page) error {
	c.logins.Add(1)
	if c.loginDelay > 0 {
		time.Sleep(c.loginDelay)
	}
	return c.loginErr
}
func (c *stubConn) FetchOrders(context.Context, connector.Page) ([]connector.RawRow, error) {
	c.fetches.Add(1)
	return c.rows, c.fetchErr
}
func (c *stubConn) Logout(context.Context, connector.Page) { c.logouts.Add(1) }
func (c *stubConn) Verify(context.Context, connector.Page) bool {
	return c.verifyOK
}

func newTestManager(conn *stubConn) (*Manager, *[]*stubPage) {
	var pages []*stubPage
	m := NewManager(Config{
		Connector: conn,
		Dial: func(context.Context) (connector.Page, error) {
			p := &stubPage{alive: true}
			pages = append(pages, p)
			return p, nil
		},
	})
	return m, &pages
}

func TestLoginSingleFlight(t *testing.T) {
	// WHAT: Concurrent ensure-authenticated calls yield one login attempt.
	// WHY: The portal locks accounts that log in twice simultaneously, and
	// both callers must observe the same successful outcome.
	conn := &stubConn{verifyOK: true, loginDelay: 100 * time.Millisecond}
	m, _ := newTestManager(conn)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = m.EnsureAuthenticated(context.Background())
		}(i)
	}
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("errors: %v / %v", errs[0], errs[1])
	}
	if got := conn.logins.Load(); got != 1 {
		t.Fatalf("logins: got %d, want 1", got)
	}
	if outcomes[0] != outcomes[1] {
		t.Errorf("outcomes differ: %q vs %q", outcomes[0], outcomes[1])
	}
}

func TestFastPathReverifiesLiveness(t *testing.T) {
	conn := &stubConn{verifyOK: true}
	m, _ := newTestManager(conn)
	ctx := context.Background()

	out, err := m.EnsureAuthenticated(ctx)
	if err != nil || out != Connected {
		t.Fatalf("first ensure: %q %v", out, err)
	}
	out, err = m.EnsureAuthenticated(ctx)
	if err != nil || out != AlreadyConnected {
		t.Fatalf("second ensure: %q %v", out, err)
	}
	if conn.logins.Load() != 1 {
		t.Errorf("logins: %d", conn.logins.Load())
	}
}

func TestDeadBrowserTriggersOneReauth(t *testing.T) {
	// WHAT: A silently-dead browser degrades the session and exactly one
	// re-authentication runs on the next ensure.
	// WHY: "Already authenticated" is a fast path that must never be
	// trusted without a liveness probe.
	conn := &stubConn{verifyOK: true}
	m, pages := newTestManager(conn)
	ctx := context.Background()

	if _, err := m.EnsureAuthenticated(ctx); err != nil {
		t.Fatal(err)
	}
	(*pages)[0].alive = false // crash the browser behind our back

	out, err := m.EnsureAuthenticated(ctx)
	if err != nil {
		t.Fatalf("reauth: %v", err)
	}
	if out != Connected {
		t.Errorf("outcome: %q", out)
	}
	if conn.logins.Load() != 2 {
		t.Errorf("logins: %d, want 2", conn.logins.Load())
	}
	if !(*pages)[0].closed {
		t.Error("stale handle not closed")
	}
	if m.Phase() != Authenticated {
		t.Errorf("phase: %v", m.Phase())
	}
}

func TestReauthFailureDisconnects(t *testing.T) {
	conn := &stubConn{verifyOK: true}
	m, pages := newTestManager(conn)
	ctx := context.Background()

	if _, err := m.EnsureAuthenticated(ctx); err != nil {
		t.Fatal(err)
	}
	(*pages)[0].alive = false
	conn.loginErr = errors.New("portal maintenance")

	if _, err := m.EnsureAuthenticated(ctx); err == nil {
		t.Fatal("expected reauth failure")
	}
	if m.Phase() != Disconnected {
		t.Errorf("phase: %v", m.Phase())
	}
	if m.LastError() == nil {
		t.Error("last error not recorded")
	}
	if m.Status() {
		t.Error("status must be false after reauth failure")
	}
}

func TestLoginFailureClosesSession(t *testing.T) {
	conn := &stubConn{loginErr: errors.New("bad credentials")}
	m, pages := newTestManager(conn)

	if _, err := m.EnsureAuthenticated(context.Background()); err == nil {
		t.Fatal("expected login failure")
	}
	if m.Phase() != Disconnected {
		t.Errorf("phase: %v", m.Phase())
	}
	if len(*pages) != 1 || !(*pages)[0].closed {
		t.Error("browser handle leaked after failed login")
	}
}

func TestFetchRequiresAuthentication(t *testing.T) {
	conn := &stubConn{}
	m, _ := newTestManager(conn)

	if _, err := m.Fetch(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("got %v", err)
	}
	if conn.fetches.Load() != 0 {
		t.Error("fetch ran without a session")
	}
}

func TestLogoutAlwaysClosesSession(t *testing.T) {
	conn := &stubConn{verifyOK: true}
	m, pages := newTestManager(conn)
	ctx := context.Background()

	if _, err := m.EnsureAuthenticated(ctx); err != nil {
		t.Fatal(err)
	}
	if !m.Logout(ctx) {
		t.Error("logout of a live session should report true")
	}
	if !(*pages)[0].closed {
		t.Error("session not closed on logout")
	}
	if m.Phase() != Disconnected {
		t.Errorf("phase: %v", m.Phase())
	}
	if conn.logouts.Load() != 1 {
		t.Errorf("connector logout calls: %d", conn.logouts.Load())
	}
	if m.Logout(ctx) {
		t.Error("second logout should report false")
	}
}

func TestCommentCapabilityAbsent(t *testing.T) {
	conn := &stubConn{verifyOK: true}
	m, _ := newTestManager(conn)

	_, ok, err := m.Comment(context.Background(), "42")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if ok {
		t.Error("stub connector does not fetch comments")
	}
}
