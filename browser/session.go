// Package browser owns one remote-controlled Chrome instance per portal and
// exposes the blocking, time-bounded primitives connectors drive: navigate,
// wait, click, type, read. Every wait has an explicit bound; a session is
// released on all exit paths, never leaking a Chrome process even when
// construction partially failed.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures a browser session.
type Config struct {
	// Headful runs Chrome with a visible window. Default: headless.
	Headful bool

	// WindowWidth and WindowHeight set the viewport. Default: 1920×1080.
	WindowWidth  int
	WindowHeight int

	// NavTimeout bounds full page navigations. Default: 30s.
	NavTimeout time.Duration

	// ElementTimeout bounds element visibility waits. Default: 10s.
	ElementTimeout time.Duration

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.WindowWidth <= 0 {
		c.WindowWidth = 1920
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = 1080
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session owns exactly one Chrome process and one page. It is exclusively
// owned by a single platform's lifecycle manager and never shared across
// platforms.
type Session struct {
	cfg     Config
	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page

	mu     sync.Mutex
	closed bool
}

// Dial launches Chrome (or connects to RemoteURL), opens one stealth page,
// and returns the session. On any failure the partially-acquired resources
// are released before returning.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg.defaults()
	s := &Session{cfg: cfg}

	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(!cfg.Headful).
			NoSandbox(true).
			Set("disable-dev-shm-usage").
			Set("disable-gpu").
			Set("window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)).
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		s.lnch = l
		wsURL = u
		cfg.Logger.Debug("browser: launched local chrome", "url", wsURL)
	} else {
		cfg.Logger.Debug("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	s.page = page
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.WindowWidth,
		Height:            cfg.WindowHeight,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		cfg.Logger.Warn("browser: viewport override failed", "error", err)
	}

	ok = true
	return s, nil
}

// Open navigates the page to url and waits for the load event, bounded by
// NavTimeout.
func (s *Session) Open(ctx context.Context, url string) error {
	p, err := s.bounded(ctx, s.cfg.NavTimeout)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.Navigate(url); err != nil {
		return s.classify(err, "navigation to "+url, s.cfg.NavTimeout, start)
	}
	if err := p.WaitLoad(); err != nil {
		return s.classify(err, "load of "+url, s.cfg.NavTimeout, start)
	}
	return nil
}

// WaitForElement blocks until the selector matches an element, or fails
// with a TimeoutError carrying the selector and elapsed time.
func (s *Session) WaitForElement(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := s.element(ctx, selector, timeout)
	return err
}

// WaitForCondition polls pred until it returns true, an error, or the
// timeout elapses. desc names the condition in the timeout diagnostic.
func (s *Session) WaitForCondition(ctx context.Context, desc string, timeout time.Duration, pred func(context.Context) (bool, error)) error {
	start := time.Now()
	deadline := start.Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		done, err := pred(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Condition: desc, Timeout: timeout, Elapsed: time.Since(start)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForURL blocks until the current URL contains fragment.
func (s *Session) WaitForURL(ctx context.Context, fragment string, timeout time.Duration) error {
	return s.WaitForCondition(ctx, "url containing "+fragment, timeout,
		func(ctx context.Context) (bool, error) {
			u, err := s.CurrentURL(ctx)
			if err != nil {
				return false, err
			}
			return strings.Contains(u, fragment), nil
		})
}

// Click waits for the selector and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector, s.cfg.ElementTimeout)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	return nil
}

// ClickJS dispatches a DOM click on the selector from inside the page.
// Some portals layer animations over their buttons; a synthetic click
// bypasses the interception a trusted pointer event would hit.
func (s *Session) ClickJS(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector, s.cfg.ElementTimeout)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("browser: js click %s: %w", selector, err)
	}
	return nil
}

// Type clears the matched input and types text into it.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	el, err := s.element(ctx, selector, s.cfg.ElementTimeout)
	if err != nil {
		return err
	}
	// Select any existing value so Input replaces instead of appending.
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: type into %s: %w", selector, err)
	}
	return nil
}

// ReadText returns the trimmed visible text of the matched element.
func (s *Session) ReadText(ctx context.Context, selector string) (string, error) {
	el, err := s.element(ctx, selector, s.cfg.ElementTimeout)
	if err != nil {
		return "", err
	}
	txt, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("browser: read %s: %w", selector, err)
	}
	return strings.TrimSpace(txt), nil
}

// ReadAttribute returns the named attribute of the matched element, or ""
// when the attribute is absent.
func (s *Session) ReadAttribute(ctx context.Context, selector, name string) (string, error) {
	el, err := s.element(ctx, selector, s.cfg.ElementTimeout)
	if err != nil {
		return "", err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("browser: attribute %s of %s: %w", name, selector, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// ElementHTML waits for the selector and returns the element's outer HTML.
// Connectors grab a results container once and parse rows offline instead
// of issuing one CDP round-trip per cell.
func (s *Session) ElementHTML(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	el, err := s.element(ctx, selector, timeout)
	if err != nil {
		return "", err
	}
	html, err := el.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html of %s: %w", selector, err)
	}
	return html, nil
}

// ElementsHTML returns the outer HTML of every element matching the
// selector. The wait bound applies to the first match; an empty page
// yields a TimeoutError, never an empty slice.
func (s *Session) ElementsHTML(ctx context.Context, selector string, timeout time.Duration) ([]string, error) {
	p, err := s.bounded(ctx, timeout)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := p.Element(selector); err != nil {
		return nil, s.classify(err, "selector "+selector, timeout, start)
	}
	els, err := p.Elements(selector)
	if err != nil {
		return nil, s.classify(err, "selector "+selector, timeout, start)
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		html, err := el.HTML()
		if err != nil {
			return nil, fmt.Errorf("browser: html of %s: %w", selector, err)
		}
		out = append(out, html)
	}
	return out, nil
}

// CurrentURL returns the page's current URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	p, err := s.bounded(ctx, s.cfg.ElementTimeout)
	if err != nil {
		return "", err
	}
	info, err := p.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// IsAlive probes a cheap page property and reports whether the browser
// process still responds. It never fails loudly: any error means dead.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	page, closed := s.page, s.closed
	s.mu.Unlock()
	if closed || page == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := page.Context(ctx).Info()
	return err == nil
}

// Close releases the page, the browser and the Chrome process. It is
// idempotent and safe to call on an already-crashed session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	return nil
}

// releaseLauncher tears down a launched Chrome. connected reports whether a
// browser handle ever attached; without one nothing can close the process
// gracefully, so it is killed directly before cleanup. Indirection so the
// partial-construction teardown is testable without a browser.
var releaseLauncher = func(l *launcher.Launcher, connected bool) {
	if !connected {
		l.Kill()
	}
	l.Cleanup()
}

// release tears down whatever was acquired so far. Callers hold s.mu or
// exclusive ownership during construction.
func (s *Session) release() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.cfg.Logger.Debug("browser: page close", "error", err)
		}
		s.page = nil
	}
	connected := s.browser != nil
	if connected {
		if err := s.browser.Close(); err != nil {
			s.cfg.Logger.Debug("browser: browser close", "error", err)
		}
		s.browser = nil
	}
	if s.lnch != nil {
		releaseLauncher(s.lnch, connected)
		s.lnch = nil
	}
}

// element waits for a selector with the given bound.
func (s *Session) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	p, err := s.bounded(ctx, timeout)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	el, err := p.Element(selector)
	if err != nil {
		return nil, s.classify(err, "selector "+selector, timeout, start)
	}
	return el, nil
}

func (s *Session) bounded(ctx context.Context, timeout time.Duration) (*rod.Page, error) {
	s.mu.Lock()
	page, closed := s.page, s.closed
	s.mu.Unlock()
	if closed || page == nil {
		return nil, ErrSessionClosed
	}
	return page.Context(ctx).Timeout(timeout), nil
}

// classify maps rod deadline failures onto TimeoutError and everything else
// onto a wrapped error. A dead session surfaces as ErrSessionClosed so an
// aborted fetch fails with a liveness error rather than hanging.
func (s *Session) classify(err error, condition string, timeout time.Duration, start time.Time) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Condition: condition, Timeout: timeout, Elapsed: time.Since(start)}
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return fmt.Errorf("browser: %s: %w", condition, err)
}
