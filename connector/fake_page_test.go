package connector

import (
	"context"
	"strings"
	"time"

	"github.com/onescan/dentalsync/browser"
	"github.com/onescan/dentalsync/order"
)

// fakePage is a scripted Page: navigation and clicks mutate a fake URL,
// selectors resolve against configured maps, unknown selectors time out.
type fakePage struct {
	url           string
	urlAfterClick map[string]string // clicking selector "redirects"
	urlAfterOpen  map[string]string // opening url changes the fake URL
	attrs         map[string]string // selector+"\x00"+attr -> value
	texts         map[string]string
	htmls         map[string][]string // selector -> outer HTML per match
	missing       map[string]bool     // selectors that never appear
	openErr       map[string]error

	opened  []string
	typed   map[string]string
	clicked []string
	alive   bool
	closed  bool
}

func newFakePage() *fakePage {
	return &fakePage{
		urlAfterClick: map[string]string{},
		urlAfterOpen:  map[string]string{},
		attrs:         map[string]string{},
		texts:         map[string]string{},
		htmls:         map[string][]string{},
		missing:       map[string]bool{},
		openErr:       map[string]error{},
		typed:         map[string]string{},
		alive:         true,
	}
}

func (f *fakePage) timeout(sel string) error {
	return &browser.TimeoutError{Condition: "selector " + sel, Timeout: time.Second, Elapsed: time.Second}
}

func (f *fakePage) Open(_ context.Context, url string) error {
	f.opened = append(f.opened, url)
	if err := f.openErr[url]; err != nil {
		return err
	}
	if u, ok := f.urlAfterOpen[url]; ok {
		f.url = u
	} else {
		f.url = url
	}
	return nil
}

func (f *fakePage) WaitForElement(_ context.Context, sel string, _ time.Duration) error {
	if f.missing[sel] {
		return f.timeout(sel)
	}
	return nil
}

func (f *fakePage) WaitForCondition(ctx context.Context, desc string, timeout time.Duration, pred func(context.Context) (bool, error)) error {
	for i := 0; i < 10; i++ {
		ok, err := pred(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return &browser.TimeoutError{Condition: desc, Timeout: timeout, Elapsed: timeout}
}

func (f *fakePage) WaitForURL(_ context.Context, fragment string, timeout time.Duration) error {
	if strings.Contains(f.url, fragment) {
		return nil
	}
	return &browser.TimeoutError{Condition: "url containing " + fragment, Timeout: timeout, Elapsed: timeout}
}

func (f *fakePage) Click(_ context.Context, sel string) error {
	if f.missing[sel] {
		return f.timeout(sel)
	}
	f.clicked = append(f.clicked, sel)
	if u, ok := f.urlAfterClick[sel]; ok {
		f.url = u
	}
	return nil
}

func (f *fakePage) ClickJS(ctx context.Context, sel string) error { return f.Click(ctx, sel) }

func (f *fakePage) Type(_ context.Context, sel, text string) error {
	if f.missing[sel] {
		return f.timeout(sel)
	}
	f.typed[sel] = text
	return nil
}

func (f *fakePage) ReadText(_ context.Context, sel string) (string, error) {
	if f.missing[sel] {
		return "", f.timeout(sel)
	}
	return f.texts[sel], nil
}

func (f *fakePage) ReadAttribute(_ context.Context, sel, name string) (string, error) {
	if f.missing[sel] {
		return "", f.timeout(sel)
	}
	return f.attrs[sel+"\x00"+name], nil
}

func (f *fakePage) ElementHTML(_ context.Context, sel string, _ time.Duration) (string, error) {
	if f.missing[sel] || len(f.htmls[sel]) == 0 {
		return "", f.timeout(sel)
	}
	return f.htmls[sel][0], nil
}

func (f *fakePage) ElementsHTML(_ context.Context, sel string, _ time.Duration) ([]string, error) {
	if f.missing[sel] || len(f.htmls[sel]) == 0 {
		return nil, f.timeout(sel)
	}
	return f.htmls[sel], nil
}

func (f *fakePage) CurrentURL(context.Context) (string, error) { return f.url, nil }
func (f *fakePage) IsAlive() bool                              { return f.alive && !f.closed }
func (f *fakePage) Close() error                               { f.closed = true; return nil }

// fakeCreds returns the same account for every platform.
type fakeCreds struct {
	user, pass string
	err        error
}

func (f fakeCreds) Lookup(p order.Platform) (Credentials, error) {
	if f.err != nil {
		return Credentials{}, f.err
	}
	return Credentials{Username: f.user, Password: f.pass}, nil
}

var _ Page = (*fakePage)(nil)
