package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onescan/dentalsync/order"
)

// meditCommentSelector matches the read-only comment textarea on an order's
// detail page. The build-specific data-v attributes the portal also carries
// are deliberately left out of the selector.
const meditCommentSelector = "textarea.show-scrollbar[disabled]"

// MeditLink drives www.meditlink.com. Richest variant: reception and due
// dates, ordering practice, and a per-order comment on a separate detail
// page.
type MeditLink struct {
	base
}

// NewMeditLink builds the MeditLink connector.
func NewMeditLink(creds CredentialSource, log *slog.Logger) *MeditLink {
	return &MeditLink{base: newBase(Profile{
		Platform:   order.MeditLink,
		BaseURL:    "https://www.meditlink.com",
		LoginURL:   "https://www.meditlink.com/login",
		OrdersURL:  "https://www.meditlink.com/inbox",
		LogoutURL:  "https://www.meditlink.com/logout",
		VerifyURL:  "https://www.meditlink.com/dashboard",
		DateLayout: "2006-01-02 15:04",

		HasDueDate:  true,
		HasPractice: true,
		HasComments: true,

		Selectors: Selectors{
			Username:         "input#input-login-id.text-box-input",
			Password:         "input#input-login-password.text-box-input",
			LoginButton:      "button#btn-login",
			Row:              "tr.main-body-tr",
			PostLoginDismiss: "div.icon-wrapper.md-icon.xxs[rounded='false']",
		},
	}, creds, log)}
}

func (c *MeditLink) Login(ctx context.Context, pg Page) error {
	creds, err := c.creds.Lookup(order.MeditLink)
	if err != nil {
		return &AuthError{Platform: order.MeditLink, Reason: "credentials unavailable", Err: err}
	}

	if err := pg.Open(ctx, c.profile.LoginURL); err != nil {
		return &AuthError{Platform: order.MeditLink, Reason: "portal unreachable", Err: err}
	}

	sel := c.profile.Selectors
	if err := pg.Type(ctx, sel.Username, creds.Username); err != nil {
		return &AuthError{Platform: order.MeditLink, Reason: "login form changed", Err: err}
	}
	if err := pg.Type(ctx, sel.Password, creds.Password); err != nil {
		return &AuthError{Platform: order.MeditLink, Reason: "login form changed", Err: err}
	}
	creds = Credentials{} // the form holds them now; drop our copy

	// The login button fades in; clicking mid-animation is swallowed.
	err = pg.WaitForCondition(ctx, "login button ready", 10*time.Second,
		func(ctx context.Context) (bool, error) {
			cls, err := pg.ReadAttribute(ctx, sel.LoginButton, "class")
			if err != nil {
				return false, err
			}
			return !strings.Contains(cls, "fade-out"), nil
		})
	if err != nil {
		return &AuthError{Platform: order.MeditLink, Reason: "login form changed", Err: err}
	}
	if err := pg.ClickJS(ctx, sel.LoginButton); err != nil {
		return &AuthError{Platform: order.MeditLink, Reason: "login form changed", Err: err}
	}

	if err := pg.WaitForURL(ctx, "inbox", c.profile.LoginTimeout); err != nil {
		return &AuthError{Platform: order.MeditLink, Reason: "credentials rejected", Err: err}
	}

	c.dismiss(ctx, pg, sel.PostLoginDismiss)
	return nil
}

func (c *MeditLink) FetchOrders(ctx context.Context, pg Page) ([]RawRow, error) {
	if err := pg.Open(ctx, c.profile.OrdersURL); err != nil {
		return nil, &FetchError{Platform: order.MeditLink, Err: err}
	}
	sel := c.profile.Selectors
	if err := pg.WaitForElement(ctx, sel.Row, c.profile.ResultsTimeout); err != nil {
		return nil, &FetchError{Platform: order.MeditLink, Err: err}
	}
	htmls, err := pg.ElementsHTML(ctx, sel.Row, c.profile.ResultsTimeout)
	if err != nil {
		return nil, &FetchError{Platform: order.MeditLink, Err: err}
	}

	rows := make([]RawRow, 0, len(htmls))
	for i, h := range htmls {
		row, err := parseMeditLinkRow(h)
		if err != nil {
			c.log.Warn("row extraction failed", "row", i, "error", err)
			rows = append(rows, RawRow{})
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchComment navigates to the order's detail page and reads the comment
// textarea. Returns "" when the order carries no comment.
func (c *MeditLink) FetchComment(ctx context.Context, pg Page, externalID string) (string, error) {
	url := c.profile.BaseURL + "/inbox/detail/" + externalID
	if err := pg.Open(ctx, url); err != nil {
		return "", fmt.Errorf("meditlink: detail page: %w", err)
	}
	if err := pg.WaitForURL(ctx, "/inbox/detail/", c.profile.LoginTimeout); err != nil {
		return "", fmt.Errorf("meditlink: detail page: %w", err)
	}
	// The textarea exposes its content as the value attribute; fall back
	// to node text for older page builds.
	v, err := pg.ReadAttribute(ctx, meditCommentSelector, "value")
	if err != nil {
		return "", fmt.Errorf("meditlink: comment of %s: %w", externalID, err)
	}
	if strings.TrimSpace(v) == "" {
		v, err = pg.ReadText(ctx, meditCommentSelector)
		if err != nil {
			return "", fmt.Errorf("meditlink: comment of %s: %w", externalID, err)
		}
	}
	return strings.TrimSpace(v), nil
}

func (c *MeditLink) Logout(ctx context.Context, pg Page) {
	if err := pg.Open(ctx, c.profile.LogoutURL); err != nil {
		c.log.Warn("logout navigation failed", "error", err)
	}
}

func (c *MeditLink) Verify(ctx context.Context, pg Page) bool {
	if err := pg.Open(ctx, c.profile.VerifyURL); err != nil {
		return false
	}
	return pg.WaitForURL(ctx, "dashboard", c.profile.VerifyTimeout) == nil
}

// parseMeditLinkRow extracts one inbox row. Cell order on the portal:
// patient (3), reception (4), due (5), practice (6), external id (7).
func parseMeditLinkRow(html string) (RawRow, error) {
	doc, err := rowFragment(html)
	if err != nil {
		return RawRow{}, err
	}
	cell := func(n int) string {
		return strings.TrimSpace(doc.Find(fmt.Sprintf("td:nth-child(%d) span", n)).First().Text())
	}
	return RawRow{
		PatientRef: cell(3),
		Reception:  cell(4),
		Due:        cell(5),
		Practice:   cell(6),
		ExternalID: cell(7),
	}, nil
}
