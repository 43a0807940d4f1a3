package connector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/onescan/dentalsync/order"
)

// ThreeShape drives portal.3shapecommunicate.com. Sparse variant: the case
// table exposes a case id and patient name but no dates and no practice.
// The portal shows a cookie-consent banner and, depending on the entry
// point, a sign-in navigation button before the actual form.
type ThreeShape struct {
	base
}

// NewThreeShape builds the 3Shape Communicate connector.
func NewThreeShape(creds CredentialSource, log *slog.Logger) *ThreeShape {
	return &ThreeShape{base: newBase(Profile{
		Platform:  order.ThreeShape,
		BaseURL:   "https://portal.3shapecommunicate.com",
		LoginURL:  "https://portal.3shapecommunicate.com/login",
		OrdersURL: "https://portal.3shapecommunicate.com/cases",
		VerifyURL: "https://portal.3shapecommunicate.com/cases",

		Selectors: Selectors{
			Username:      "input[data-auto-qa-id='email-input']",
			Password:      "input[data-auto-qa-id='password-input']",
			LoginButton:   "button[data-auto-qa-id='sign-in-button']",
			Row:           "mat-row",
			LoggedInProbe: "mat-cell.cdk-column-PatientName",
			CookieConsent: "button.coi-banner__accept",
		},
	}, creds, log)}
}

func (c *ThreeShape) Login(ctx context.Context, pg Page) error {
	creds, err := c.creds.Lookup(order.ThreeShape)
	if err != nil {
		return &AuthError{Platform: order.ThreeShape, Reason: "credentials unavailable", Err: err}
	}

	if err := pg.Open(ctx, c.profile.LoginURL); err != nil {
		return &AuthError{Platform: order.ThreeShape, Reason: "portal unreachable", Err: err}
	}

	sel := c.profile.Selectors
	c.dismiss(ctx, pg, sel.CookieConsent)
	// Landing pages sometimes interpose a sign-in nav button; absence
	// means we are already on the form.
	c.dismiss(ctx, pg, "a.nav-btn--login")

	if err := pg.Type(ctx, sel.Username, creds.Username); err != nil {
		return &AuthError{Platform: order.ThreeShape, Reason: "login form changed", Err: err}
	}
	if err := pg.Click(ctx, "button[data-auto-qa-id='next-button']"); err != nil {
		return &AuthError{Platform: order.ThreeShape, Reason: "login form changed", Err: err}
	}
	if err := pg.Type(ctx, sel.Password, creds.Password); err != nil {
		return &AuthError{Platform: order.ThreeShape, Reason: "login form changed", Err: err}
	}
	creds = Credentials{}
	if err := pg.Click(ctx, sel.LoginButton); err != nil {
		return &AuthError{Platform: order.ThreeShape, Reason: "login form changed", Err: err}
	}

	if err := pg.WaitForURL(ctx, "cases", c.profile.LoginTimeout); err != nil {
		return &AuthError{Platform: order.ThreeShape, Reason: "credentials rejected", Err: err}
	}
	return nil
}

func (c *ThreeShape) FetchOrders(ctx context.Context, pg Page) ([]RawRow, error) {
	if err := pg.Open(ctx, c.profile.OrdersURL); err != nil {
		return nil, &FetchError{Platform: order.ThreeShape, Err: err}
	}
	sel := c.profile.Selectors
	if err := pg.WaitForElement(ctx, sel.Row, c.profile.ResultsTimeout); err != nil {
		return nil, &FetchError{Platform: order.ThreeShape, Err: err}
	}
	htmls, err := pg.ElementsHTML(ctx, sel.Row, c.profile.ResultsTimeout)
	if err != nil {
		return nil, &FetchError{Platform: order.ThreeShape, Err: err}
	}

	rows := make([]RawRow, 0, len(htmls))
	for i, h := range htmls {
		row, err := parseThreeShapeRow(h)
		if err != nil {
			c.log.Warn("row extraction failed", "row", i, "error", err)
			rows = append(rows, RawRow{})
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Logout closes nothing portal-side: Communicate has no logout endpoint
// the portal honours; dropping the session is the whole logout.
func (c *ThreeShape) Logout(ctx context.Context, pg Page) {}

func (c *ThreeShape) Verify(ctx context.Context, pg Page) bool {
	if err := pg.Open(ctx, c.profile.VerifyURL); err != nil {
		return false
	}
	return pg.WaitForElement(ctx, c.profile.Selectors.LoggedInProbe, c.profile.VerifyTimeout) == nil
}

// parseThreeShapeRow extracts one Material case row.
func parseThreeShapeRow(html string) (RawRow, error) {
	doc, err := fragment(html)
	if err != nil {
		return RawRow{}, err
	}
	patient := doc.Find("mat-cell.cdk-column-PatientName div.mat-cell-inner--ellipsis").First().Text()
	if patient == "" {
		patient = doc.Find("mat-cell.cdk-column-PatientName").First().Text()
	}
	return RawRow{
		ExternalID: strings.TrimSpace(doc.Find("mat-cell.cdk-column-Id").First().Text()),
		PatientRef: strings.TrimSpace(patient),
	}, nil
}
