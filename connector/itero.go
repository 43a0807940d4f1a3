package connector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/onescan/dentalsync/order"
)

// iteroHeaderLabel is the patient column title the lab home table repeats
// as its first row.
const iteroHeaderLabel = "Nom du patient"

// Itero drives bff.cloud.myitero.com. The lab home table exposes an order
// id and patient name; no dates, no practice.
type Itero struct {
	base
}

// NewItero builds the iTero connector.
func NewItero(creds CredentialSource, log *slog.Logger) *Itero {
	return &Itero{base: newBase(Profile{
		Platform:  order.Itero,
		BaseURL:   "https://bff.cloud.myitero.com",
		LoginURL:  "https://bff.cloud.myitero.com/login-legacy",
		OrdersURL: "https://bff.cloud.myitero.com/labs/home",
		VerifyURL: "https://bff.cloud.myitero.com/labs/home",

		Selectors: Selectors{
			Username:      "input[formcontrolname='username']",
			Password:      "input[formcontrolname='password']",
			LoginButton:   "input#btn-login",
			Row:           "tbody tr",
			LoggedInProbe: ".image-link",
		},
	}, creds, log)}
}

func (c *Itero) Login(ctx context.Context, pg Page) error {
	creds, err := c.creds.Lookup(order.Itero)
	if err != nil {
		return &AuthError{Platform: order.Itero, Reason: "credentials unavailable", Err: err}
	}

	if err := pg.Open(ctx, c.profile.LoginURL); err != nil {
		return &AuthError{Platform: order.Itero, Reason: "portal unreachable", Err: err}
	}

	sel := c.profile.Selectors
	if err := pg.Type(ctx, sel.Username, creds.Username); err != nil {
		return &AuthError{Platform: order.Itero, Reason: "login form changed", Err: err}
	}
	if err := pg.Type(ctx, sel.Password, creds.Password); err != nil {
		return &AuthError{Platform: order.Itero, Reason: "login form changed", Err: err}
	}
	creds = Credentials{}
	if err := pg.Click(ctx, sel.LoginButton); err != nil {
		return &AuthError{Platform: order.Itero, Reason: "login form changed", Err: err}
	}

	if err := pg.WaitForURL(ctx, "/labs/home", c.profile.LoginTimeout); err != nil {
		return &AuthError{Platform: order.Itero, Reason: "credentials rejected", Err: err}
	}
	return nil
}

func (c *Itero) FetchOrders(ctx context.Context, pg Page) ([]RawRow, error) {
	if err := pg.Open(ctx, c.profile.OrdersURL); err != nil {
		return nil, &FetchError{Platform: order.Itero, Err: err}
	}
	sel := c.profile.Selectors
	if err := pg.WaitForElement(ctx, sel.Row, c.profile.ResultsTimeout); err != nil {
		return nil, &FetchError{Platform: order.Itero, Err: err}
	}
	htmls, err := pg.ElementsHTML(ctx, sel.Row, c.profile.ResultsTimeout)
	if err != nil {
		return nil, &FetchError{Platform: order.Itero, Err: err}
	}

	rows := make([]RawRow, 0, len(htmls))
	for i, h := range htmls {
		row, err := parseIteroRow(h)
		if err != nil {
			c.log.Warn("row extraction failed", "row", i, "error", err)
			rows = append(rows, RawRow{})
			continue
		}
		// The table repeats its column header as a row.
		if strings.EqualFold(row.PatientRef, iteroHeaderLabel) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Itero) Logout(ctx context.Context, pg Page) {}

func (c *Itero) Verify(ctx context.Context, pg Page) bool {
	if err := pg.Open(ctx, c.profile.VerifyURL); err != nil {
		return false
	}
	return pg.WaitForElement(ctx, c.profile.Selectors.LoggedInProbe, c.profile.VerifyTimeout) == nil
}

// parseIteroRow extracts one lab home table row.
func parseIteroRow(html string) (RawRow, error) {
	doc, err := rowFragment(html)
	if err != nil {
		return RawRow{}, err
	}
	return RawRow{
		ExternalID: strings.TrimSpace(doc.Find(".col-order-id").First().Text()),
		PatientRef: strings.TrimSpace(doc.Find(".col-patient-name").First().Text()),
	}, nil
}
