package connector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/onescan/dentalsync/order"
)

// Dexis drives dentalconnect.dexis.com. Cases are grouped into one section
// per reception day; the case reference ("NGO-6991") carries the external
// id after the dash. The portal exposes no due date.
type Dexis struct {
	base
}

// NewDexis builds the Dexis IsConnect connector.
func NewDexis(creds CredentialSource, log *slog.Logger) *Dexis {
	return &Dexis{base: newBase(Profile{
		Platform:   order.Dexis,
		BaseURL:    "https://dentalconnect.dexis.com",
		LoginURL:   "https://dentalconnect.dexis.com/",
		OrdersURL:  "https://dentalconnect.dexis.com/main.php",
		LogoutURL:  "https://dentalconnect.dexis.com/logout.php",
		VerifyURL:  "https://dentalconnect.dexis.com/main.php",
		DateLayout: "02/01/2006",

		HasPractice: true,

		Selectors: Selectors{
			Username:    "input#email",
			Password:    "input#password",
			LoginButton: "button#next",
			Row:         "section.masterCaseListOfDay",
		},
	}, creds, log)}
}

func (c *Dexis) Login(ctx context.Context, pg Page) error {
	creds, err := c.creds.Lookup(order.Dexis)
	if err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "credentials unavailable", Err: err}
	}

	if err := pg.Open(ctx, c.profile.LoginURL); err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "portal unreachable", Err: err}
	}

	// Multi-step form: login link, email, continue, password, submit.
	sel := c.profile.Selectors
	if err := pg.Click(ctx, "a#login"); err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "login form changed", Err: err}
	}
	if err := pg.Type(ctx, sel.Username, creds.Username); err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "login form changed", Err: err}
	}
	if err := pg.Click(ctx, "button#continue"); err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "login form changed", Err: err}
	}
	if err := pg.Type(ctx, sel.Password, creds.Password); err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "login form changed", Err: err}
	}
	creds = Credentials{}
	if err := pg.Click(ctx, sel.LoginButton); err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "login form changed", Err: err}
	}

	if err := pg.WaitForURL(ctx, "main.php", c.profile.LoginTimeout); err != nil {
		return &AuthError{Platform: order.Dexis, Reason: "credentials rejected", Err: err}
	}
	return nil
}

func (c *Dexis) FetchOrders(ctx context.Context, pg Page) ([]RawRow, error) {
	if err := pg.Open(ctx, c.profile.OrdersURL); err != nil {
		return nil, &FetchError{Platform: order.Dexis, Err: err}
	}
	sel := c.profile.Selectors
	if err := pg.WaitForElement(ctx, sel.Row, c.profile.ResultsTimeout); err != nil {
		return nil, &FetchError{Platform: order.Dexis, Err: err}
	}
	sections, err := pg.ElementsHTML(ctx, sel.Row, c.profile.ResultsTimeout)
	if err != nil {
		return nil, &FetchError{Platform: order.Dexis, Err: err}
	}

	var rows []RawRow
	for i, h := range sections {
		parsed, err := parseDexisSection(h)
		if err != nil {
			c.log.Warn("day section extraction failed", "section", i, "error", err)
			continue
		}
		rows = append(rows, parsed...)
	}
	c.log.Debug("day sections extracted", "sections", len(sections), "cases", len(rows))
	return rows, nil
}

func (c *Dexis) Logout(ctx context.Context, pg Page) {
	if err := pg.Open(ctx, c.profile.LogoutURL); err != nil {
		c.log.Warn("logout navigation failed", "error", err)
	}
}

func (c *Dexis) Verify(ctx context.Context, pg Page) bool {
	if err := pg.Open(ctx, c.profile.VerifyURL); err != nil {
		return false
	}
	return pg.WaitForURL(ctx, "main.php", c.profile.VerifyTimeout) == nil
}

// parseDexisSection extracts every case of one reception-day section. The
// section header carries the day's date; each case list item carries the
// patient, the case reference and the sending practice. A case reference
// without a dash yields an empty external id and is rejected downstream.
func parseDexisSection(html string) ([]RawRow, error) {
	doc, err := fragment(html)
	if err != nil {
		return nil, err
	}

	// Missing or malformed header date stays empty: a missing reception
	// date is recorded as missing, never defaulted to today.
	day, _ := doc.Find("header time").First().Attr("datetime")
	day = strings.TrimSpace(day)

	var rows []RawRow
	doc.Find("li[id^='caseMaster_']").Each(func(_ int, s *goquery.Selection) {
		caseRef := strings.TrimSpace(s.Find("h2[id^='caseId_']").First().Text())
		externalID := ""
		if _, after, found := strings.Cut(caseRef, "-"); found {
			externalID = strings.TrimSpace(after)
		}
		rows = append(rows, RawRow{
			ExternalID: externalID,
			PatientRef: strings.TrimSpace(s.Find("mark[id^='casePatient_']").First().Text()),
			Practice:   strings.TrimSpace(s.Find("mark[id^='casePartner_']").First().Text()),
			Reception:  day,
		})
	})
	return rows, nil
}
