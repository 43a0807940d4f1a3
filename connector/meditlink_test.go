package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/onescan/dentalsync/order"
)

const meditRow = `<tr class="main-body-tr">
  <td><span>icon</span></td>
  <td><span>case</span></td>
  <td><span> Dupont Jean </span></td>
  <td><span>2025-07-11 09:30</span></td>
  <td><span>2025-07-18 12:00</span></td>
  <td><span>Cabinet Lumière</span></td>
  <td><span>184233</span></td>
</tr>`

func TestParseMeditLinkRow(t *testing.T) {
	row, err := parseMeditLinkRow(meditRow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if row.PatientRef != "Dupont Jean" {
		t.Errorf("patient: got %q", row.PatientRef)
	}
	if row.ExternalID != "184233" {
		t.Errorf("external id: got %q", row.ExternalID)
	}
	if row.Reception != "2025-07-11 09:30" || row.Due != "2025-07-18 12:00" {
		t.Errorf("dates: got %q / %q", row.Reception, row.Due)
	}
	if row.Practice != "Cabinet Lumière" {
		t.Errorf("practice: got %q", row.Practice)
	}
}

func TestParseMeditLinkRowMissingCells(t *testing.T) {
	// WHAT: A truncated row yields empty fields, not an error.
	// WHY: Admission downstream rejects it; extraction must not abort.
	row, err := parseMeditLinkRow(`<tr class="main-body-tr"><td><span>x</span></td></tr>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if row.ExternalID != "" || row.PatientRef != "" {
		t.Errorf("expected empty fields, got %+v", row)
	}
}

func TestMeditLinkLogin(t *testing.T) {
	c := NewMeditLink(fakeCreds{user: "lab@example.com", pass: "s3cret"}, nil)
	pg := newFakePage()
	pg.urlAfterClick["button#btn-login"] = "https://www.meditlink.com/inbox"
	pg.attrs["button#btn-login\x00class"] = "btn primary"
	pg.missing["div.icon-wrapper.md-icon.xxs[rounded='false']"] = true

	if err := c.Login(context.Background(), pg); err != nil {
		t.Fatalf("login: %v", err)
	}
	if pg.typed["input#input-login-id.text-box-input"] != "lab@example.com" {
		t.Errorf("username not typed: %v", pg.typed)
	}
	if pg.typed["input#input-login-password.text-box-input"] != "s3cret" {
		t.Errorf("password not typed")
	}
}

func TestMeditLinkLoginWaitsForAnimation(t *testing.T) {
	// WHAT: Login fails when the button never leaves its fade-out state.
	// WHY: Clicking mid-animation is swallowed by the portal; better to
	// surface a form-changed auth error than to "succeed" silently.
	c := NewMeditLink(fakeCreds{user: "u", pass: "p"}, nil)
	pg := newFakePage()
	pg.attrs["button#btn-login\x00class"] = "btn fade-out"

	err := c.Login(context.Background(), pg)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if ae.Reason != "login form changed" {
		t.Errorf("reason: got %q", ae.Reason)
	}
}

func TestMeditLinkLoginRejected(t *testing.T) {
	c := NewMeditLink(fakeCreds{user: "u", pass: "p"}, nil)
	pg := newFakePage()
	pg.attrs["button#btn-login\x00class"] = "btn"
	// No redirect to inbox after the click.

	err := c.Login(context.Background(), pg)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if ae.Platform != order.MeditLink || ae.Reason != "credentials rejected" {
		t.Errorf("got %v / %q", ae.Platform, ae.Reason)
	}
}

func TestMeditLinkFetchOrders(t *testing.T) {
	c := NewMeditLink(fakeCreds{}, nil)
	pg := newFakePage()
	pg.htmls["tr.main-body-tr"] = []string{
		meditRow,
		`<tr class="main-body-tr"><td/><td/><td><span>Martin</span></td><td/><td/><td/><td><span>184240</span></td></tr>`,
	}

	rows, err := c.FetchOrders(context.Background(), pg)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d", len(rows))
	}
	if rows[1].ExternalID != "184240" || rows[1].PatientRef != "Martin" {
		t.Errorf("row 1: %+v", rows[1])
	}
}

func TestMeditLinkFetchComment(t *testing.T) {
	c := NewMeditLink(fakeCreds{}, nil)
	pg := newFakePage()
	pg.attrs[meditCommentSelector+"\x00value"] = " Couronne céramique, teinte A2 "

	got, err := c.FetchComment(context.Background(), pg, "184233")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if got != "Couronne céramique, teinte A2" {
		t.Errorf("comment: got %q", got)
	}
	if pg.opened[0] != "https://www.meditlink.com/inbox/detail/184233" {
		t.Errorf("detail url: %q", pg.opened[0])
	}
}
