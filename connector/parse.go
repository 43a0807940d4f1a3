package connector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// fragment parses a detached HTML fragment (section, list item, custom
// element) into a queryable document.
func fragment(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// rowFragment parses a detached <tr> fragment. A bare table row is
// foster-parented (dropped) by the HTML5 parser, so it has to be wrapped
// in a table before parsing.
func rowFragment(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader("<table><tbody>" + html + "</tbody></table>"))
}
