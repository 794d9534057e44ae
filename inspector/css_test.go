package inspector

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func parseDoc(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestQuerySelector_ByID(t *testing.T) {
	// WHAT: "#id" finds the element carrying that id.
	// WHY: Ids are the primary tier of every anchor.
	doc := parseDoc(t, `<div id="total">42</div><div id="other">7</div>`)
	n := querySelector(doc, "#total")
	if n == nil {
		t.Fatal("no match")
	}
	if got := collectText(n); got != "42" {
		t.Errorf("matched wrong node: text %q", got)
	}
}

func TestQuerySelector_TagClassCompound(t *testing.T) {
	// WHAT: "span.price" requires both the tag and the class.
	// WHY: A compound step must not match a div with the same class.
	doc := parseDoc(t, `<div class="price">no</div><span class="price big">yes</span>`)
	n := querySelector(doc, "span.price")
	if n == nil {
		t.Fatal("no match")
	}
	if got := collectText(n); got != "yes" {
		t.Errorf("matched wrong node: text %q", got)
	}
}

func TestQuerySelector_AttributeValue(t *testing.T) {
	// WHAT: "[attr=val]" matches on the exact attribute value.
	// WHY: Data attributes are how many pages mark machine-readable fields.
	doc := parseDoc(t, `<table><tr><td data-col="qty">3</td><td data-col="price">9.50</td></tr></table>`)
	n := querySelector(doc, `td[data-col=price]`)
	if n == nil {
		t.Fatal("no match")
	}
	if got := collectText(n); got != "9.50" {
		t.Errorf("matched wrong node: text %q", got)
	}
}

func TestQuerySelector_DescendantChain(t *testing.T) {
	// WHAT: ".cart .price" only matches a price inside the cart.
	// WHY: The ancestor constraint is what keeps a loose class selective.
	doc := parseDoc(t, `
		<div class="teaser"><span class="price">decoy</span></div>
		<div class="cart"><ul><li><span class="price">real</span></li></ul></div>`)
	n := querySelector(doc, ".cart .price")
	if n == nil {
		t.Fatal("no match")
	}
	if got := collectText(n); got != "real" {
		t.Errorf("matched wrong node: text %q", got)
	}
}

func TestQuerySelector_FirstInDocumentOrder(t *testing.T) {
	// WHAT: With several matches the first in document order wins.
	// WHY: Deterministic pick; callers narrow with a tighter selector.
	doc := parseDoc(t, `<p class="x">first</p><p class="x">second</p>`)
	n := querySelector(doc, ".x")
	if got := collectText(n); got != "first" {
		t.Errorf("got %q, want first match", got)
	}
}

func TestQuerySelector_NoMatch(t *testing.T) {
	// WHAT: A selector matching nothing returns nil, not a panic.
	// WHY: Callers turn nil into ErrElementNotFound.
	doc := parseDoc(t, `<div>content</div>`)
	if n := querySelector(doc, "#missing"); n != nil {
		t.Errorf("expected nil, got %v", n.Data)
	}
	if n := querySelector(doc, "   "); n != nil {
		t.Errorf("blank selector: expected nil, got %v", n.Data)
	}
}

func TestSelectorFor_AnchorsAtNearestID(t *testing.T) {
	// WHAT: The computed selector starts at the closest ancestor id.
	// WHY: Id-rooted paths survive layout churn above the id.
	doc := parseDoc(t, `<div id="cart"><ul><li>a</li><li>b</li></ul></div>`)
	n := querySelector(doc, "li")
	if got := selectorFor(n); got != "#cart > ul > li:nth-of-type(1)" {
		t.Errorf("got %q", got)
	}
}

func TestSelectorFor_NthOfTypeOnlyWithSiblings(t *testing.T) {
	// WHAT: Positional steps appear only where same-tag siblings exist.
	// WHY: Unneeded :nth-of-type makes selectors brittle for no gain.
	doc := parseDoc(t, `<p>one</p><p class="x">two</p>`)
	n := querySelector(doc, ".x")
	if got := selectorFor(n); got != "html > body > p:nth-of-type(2)" {
		t.Errorf("got %q", got)
	}
}
