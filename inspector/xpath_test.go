package inspector

import "testing"

func TestXPathFor_UniquePathHasNoPredicates(t *testing.T) {
	// WHAT: Elements without same-tag siblings get bare steps.
	// WHY: /html/body/div/span must stay readable when positions are
	// unambiguous.
	doc := parseDoc(t, `<div><span>v</span></div>`)
	n := querySelector(doc, "span")
	if got := xpathFor(n); got != "/html/body/div/span" {
		t.Errorf("got %q", got)
	}
}

func TestXPathFor_IndexesSameTagSiblings(t *testing.T) {
	// WHAT: The second of two divs gets div[2]; the unique span inside
	// stays bare.
	// WHY: Positional predicates are what make the path land on one node.
	doc := parseDoc(t, `<div>first</div><div><span class="x">v</span></div>`)
	n := querySelector(doc, ".x")
	if got := xpathFor(n); got != "/html/body/div[2]/span" {
		t.Errorf("got %q", got)
	}
}

func TestXPathFor_FirstSiblingStillIndexed(t *testing.T) {
	// WHAT: The first of several same-tag siblings carries [1].
	// WHY: An unindexed step would match every sibling, not the first.
	doc := parseDoc(t, `<p class="x">one</p><p>two</p>`)
	n := querySelector(doc, ".x")
	if got := xpathFor(n); got != "/html/body/p[1]" {
		t.Errorf("got %q", got)
	}
}

func TestSiblingIndex_CountsOnlyMatchingTags(t *testing.T) {
	// WHAT: Index and total ignore siblings of other tags.
	// WHY: div[2] means second div, no matter how many spans sit between.
	doc := parseDoc(t, `<div>a</div><span>b</span><div class="x">c</div>`)
	n := querySelector(doc, ".x")
	idx, total := siblingIndex(n)
	if idx != 2 || total != 2 {
		t.Errorf("got idx=%d total=%d, want 2, 2", idx, total)
	}
}
