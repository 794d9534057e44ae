package inspector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// The static matcher supports a practical selector subset:
//
//   - tag: "span", "div"
//   - .class, #id, and tag-qualified forms: "div.price", "span#total"
//   - [attr] and [attr=val]: "div[data-price]", "td[role=cell]"
//   - chains of the above with the descendant combinator: "#cart .price"
//
// Anything richer (child combinators, pseudo-classes) needs live mode,
// where the real querySelector does the work.

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

// parseSelectorChain splits a selector on whitespace into descendant
// steps. Returns nil for an empty selector.
func parseSelectorChain(selector string) []simpleSelector {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	chain := make([]simpleSelector, len(parts))
	for i, p := range parts {
		chain[i] = parseSimpleSelector(p)
	}
	return chain
}

// parseSimpleSelector parses one step: "tag.class", "#id", "tag[attr=val]".
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			s.attrKey = attrPart[:eqIdx]
			s.attrVal = strings.Trim(attrPart[eqIdx+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}

	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}

	s.tag = sel
	return s
}

// querySelector returns the first element matching the selector in
// document order, or nil. A node matches a chain when it matches the last
// step and its ancestor path satisfies the earlier steps in order.
func querySelector(doc *html.Node, selector string) *html.Node {
	chain := parseSelectorChain(selector)
	if chain == nil {
		return nil
	}

	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if matchesSelector(n, chain[len(chain)-1]) && ancestorsSatisfy(n, chain[:len(chain)-1]) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

// ancestorsSatisfy checks that the chain's steps match some ancestors of n
// in order, outermost step highest. The descendant combinator allows gaps.
func ancestorsSatisfy(n *html.Node, chain []simpleSelector) bool {
	i := len(chain) - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if matchesSelector(p, chain[i]) {
			i--
		}
	}
	return i < 0
}

// matchesSelector checks one node against one parsed step.
func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && getAttr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(getAttr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		if !hasAttr(n, s.attrKey) {
			return false
		}
		if s.attrVal != "" && getAttr(n, s.attrKey) != s.attrVal {
			return false
		}
	}
	return true
}

// selectorFor computes a stable selector for a located element, suitable
// for re-finding it later in a real browser. The nearest ancestor id
// shortens the path, since ids survive page restructuring better than
// positional steps do.
func selectorFor(n *html.Node) string {
	var parts []string
	for node := n; node != nil && node.Type == html.ElementNode; node = node.Parent {
		if id := getAttr(node, "id"); id != "" {
			parts = append([]string{"#" + id}, parts...)
			return strings.Join(parts, " > ")
		}
		step := node.Data
		if idx, total := siblingIndex(node); total > 1 {
			step = fmt.Sprintf("%s:nth-of-type(%d)", step, idx)
		}
		parts = append([]string{step}, parts...)
	}
	return strings.Join(parts, " > ")
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}
