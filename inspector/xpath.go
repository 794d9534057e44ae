package inspector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// xpathFor builds a rooted XPath for an element. Each step carries a
// positional predicate only when the element has same-tag siblings, so
// /html/body/div[2]/span names the second div under body. html, body, and
// head never get a predicate because a document has exactly one of each.
func xpathFor(n *html.Node) string {
	var parts []string
	for node := n; node != nil && node.Type == html.ElementNode; node = node.Parent {
		step := node.Data
		if idx, total := siblingIndex(node); total > 1 {
			step = fmt.Sprintf("%s[%d]", step, idx)
		}
		parts = append([]string{step}, parts...)
	}
	if len(parts) == 0 {
		return ""
	}
	return "/" + strings.Join(parts, "/")
}

// siblingIndex reports the element's 1-based position among same-tag
// element siblings and how many there are in total.
func siblingIndex(n *html.Node) (idx, total int) {
	idx = 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			idx++
		}
	}
	total = idx
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			total++
		}
	}
	return idx, total
}
