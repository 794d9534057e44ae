package greffe

import "unicode/utf8"

// maxAnchorText caps the text tier at construction time to keep records
// small. Not configurable.
const maxAnchorText = 500

// BuildAnchor assembles an Anchor from locator facts computed by a document
// inspector. The primary tier is chosen here, in strict priority order:
// css when the selector is non-empty, else xpath when non-empty, else
// text-content, which is always available because text defaults to the
// empty string. Callers never supply the tier themselves.
//
// Text content is truncated to its first 500 characters. Pure transform:
// no network, no storage.
func BuildAnchor(cssSelector, xpath, textContent string, box *BoundingBox) Anchor {
	if utf8.RuneCountInString(textContent) > maxAnchorText {
		textContent = string([]rune(textContent)[:maxAnchorText])
	}
	tier := TierText
	switch {
	case cssSelector != "":
		tier = TierCSS
	case xpath != "":
		tier = TierXPath
	}
	return Anchor{
		CSSSelector: cssSelector,
		XPath:       xpath,
		TextContent: textContent,
		PrimaryTier: tier,
		BoundingBox: box,
	}
}
