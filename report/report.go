// Package report renders evidence chains into markdown dossiers a human
// can read and a reviewer can archive next to the JSON export. Extracted
// content passes through an HTML sanitizer before markdown conversion, so
// a hostile page cannot smuggle markup into the dossier.
package report

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/constat/greffe"
)

// Renderer converts chains and HTML fragments to markdown. Safe for
// concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// NewRenderer builds a Renderer with the UGC sanitation policy and the
// commonmark + table conversion plugins.
func NewRenderer() *Renderer {
	return &Renderer{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Fragment sanitises one HTML fragment and converts it to markdown.
// sourceURL resolves relative links in the fragment.
func (r *Renderer) Fragment(fragment, sourceURL string) (string, error) {
	clean := r.policy.Sanitize(fragment)
	md, err := r.conv.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil {
		return "", fmt.Errorf("report: convert fragment: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// Markdown renders the dossier: chain summary, verification verdict, the
// per-record table, and the full hash chain. The verification result is
// passed in rather than recomputed, so the dossier states what the caller
// actually verified.
func (r *Renderer) Markdown(ch *greffe.Chain, result *greffe.VerificationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Evidence dossier: chain %s\n\n", ch.ChainID)
	fmt.Fprintf(&b, "- Created: %s\n", ch.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "- Records: %d\n", len(ch.Records))
	fmt.Fprintf(&b, "- Genesis hash: `%s`\n", ch.GenesisHash)
	fmt.Fprintf(&b, "- Head hash: `%s`\n\n", ch.Head())

	b.WriteString("## Verification\n\n")
	if result.Valid {
		fmt.Fprintf(&b, "**%s**\n\n", result)
	} else {
		fmt.Fprintf(&b, "**BROKEN**: %s. Records from index %d onward are not trustworthy.\n\n",
			result, result.BrokenAt)
	}

	b.WriteString("## Records\n\n")
	if len(ch.Records) == 0 {
		b.WriteString("The chain is empty.\n")
		return b.String()
	}

	b.WriteString("| # | Extracted at | Source | Value | Anchor | Screenshot |\n")
	b.WriteString("|--:|---|---|---|---|---|\n")
	for i, rec := range ch.Records {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			i,
			rec.ExtractedAt.UTC().Format("2006-01-02 15:04:05"),
			cell(rec.SourceURL, 80),
			cell(r.valueText(rec), 120),
			cell(primaryAnchor(rec.Anchors), 80),
			cell(screenshotCell(rec.Screenshot), 40),
		)
	}

	b.WriteString("\n## Hash chain\n\n")
	b.WriteString("```\n")
	for i, rec := range ch.Records {
		fmt.Fprintf(&b, "record %d\n  previous %s\n  hash     %s\n", i, rec.PreviousHash, rec.RecordHash)
	}
	b.WriteString("```\n")

	return b.String()
}

// valueText renders a record's extracted value for the table. String
// values carrying markup are sanitised and converted; everything else is
// the value's canonical text. Conversion failures fall back to the raw
// text rather than losing the value.
func (r *Renderer) valueText(rec greffe.Record) string {
	text := rec.ExtractedValue.Text()
	if !strings.Contains(text, "<") || !strings.Contains(text, ">") {
		return text
	}
	md, err := r.Fragment(text, rec.SourceURL)
	if err != nil || md == "" {
		return text
	}
	return md
}

// primaryAnchor shows the anchor tier a verifier should try first.
func primaryAnchor(anchors []greffe.Anchor) string {
	for _, a := range anchors {
		locator := ""
		switch a.PrimaryTier {
		case greffe.TierCSS:
			locator = a.CSSSelector
		case greffe.TierXPath:
			locator = a.XPath
		case greffe.TierText:
			locator = a.TextContent
		}
		return fmt.Sprintf("%s `%s`", a.PrimaryTier, locator)
	}
	return "none"
}

func screenshotCell(s *greffe.ScreenshotMeta) string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("%s %dx%d `%s`", s.Format, s.Width, s.Height, shortHash(s.Hash))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// cell flattens a value into one table cell: pipes escaped, newlines
// collapsed, overlong text truncated with an ellipsis marker.
func cell(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen]) + "..."
	}
	return s
}
