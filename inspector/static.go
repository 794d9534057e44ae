package inspector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/constat/garde"
)

// staticInspector fetches a page once over HTTP and inspects the parsed
// tree. No JavaScript runs, so pages that assemble content client-side
// need live mode instead.
type staticInspector struct {
	client       *http.Client
	ua           string
	maxBody      int64
	allowPrivate bool
	logger       *slog.Logger
}

func newStaticInspector(cfg Config, logger *slog.Logger) *staticInspector {
	return &staticInspector{
		client:       &http.Client{Timeout: cfg.NavTimeout},
		ua:           cfg.UserAgent,
		maxBody:      cfg.MaxBodyBytes,
		allowPrivate: cfg.AllowPrivate,
		logger:       logger,
	}
}

func (si *staticInspector) inspect(ctx context.Context, req InspectRequest) (*Observation, error) {
	doc, title, err := si.fetch(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	node := querySelector(doc, req.Selector)
	if node == nil {
		return nil, fmt.Errorf("%w: %q on %s", ErrElementNotFound, req.Selector, req.URL)
	}

	return &Observation{
		CSSSelector: selectorFor(node),
		XPath:       xpathFor(node),
		TextContent: collectText(node),
		HTML:        renderNode(node),
		Title:       title,
	}, nil
}

// fetch downloads and parses the page. Unless private targets are allowed
// the URL is validated first, so a capture request cannot be used to probe
// the network the service runs in.
func (si *staticInspector) fetch(ctx context.Context, pageURL string) (*html.Node, string, error) {
	if !si.allowPrivate {
		if err := garde.ValidateURL(pageURL); err != nil {
			return nil, "", err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("inspector: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", si.ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := si.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("inspector: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("inspector: fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := garde.LimitedReadAll(resp.Body, si.maxBody)
	if err != nil {
		return nil, "", fmt.Errorf("inspector: read %s: %w", pageURL, err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("inspector: parse %s: %w", pageURL, err)
	}
	return doc, findTitle(doc), nil
}

// findTitle extracts the page <title> text.
func findTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// collectText extracts the visible text of a subtree, space-joined, with
// script, style, and noscript content skipped.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// renderNode serialises a subtree back to markup.
func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}
