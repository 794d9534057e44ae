package inspector

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/constat/garde"
	"github.com/hazyhaar/constat/greffe"
	"github.com/hazyhaar/constat/inspector/internal/browser"
)

// locatorScript runs inside the page and computes every locator fact in
// one round trip: the sibling-indexed XPath, a stable CSS path anchored at
// the nearest ancestor id, normalised text, outer HTML, and the rendered
// geometry. Returns null when the selector matches nothing.
const locatorScript = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return null;

	const sameTag = (node) => {
		let idx = 1, total = 1;
		for (let s = node.previousSibling; s; s = s.previousSibling) {
			if (s.nodeType === 1 && s.nodeName === node.nodeName) { idx++; total++; }
		}
		for (let s = node.nextSibling; s; s = s.nextSibling) {
			if (s.nodeType === 1 && s.nodeName === node.nodeName) total++;
		}
		return { idx, total };
	};

	const xparts = [];
	for (let node = el; node && node.nodeType === 1; node = node.parentNode) {
		const { idx, total } = sameTag(node);
		const tag = node.nodeName.toLowerCase();
		xparts.unshift(total > 1 ? tag + "[" + idx + "]" : tag);
	}

	const cparts = [];
	for (let node = el; node && node.nodeType === 1; node = node.parentNode) {
		if (node.id) { cparts.unshift("#" + node.id); break; }
		const { idx, total } = sameTag(node);
		const tag = node.nodeName.toLowerCase();
		cparts.unshift(total > 1 ? tag + ":nth-of-type(" + idx + ")" : tag);
	}

	const rect = el.getBoundingClientRect();
	return {
		css_selector: cparts.join(" > "),
		xpath: "/" + xparts.join("/"),
		text_content: (el.textContent || "").replace(/\s+/g, " ").trim(),
		html: el.outerHTML,
		bounding_box: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
	};
}`

// liveInspector drives a real browser tab per request. Tabs are opened on
// the shared managed Chrome and closed before returning.
type liveInspector struct {
	mgr          *browser.Manager
	nav          time.Duration
	allowPrivate bool
	logger       *slog.Logger
}

func (li *liveInspector) inspect(ctx context.Context, req InspectRequest) (*Observation, error) {
	if !li.allowPrivate {
		if err := garde.ValidateURL(req.URL); err != nil {
			return nil, err
		}
	}

	tab, err := li.mgr.OpenTab(ctx, req.URL, li.nav)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			li.logger.Warn("tab close failed", "url", req.URL, "error", cerr)
		}
	}()

	pg := tab.Page.Context(ctx)

	res, err := pg.Eval(locatorScript, req.Selector)
	if err != nil {
		return nil, fmt.Errorf("inspector: locate %q on %s: %w", req.Selector, req.URL, err)
	}
	v := res.Value
	if v.Nil() {
		return nil, fmt.Errorf("%w: %q on %s", ErrElementNotFound, req.Selector, req.URL)
	}

	obs := &Observation{
		CSSSelector: v.Get("css_selector").Str(),
		XPath:       v.Get("xpath").Str(),
		TextContent: v.Get("text_content").Str(),
		HTML:        v.Get("html").Str(),
		BoundingBox: &greffe.BoundingBox{
			X:      v.Get("bounding_box.x").Num(),
			Y:      v.Get("bounding_box.y").Num(),
			Width:  v.Get("bounding_box.width").Num(),
			Height: v.Get("bounding_box.height").Num(),
		},
	}

	if info, err := pg.Info(); err == nil {
		obs.Title = info.Title
	} else {
		li.logger.Warn("page info failed", "url", req.URL, "error", err)
	}

	img, err := li.screenshot(pg, req)
	if err != nil {
		return nil, fmt.Errorf("inspector: screenshot %s: %w", req.URL, err)
	}
	obs.Base64ImageData = base64.StdEncoding.EncodeToString(img)
	obs.Format = req.Format

	return obs, nil
}

func (li *liveInspector) screenshot(pg *rod.Page, req InspectRequest) ([]byte, error) {
	format := proto.PageCaptureScreenshotFormatPng
	if req.Format == greffe.FormatJPEG {
		format = proto.PageCaptureScreenshotFormatJpeg
	}

	if req.FullPage {
		capture := &proto.PageCaptureScreenshot{Format: format}
		if req.Format == greffe.FormatJPEG {
			q := req.Quality
			capture.Quality = &q
		}
		return pg.Screenshot(true, capture)
	}

	el, err := pg.Element(req.Selector)
	if err != nil {
		return nil, err
	}
	return el.Screenshot(format, req.Quality)
}
