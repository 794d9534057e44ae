// Package inspector locates an element in a web page and reports the
// locator and image material evidence records are built from: a stable CSS
// selector, a sibling-indexed XPath, the element's text, its geometry, and
// optionally a screenshot.
//
// Two modes exist. Live mode drives headless Chrome through Rod: it
// navigates, finds the element in the rendered DOM, and screenshots it.
// Static mode fetches the page over plain HTTP and works on the parsed
// HTML tree; it computes the same locators but produces no geometry and no
// screenshot, because nothing is rendered. Static is the default since it
// needs no Chrome binary.
//
// Handler adapts the service to the connectivity router's payload
// contract, so page capture can run in-process or be routed to a dedicated
// browser host without callers changing.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/constat/connectivity"
	"github.com/hazyhaar/constat/greffe"
	"github.com/hazyhaar/constat/inspector/internal/browser"
)

// ErrElementNotFound reports that the page loaded but the selector matched
// nothing in it.
var ErrElementNotFound = errors.New("inspector: no element matched the selector")

// InspectRequest asks for one element on one page.
type InspectRequest struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`

	// FullPage screenshots the whole page instead of cropping to the
	// element. Live mode only.
	FullPage bool `json:"full_page,omitempty"`

	// Format is "png" (default) or "jpeg".
	Format string `json:"format,omitempty"`

	// Quality applies to jpeg only, 1 to 100. Default 85.
	Quality int `json:"quality,omitempty"`
}

// Observation is everything the inspector learned about the element. The
// screenshot fields are empty in static mode.
type Observation struct {
	CSSSelector     string              `json:"css_selector"`
	XPath           string              `json:"xpath"`
	TextContent     string              `json:"text_content"`
	BoundingBox     *greffe.BoundingBox `json:"bounding_box,omitempty"`
	HTML            string              `json:"html,omitempty"`
	Title           string              `json:"title,omitempty"`
	Base64ImageData string              `json:"base64_image_data,omitempty"`
	Format          string              `json:"format,omitempty"`
}

const defaultJPEGQuality = 85

// Service inspects pages in the mode fixed by its Config.
type Service struct {
	cfg    Config
	logger *slog.Logger
	static *staticInspector
	live   *liveInspector
	mgr    *browser.Manager
}

// New builds a Service. In live mode the browser is not launched yet; call
// Start before the first Inspect.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{cfg: cfg, logger: logger}
	switch cfg.Mode {
	case ModeStatic:
		s.static = newStaticInspector(cfg, logger)
	case ModeLive:
		s.mgr = browser.NewManager(browser.Config{
			RemoteURL:       cfg.Browser.RemoteURL,
			MemoryLimit:     cfg.Browser.MemoryLimit,
			RecycleInterval: cfg.Browser.RecycleInterval,
			Stealth:         cfg.Browser.Stealth != "off",
			Logger:          logger,
		})
		s.live = &liveInspector{
			mgr:          s.mgr,
			nav:          cfg.NavTimeout,
			allowPrivate: cfg.AllowPrivate,
			logger:       logger,
		}
	default:
		return nil, fmt.Errorf("inspector: unknown mode %q", cfg.Mode)
	}
	return s, nil
}

// Start launches Chrome in live mode. A no-op in static mode. The context
// bounds the browser's monitor goroutine, not just the launch.
func (s *Service) Start(ctx context.Context) error {
	if s.mgr == nil {
		return nil
	}
	_, err := s.mgr.Start(ctx)
	return err
}

// Close shuts the browser down. Safe to call in static mode.
func (s *Service) Close() error {
	if s.mgr == nil {
		return nil
	}
	return s.mgr.Close()
}

// Inspect locates the requested element and returns the observation.
// Returns ErrElementNotFound when the page loads but the selector matches
// nothing.
func (s *Service) Inspect(ctx context.Context, req InspectRequest) (*Observation, error) {
	if req.URL == "" {
		return nil, errors.New("inspector: url is required")
	}
	if req.Selector == "" {
		return nil, errors.New("inspector: selector is required")
	}
	switch req.Format {
	case "":
		req.Format = greffe.FormatPNG
	case greffe.FormatPNG, greffe.FormatJPEG:
	default:
		return nil, fmt.Errorf("inspector: unsupported screenshot format %q", req.Format)
	}
	if req.Quality <= 0 || req.Quality > 100 {
		req.Quality = defaultJPEGQuality
	}

	start := time.Now()
	var (
		obs *Observation
		err error
	)
	if s.live != nil {
		obs, err = s.live.inspect(ctx, req)
	} else {
		obs, err = s.static.inspect(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("inspected page",
		"url", req.URL,
		"selector", req.Selector,
		"mode", s.cfg.Mode,
		"duration_ms", time.Since(start).Milliseconds())
	return obs, nil
}

// Handler adapts Inspect to the connectivity payload contract: a JSON
// InspectRequest in, a JSON Observation out. Register it as the local
// handler for the capture service.
func (s *Service) Handler() connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req InspectRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("inspector: decode request: %w", err)
		}
		obs, err := s.Inspect(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(obs)
	}
}
