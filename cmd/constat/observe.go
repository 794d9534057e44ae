package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/constat/audit"
	"github.com/hazyhaar/constat/connectivity"
	"github.com/hazyhaar/constat/greffe"
	"github.com/hazyhaar/constat/inspector"
	"github.com/hazyhaar/constat/kit"
	"github.com/hazyhaar/constat/report"
	"github.com/hazyhaar/constat/snapshot"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// observeService runs the full observe pipeline: inspect the page through
// the capture channel, build the anchor from what the inspector saw, store
// the screenshot and append the evidence record in one shot.
type observeService struct {
	router *connectivity.Router
	chains *greffe.Service
	shots  *snapshot.Capturer
	render *report.Renderer
	logger *slog.Logger
}

type observeRequest struct {
	URL      string          `json:"url"`
	Selector string          `json:"selector"`
	FullPage bool            `json:"full_page,omitempty"`
	Format   string          `json:"format,omitempty"`
	Quality  int             `json:"quality,omitempty"`
	Value    json.RawMessage `json:"extracted_value,omitempty"`
}

func (o *observeService) observe(ctx context.Context, chainID string, req observeRequest) (*greffe.Record, error) {
	payload, err := json.Marshal(inspector.InspectRequest{
		URL:      req.URL,
		Selector: req.Selector,
		FullPage: req.FullPage,
		Format:   req.Format,
		Quality:  req.Quality,
	})
	if err != nil {
		return nil, fmt.Errorf("encode inspect request: %w", err)
	}

	out, err := o.router.Call(ctx, "capture", payload)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	var obs inspector.Observation
	if err := json.Unmarshal(out, &obs); err != nil {
		return nil, fmt.Errorf("decode observation: %w", err)
	}

	anchor := greffe.BuildAnchor(obs.CSSSelector, obs.XPath, obs.TextContent, obs.BoundingBox)

	var meta *greffe.ScreenshotMeta
	if obs.Base64ImageData != "" {
		raw, err := base64.StdEncoding.DecodeString(obs.Base64ImageData)
		if err != nil {
			return nil, fmt.Errorf("decode screenshot: %w", err)
		}
		meta, err = o.shots.Finalize(ctx, chainID, raw, obs.Format)
		if err != nil {
			return nil, err
		}
	}

	return o.chains.Append(ctx, chainID, greffe.AppendInput{
		SourceURL:  req.URL,
		Value:      o.valueFor(req, &obs),
		Anchors:    []greffe.Anchor{anchor},
		Screenshot: meta,
	})
}

// valueFor picks the record value: the caller's explicit value wins, then
// the markdown rendering of the observed element, then its raw text.
func (o *observeService) valueFor(req observeRequest, obs *inspector.Observation) greffe.Value {
	if len(req.Value) > 0 {
		v, err := greffe.ParseValue(req.Value)
		if err == nil && !v.IsNull() {
			return v
		}
		if err != nil {
			o.logger.Warn("observe: bad extracted_value, deriving from page", "error", err)
		}
	}
	if obs.HTML != "" {
		md, err := o.render.Fragment(obs.HTML, req.URL)
		if err == nil && md != "" {
			return greffe.StringValue(md)
		}
		if err != nil {
			o.logger.Warn("observe: fragment conversion failed, using text content", "error", err)
		}
	}
	return greffe.StringValue(obs.TextContent)
}

func (o *observeService) handleObserve(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")
	var req observeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.URL == "" || req.Selector == "" {
		writeError(w, 400, fmt.Errorf("url and selector are required"))
		return
	}
	rec, err := o.observe(r.Context(), chainID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, 201, rec)
}

// registerMCP exposes the pipeline as the constat_observe tool. The chain
// tools audit through the service itself; observe is not a chain operation,
// so its endpoint is wrapped in audit middleware here.
func (o *observeService) registerMCP(srv *mcp.Server, auditLog audit.Logger) {
	type req struct {
		ChainID  string          `json:"chain_id"`
		URL      string          `json:"url"`
		Selector string          `json:"selector"`
		FullPage bool            `json:"full_page"`
		Format   string          `json:"format"`
		Quality  int             `json:"quality"`
		Value    json.RawMessage `json:"extracted_value"`
	}

	tool := &mcp.Tool{
		Name:        "constat_observe",
		Description: "Inspect a page element, store its screenshot and append the evidence record",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"chain_id":        map[string]any{"type": "string", "description": "Chain ID"},
				"url":             map[string]any{"type": "string", "description": "Page URL to inspect"},
				"selector":        map[string]any{"type": "string", "description": "CSS selector of the element"},
				"full_page":       map[string]any{"type": "boolean", "description": "Capture the whole page instead of the element"},
				"format":          map[string]any{"type": "string", "enum": []string{"png", "jpeg"}, "description": "Screenshot format"},
				"quality":         map[string]any{"type": "integer", "description": "JPEG quality (1-100)"},
				"extracted_value": map[string]any{"description": "Value to record; derived from the element when omitted"},
			},
			"required": []string{"chain_id", "url", "selector"},
		},
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.URL == "" || p.Selector == "" {
			return nil, fmt.Errorf("url and selector are required")
		}
		return o.observe(ctx, p.ChainID, observeRequest{
			URL:      p.URL,
			Selector: p.Selector,
			FullPage: p.FullPage,
			Format:   p.Format,
			Quality:  p.Quality,
			Value:    p.Value,
		})
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, audit.Middleware(auditLog, "observe")(endpoint), decode)
}
