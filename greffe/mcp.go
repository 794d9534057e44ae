package greffe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/constat/kit"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers all chain tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerChainCreate(srv)
	svc.registerAppendEvidence(srv)
	svc.registerGetChain(srv)
	svc.registerVerifyChain(srv)
	svc.registerExportChain(srv)
	svc.registerListChains(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// anchorArg is the wire form of an anchor as tool callers supply it. The
// tier is never accepted from outside; BuildAnchor derives it from which
// locators are present.
type anchorArg struct {
	CSSSelector string       `json:"css_selector"`
	XPath       string       `json:"xpath"`
	TextContent string       `json:"text_content"`
	BoundingBox *BoundingBox `json:"bounding_box"`
}

func anchorSchema() map[string]any {
	return map[string]any{
		"type":        "array",
		"description": "DOM anchors locating the value on the page",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"css_selector": map[string]any{"type": "string", "description": "CSS selector"},
				"xpath":        map[string]any{"type": "string", "description": "XPath expression"},
				"text_content": map[string]any{"type": "string", "description": "Surrounding text content"},
				"bounding_box": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"x":      map[string]any{"type": "number"},
						"y":      map[string]any{"type": "number"},
						"width":  map[string]any{"type": "number"},
						"height": map[string]any{"type": "number"},
					},
				},
			},
		},
	}
}

func (svc *Service) registerChainCreate(srv *mcp.Server) {
	type req struct {
		ChainID string `json:"chain_id"`
	}

	tool := &mcp.Tool{
		Name:        "constat_chain_create",
		Description: "Create a new empty evidence chain",
		InputSchema: inputSchema(map[string]any{
			"chain_id": map[string]any{"type": "string", "description": "Chain ID"},
		}, []string{"chain_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Create(ctx, p.ChainID)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerAppendEvidence(srv *mcp.Server) {
	type req struct {
		ChainID   string          `json:"chain_id"`
		SourceURL string          `json:"source_url"`
		Value     json.RawMessage `json:"extracted_value"`
		Anchors   []anchorArg     `json:"anchors"`
	}

	tool := &mcp.Tool{
		Name:        "constat_append_evidence",
		Description: "Append an evidence record to a chain",
		InputSchema: inputSchema(map[string]any{
			"chain_id":        map[string]any{"type": "string", "description": "Chain ID"},
			"source_url":      map[string]any{"type": "string", "description": "URL the value was extracted from"},
			"extracted_value": map[string]any{"description": "Extracted value, any JSON shape"},
			"anchors":         anchorSchema(),
		}, []string{"chain_id", "source_url", "anchors"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		value := NullValue()
		if len(p.Value) > 0 {
			v, err := ParseValue(p.Value)
			if err != nil {
				return nil, err
			}
			value = v
		}
		anchors := make([]Anchor, len(p.Anchors))
		for i, a := range p.Anchors {
			anchors[i] = BuildAnchor(a.CSSSelector, a.XPath, a.TextContent, a.BoundingBox)
		}
		return svc.Append(ctx, p.ChainID, AppendInput{
			SourceURL: p.SourceURL,
			Value:     value,
			Anchors:   anchors,
		})
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerGetChain(srv *mcp.Server) {
	type req struct {
		ChainID string `json:"chain_id"`
	}

	tool := &mcp.Tool{
		Name:        "constat_get_chain",
		Description: "Get a chain with all of its evidence records",
		InputSchema: inputSchema(map[string]any{
			"chain_id": map[string]any{"type": "string", "description": "Chain ID"},
		}, []string{"chain_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		ch, err := svc.Get(ctx, p.ChainID)
		if err != nil {
			return nil, err
		}
		if ch == nil {
			return nil, fmt.Errorf("%w: %s", ErrChainNotFound, p.ChainID)
		}
		return ch, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerVerifyChain(srv *mcp.Server) {
	type req struct {
		ChainID string `json:"chain_id"`
	}

	tool := &mcp.Tool{
		Name:        "constat_verify_chain",
		Description: "Verify a chain's hash links and record digests",
		InputSchema: inputSchema(map[string]any{
			"chain_id": map[string]any{"type": "string", "description": "Chain ID"},
		}, []string{"chain_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Verify(ctx, p.ChainID)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerExportChain(srv *mcp.Server) {
	type req struct {
		ChainID string `json:"chain_id"`
	}

	tool := &mcp.Tool{
		Name:        "constat_export_chain",
		Description: "Export a chain as a standalone verifiable file",
		InputSchema: inputSchema(map[string]any{
			"chain_id": map[string]any{"type": "string", "description": "Chain ID"},
		}, []string{"chain_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		path, err := svc.Export(ctx, p.ChainID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"path": path}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerListChains(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "constat_list_chains",
		Description: "List all evidence chain IDs",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		ids, err := svc.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chains": ids, "count": len(ids)}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
