// Package kit holds the transport-agnostic building blocks shared by every
// service in this repository: the Endpoint abstraction, middleware chaining,
// typed context carriers, and the MCP tool bridge.
package kit

import "context"

// Endpoint is a single operation exposed over any transport: it receives a
// decoded request and returns a response or an error.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior (auditing,
// authorization, tracing).
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
