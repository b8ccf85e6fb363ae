// Package kit holds the transport-neutral endpoint shape shared by the
// chatwatch control API and its MCP tools.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a single operator action. req and the returned value are
// transport-neutral; each transport decodes into and encodes out of them.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each endpoint call with its transport, operator and duration.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"action", name,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
			}
			if op := GetOperator(ctx); op != "" {
				attrs = append(attrs, "operator", op)
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				logger.Warn("kit: action failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: action", attrs...)
			}
			return resp, err
		}
	}
}
