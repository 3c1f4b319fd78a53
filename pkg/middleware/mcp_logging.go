package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPLoggingMiddleware creates MCP protocol-level middleware that logs
// every tool call and resource read with its outcome and duration. It
// must run inside MCPPrincipalMiddleware so the call context is set.
func MCPLoggingMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall && method != methodResourcesRead {
				return next(ctx, method, req)
			}

			start := time.Now()
			result, err := next(ctx, method, req)

			cc := GetCallContext(ctx)
			if cc == nil {
				return result, err
			}
			cc.Duration = time.Since(start)
			cc.Success, cc.ErrorMessage = outcome(result, err)

			attrs := []any{
				"request_id", cc.RequestID,
				"method", cc.Method,
				"name", cc.Name,
				"transport", cc.Transport,
				"duration_ms", cc.Duration.Milliseconds(),
			}
			if cc.Principal != "" {
				attrs = append(attrs, "principal", cc.Principal)
			}
			if cc.Success {
				slog.InfoContext(ctx, "mcp call", attrs...)
			} else {
				slog.WarnContext(ctx, "mcp call failed", append(attrs, "error", cc.ErrorMessage)...)
			}
			return result, err
		}
	}
}

// outcome reports whether a call succeeded and, if not, why.
func outcome(result mcp.Result, err error) (bool, string) {
	if err != nil {
		return false, err.Error()
	}
	res, ok := result.(*mcp.CallToolResult)
	if !ok || res == nil || !res.IsError {
		return true, ""
	}
	if len(res.Content) > 0 {
		if text, ok := res.Content[0].(*mcp.TextContent); ok {
			return false, text.Text
		}
	}
	return false, "tool error"
}
