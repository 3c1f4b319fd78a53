package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
	httpauth "github.com/maratron-ai/maratron-monorepo/pkg/http"
)

const (
	methodToolsCall     = "tools/call"
	methodResourcesRead = "resources/read"
)

// LocalPrincipal identifies the operator of a stdio server.
const LocalPrincipal = "local"

// MCPPrincipalMiddleware creates MCP protocol-level middleware that
// attaches the transport principal to tools/call and resources/read
// requests.
//
// Over stdio the principal is the local operator. Over HTTP the request
// headers are authenticated again with authenticator, because the HTTP
// request context does not reach MCP handlers. The principal is recorded
// in the audit trail; it does not select the current user.
func MCPPrincipalMiddleware(authenticator auth.Authenticator, transport string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall && method != methodResourcesRead {
				return next(ctx, method, req)
			}

			cc := NewCallContext(method, requestName(req))
			cc.Transport = transport
			ctx = WithCallContext(ctx, cc)

			uc, err := principal(ctx, authenticator, transport, requestHeader(req))
			if err != nil {
				if method == methodToolsCall {
					return createErrorResult("AUTHENTICATION_FAILED: " + err.Error()), nil
				}
				return nil, fmt.Errorf("authentication failed: %w", err)
			}
			if uc != nil {
				cc.Principal = uc.UserID
				ctx = auth.WithUserContext(ctx, uc)
			}
			return next(ctx, method, req)
		}
	}
}

// principal resolves the user context for one request.
func principal(ctx context.Context, authenticator auth.Authenticator, transport string, header http.Header) (*auth.UserContext, error) {
	if transport != TransportHTTP {
		return &auth.UserContext{UserID: LocalPrincipal, AuthType: auth.AuthTypeLocal}, nil
	}
	if authenticator == nil {
		return nil, nil //nolint:nilnil // no authenticator configured means no principal
	}
	if token := httpauth.TokenFromHeader(header); token != "" {
		ctx = auth.WithToken(ctx, token)
	}
	uc, err := authenticator.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticating request: %w", err)
	}
	return uc, nil
}

// requestHeader returns the HTTP headers that carried the request, if any.
func requestHeader(req mcp.Request) http.Header {
	switch r := req.(type) {
	case *mcp.CallToolRequest:
		if r != nil && r.Extra != nil {
			return r.Extra.Header
		}
	case *mcp.ReadResourceRequest:
		if r != nil && r.Extra != nil {
			return r.Extra.Header
		}
	}
	return nil
}

// requestName extracts the tool name or resource URI.
func requestName(req mcp.Request) string {
	if req == nil {
		return ""
	}
	switch p := req.GetParams().(type) {
	case *mcp.CallToolParamsRaw:
		if p != nil {
			return p.Name
		}
	case *mcp.ReadResourceParams:
		if p != nil {
			return p.URI
		}
	}
	return ""
}

// createErrorResult creates an MCP tool result for a rejected call.
func createErrorResult(errMsg string) mcp.Result {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: errMsg},
		},
	}
}
