// Package tools provides MCP tool implementations for the utilization registry.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

// ToolAccessError is an actionable error returned to the MCP client as a
// JSON result rather than as a protocol error, so the agent can act on it.
type ToolAccessError struct {
	Code    string
	Message string
	// MCPResult contains the pre-built MCP response for this error
	MCPResult *mcp.CallToolResult
}

func (e *ToolAccessError) Error() string {
	return e.Message
}

// AsToolAccessResult returns the MCP result carried by a ToolAccessError,
// or nil when err is some other error:
//
//	ctx, cleanup, err := AcquireToolAccess(ctx, deps, "my_tool")
//	if err != nil {
//	    if result := AsToolAccessResult(err); result != nil {
//	        return result, nil
//	    }
//	    return nil, err
//	}
func AsToolAccessResult(err error) *mcp.CallToolResult {
	var accessErr *ToolAccessError
	if errors.As(err, &accessErr) {
		return accessErr.MCPResult
	}
	return nil
}

func newToolAccessError(code, message string) *ToolAccessError {
	return &ToolAccessError{
		Code:      code,
		Message:   message,
		MCPResult: NewErrorResult(code, message),
	}
}

// ScopeAcquirer attaches a database connection to a context.
// *database.ScopeProvider satisfies it.
type ScopeAcquirer interface {
	WithScope(ctx context.Context) (context.Context, func(), error)
}

// ToolAccessDeps is what AcquireToolAccess needs from a tool's dependencies.
type ToolAccessDeps interface {
	GetScopes() ScopeAcquirer
	GetLogger() *zap.Logger
}

// AcquireToolAccess checks that the call is authenticated, acquires a
// database scope and injects MCP provenance for the caller.
// The returned cleanup must be called when the tool finishes.
func AcquireToolAccess(ctx context.Context, deps ToolAccessDeps, toolName string) (context.Context, func(), error) {
	claims, ok := auth.GetClaims(ctx)
	if !ok || claims == nil {
		return nil, nil, newToolAccessError("authentication_required", "authentication required")
	}

	userID := uuid.Nil
	if parsed, err := uuid.Parse(claims.Subject); err == nil {
		userID = parsed
	}

	scopedCtx, cleanup, err := deps.GetScopes().WithScope(ctx)
	if err != nil {
		deps.GetLogger().Error("Failed to acquire database connection for MCP tool",
			zap.String("tool", toolName),
			zap.Error(err))
		return nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}

	return models.WithMCPProvenance(scopedCtx, userID), cleanup, nil
}
