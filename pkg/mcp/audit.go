package mcp

import (
	"context"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/logging"
	"github.com/ekaya-inc/utilization-registry/pkg/metrics"
)

// Tool call outcomes reported to metrics and logs.
const (
	OutcomeSuccess   = "success"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
)

// maxPreviewLength bounds the result preview kept in log lines.
const maxPreviewLength = 200

// AuditLogger records every MCP tool call as a structured log line and a
// Prometheus observation.
type AuditLogger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger. m may be nil.
func NewAuditLogger(m *metrics.Metrics, logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger:  logger.Named("mcp-audit"),
		metrics: m,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	elapsed := a.elapsed(id)

	outcome := OutcomeSuccess
	if result != nil && result.IsError {
		outcome = OutcomeToolError
	}

	fields := a.baseFields(ctx, req, outcome, elapsed)
	preview := summarizeResult(result)
	if preview != "" {
		fields = append(fields, zap.String("result_preview", preview))
	}

	switch {
	case outcome == OutcomeToolError && isSecurityFlagged(preview):
		a.logger.Warn("MCP tool call rejected for security reasons", fields...)
	case outcome == OutcomeToolError:
		a.logger.Info("MCP tool call returned an error result", fields...)
	default:
		a.logger.Info("MCP tool call", fields...)
	}

	a.metrics.ToolCall(req.Params.Name, outcome, elapsed.Seconds())
}

func (a *AuditLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}

	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	elapsed := a.elapsed(id)
	fields := a.baseFields(ctx, req, OutcomeError, elapsed)
	fields = append(fields, zap.String("error", logging.SanitizeError(err)))
	a.logger.Error("MCP tool call failed", fields...)

	a.metrics.ToolCall(req.Params.Name, OutcomeError, elapsed.Seconds())
}

func (a *AuditLogger) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

func (a *AuditLogger) baseFields(ctx context.Context, req *mcplib.CallToolRequest, outcome string, elapsed time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.String("outcome", outcome),
		zap.Duration("duration", elapsed),
	}
	if claims, ok := auth.GetClaims(ctx); ok && claims != nil {
		fields = append(fields, zap.String("user_id", claims.Subject))
	}
	if args, ok := req.Params.Arguments.(map[string]any); ok && len(args) > 0 {
		fields = append(fields, zap.Any("arguments", logging.SanitizeArguments(args)))
	}
	return fields
}

// summarizeResult returns a truncated preview of the first text content.
func summarizeResult(result *mcplib.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return logging.TruncateString(tc.Text, maxPreviewLength)
		}
	}
	return ""
}

// isSecurityFlagged reports whether an error result came from injection
// screening or a missing identity.
func isSecurityFlagged(preview string) bool {
	lower := strings.ToLower(preview)
	return strings.Contains(lower, "security_violation") ||
		strings.Contains(lower, "authentication_required") ||
		strings.Contains(lower, "forbidden")
}
