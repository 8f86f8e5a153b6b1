package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
	"github.com/ekaya-inc/utilization-registry/pkg/services"
)

// mcpClientIP is reported to the security auditor for MCP calls, which have
// no per-request address once inside the tool handler.
const mcpClientIP = "mcp"

// MetricNameToolDeps contains dependencies for metric name tools.
type MetricNameToolDeps struct {
	Scopes      ScopeAcquirer
	MetricNames services.MetricNameService
	Screener    *search.Screener
	Logger      *zap.Logger
}

// GetScopes implements ToolAccessDeps.
func (d *MetricNameToolDeps) GetScopes() ScopeAcquirer { return d.Scopes }

// GetLogger implements ToolAccessDeps.
func (d *MetricNameToolDeps) GetLogger() *zap.Logger { return d.Logger }

// RegisterMetricNameTools registers the metric name MCP tools.
func RegisterMetricNameTools(s *server.MCPServer, deps *MetricNameToolDeps) {
	registerSearchMetricNamesTool(s, deps)
	registerGetMetricNameTool(s, deps)
	registerCreateMetricNameTool(s, deps)
}

type metricNameResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
	Nodes       []nodeResponseItem `json:"nodes,omitempty"`
}

type nodeResponseItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func toMetricNameResponse(m *models.UtilizationMetricName) metricNameResponse {
	resp := metricNameResponse{
		ID:          m.ID.String(),
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   m.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, n := range m.Nodes {
		resp.Nodes = append(resp.Nodes, nodeResponseItem{ID: n.ID.String(), Name: n.Name})
	}
	return resp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// toolFailure converts a service error to a tool error result when the caller
// can act on it, and logs and returns it as a Go error otherwise.
func toolFailure(deps *MetricNameToolDeps, toolName string, err error) (*mcp.CallToolResult, error) {
	if result := NewServiceErrorResult(err); result != nil {
		deps.Logger.Debug("MCP tool rejected input",
			zap.String("tool", toolName),
			zap.Error(err))
		return result, nil
	}
	deps.Logger.Error("MCP tool failed",
		zap.String("tool", toolName),
		zap.Error(err))
	return nil, fmt.Errorf("%s failed: %w", toolName, err)
}

func registerSearchMetricNamesTool(s *server.MCPServer, deps *MetricNameToolDeps) {
	tool := mcp.NewTool(
		"search_metric_names",
		mcp.WithDescription(
			"Search utilization metric names. "+
				"The query matches the name case-insensitively as a substring; omit it to list all names in name order. "+
				"Returns matching names with the total match count.",
		),
		mcp.WithString("query", mcp.Description("Substring to look for in metric names")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum results to return (default %d, max %d)", search.DefaultLimit, search.MaxLimit))),
		mcp.WithNumber("offset", mcp.Description("Number of results to skip")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cleanup, err := AcquireToolAccess(ctx, deps, "search_metric_names")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		values := url.Values{}
		if q := trimString(getOptionalString(req, "query")); q != "" {
			values.Set(search.KeyQuery, q)
		}
		if limit := getOptionalInt(req, "limit", 0); limit != 0 {
			values.Set(search.KeyLimit, strconv.Itoa(limit))
		}
		if offset := getOptionalInt(req, "offset", 0); offset != 0 {
			values.Set(search.KeyOffset, strconv.Itoa(offset))
		}

		criteria, err := search.Parse(values, deps.MetricNames.Metadata())
		if err != nil {
			return toolFailure(deps, "search_metric_names", err)
		}
		if deps.Screener != nil {
			if err := deps.Screener.Screen(ctx, criteria, mcpClientIP); err != nil {
				return toolFailure(deps, "search_metric_names", err)
			}
		}

		list, err := deps.MetricNames.List(ctx, criteria)
		if err != nil {
			return toolFailure(deps, "search_metric_names", err)
		}

		result := struct {
			MetricNames []metricNameResponse `json:"metric_names"`
			Total       int                  `json:"total"`
			Count       int                  `json:"count"`
		}{
			MetricNames: make([]metricNameResponse, 0, len(list.MetricNames)),
			Total:       list.Total,
			Count:       len(list.MetricNames),
		}
		for _, m := range list.MetricNames {
			result.MetricNames = append(result.MetricNames, toMetricNameResponse(m))
		}
		return jsonResult(result)
	})
}

func registerGetMetricNameTool(s *server.MCPServer, deps *MetricNameToolDeps) {
	tool := mcp.NewTool(
		"get_metric_name",
		mcp.WithDescription(
			"Get a utilization metric name by its exact name. "+
				"Set include_nodes to also list the nodes that report the metric.",
		),
		mcp.WithString("name", mcp.Required(), mcp.Description("The metric name, e.g. 'cpu_usage'")),
		mcp.WithBoolean("include_nodes", mcp.Description("Include the nodes referencing this metric name")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		ctx, cleanup, err := AcquireToolAccess(ctx, deps, "get_metric_name")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		m, err := deps.MetricNames.GetByName(ctx, name)
		if err != nil {
			return toolFailure(deps, "get_metric_name", err)
		}

		if getOptionalBool(req, "include_nodes") {
			nodes, err := deps.MetricNames.Nodes(ctx, m.ID)
			if err != nil {
				return toolFailure(deps, "get_metric_name", err)
			}
			m.Nodes = nodes
		}

		return jsonResult(toMetricNameResponse(m))
	})
}

func registerCreateMetricNameTool(s *server.MCPServer, deps *MetricNameToolDeps) {
	tool := mcp.NewTool(
		"create_metric_name",
		mcp.WithDescription(
			"Register a new utilization metric name. "+
				"Names must be non-blank and unique; a rejected name is reported with code validation_failed "+
				"and per-field details (missing_name or duplicate_name).",
		),
		mcp.WithString("name", mcp.Required(), mcp.Description("The metric name, e.g. 'cpu_usage'")),
		mcp.WithString("description", mcp.Description("What the metric measures")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cleanup, err := AcquireToolAccess(ctx, deps, "create_metric_name")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		// A missing name is left for the validator so it is reported as missing_name.
		m, err := deps.MetricNames.Create(ctx,
			getOptionalString(req, "name"),
			getOptionalString(req, "description"))
		if err != nil {
			return toolFailure(deps, "create_metric_name", err)
		}

		deps.Logger.Info("Metric name created via MCP",
			zap.String("metric_name_id", m.ID.String()),
			zap.String("name", m.Name))

		return jsonResult(toMetricNameResponse(m))
	})
}
