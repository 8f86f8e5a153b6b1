package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/services"
)

// CreateNodeRequest for POST /api/nodes
type CreateNodeRequest struct {
	Name                    string     `json:"name"`
	UtilizationMetricNameID *uuid.UUID `json:"utilization_metric_name_id"`
}

// AssignMetricNameRequest for PUT /api/nodes/{nid}/utilization_metric_name.
// A null ID detaches the node.
type AssignMetricNameRequest struct {
	UtilizationMetricNameID *uuid.UUID `json:"utilization_metric_name_id"`
}

// NodeHandler handles node HTTP requests.
type NodeHandler struct {
	nodes  services.NodeService
	logger *zap.Logger
}

// NewNodeHandler creates a new node handler.
func NewNodeHandler(nodes services.NodeService, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{nodes: nodes, logger: logger}
}

// RegisterRoutes registers the node routes on the given mux.
func (h *NodeHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/nodes",
		authMiddleware.RequireAuthWithProvenance(scope(h.Create)))
	mux.HandleFunc("GET /api/nodes/{nid}",
		authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("PUT /api/nodes/{nid}/utilization_metric_name",
		authMiddleware.RequireAuthWithProvenance(scope(h.AssignMetricName)))
}

// Create handles POST /api/nodes
func (h *NodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	node, err := h.nodes.Create(r.Context(), req.Name, req.UtilizationMetricNameID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: node}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/nodes/{nid}
func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	node, err := h.nodes.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: node}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// AssignMetricName handles PUT /api/nodes/{nid}/utilization_metric_name
func (h *NodeHandler) AssignMetricName(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	var req AssignMetricNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	node, err := h.nodes.AssignMetricName(r.Context(), id, req.UtilizationMetricNameID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: node}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
