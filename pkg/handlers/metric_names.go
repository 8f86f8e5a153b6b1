package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/audit"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
	"github.com/ekaya-inc/utilization-registry/pkg/services"
)

// ScopeMiddleware attaches a database scope to the request context.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// MetricNameRequest is the body of create and update calls.
// Absent fields are left unchanged on update.
type MetricNameRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// wrappedMetricNameRequest accepts {"utilization_metric_name": {...}} bodies.
type wrappedMetricNameRequest struct {
	MetricName *MetricNameRequest `json:"utilization_metric_name"`
	MetricNameRequest
}

func (r MetricNameRequest) changes() models.MetricNameChanges {
	return models.MetricNameChanges{Name: r.Name, Description: r.Description}
}

// CommentRequest is the body of POST /{id}/comments.
type CommentRequest struct {
	Title   string `json:"title"`
	Comment string `json:"comment"`
}

// ============================================================================
// Handler
// ============================================================================

// MetricNameHandler serves /api/utilization_metric_names.
type MetricNameHandler struct {
	metricNames services.MetricNameService
	comments    services.CommentService
	audit       services.AuditService
	reports     services.ReportService
	screener    *search.Screener
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewMetricNameHandler creates a new metric name handler.
func NewMetricNameHandler(
	metricNames services.MetricNameService,
	comments services.CommentService,
	audit services.AuditService,
	reports services.ReportService,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) *MetricNameHandler {
	return &MetricNameHandler{
		metricNames: metricNames,
		comments:    comments,
		audit:       audit,
		reports:     reports,
		screener:    search.NewScreener(auditor, models.MetricNameMetadata.Collection),
		auditor:     auditor,
		logger:      logger,
	}
}

// RegisterRoutes registers the metric name routes on the given mux.
func (h *MetricNameHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	base := "/api/utilization_metric_names"
	read := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireAuth(scope(next))
	}
	write := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireAuthWithProvenance(scope(next))
	}

	mux.HandleFunc("GET "+base, read(h.List))
	mux.HandleFunc("POST "+base, write(h.Create))
	mux.HandleFunc("PUT "+base, write(h.UpdateWhere))
	mux.HandleFunc("GET "+base+"/metadata", read(h.Metadata))
	mux.HandleFunc("GET "+base+"/report", read(h.Report))
	mux.HandleFunc("GET "+base+"/{id}", read(h.Get))
	mux.HandleFunc("PUT "+base+"/{id}", write(h.Update))
	mux.HandleFunc("DELETE "+base+"/{id}", write(h.Delete))
	mux.HandleFunc("GET "+base+"/{id}/nodes", read(h.Nodes))
	mux.HandleFunc("GET "+base+"/{id}/comments", read(h.ListComments))
	mux.HandleFunc("POST "+base+"/{id}/comments", write(h.AddComment))
	mux.HandleFunc("GET "+base+"/{id}/audit", read(h.Audit))
}

// List handles GET /api/utilization_metric_names
func (h *MetricNameHandler) List(w http.ResponseWriter, r *http.Request) {
	criteria, ok := h.parseCriteria(w, r)
	if !ok {
		return
	}

	list, err := h.metricNames.List(r.Context(), criteria)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeData(w, http.StatusOK, list)
}

// Create handles POST /api/utilization_metric_names
func (h *MetricNameHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeMetricName(w, r)
	if !ok {
		return
	}

	var name, description string
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		description = *req.Description
	}

	m, err := h.metricNames.Create(r.Context(), name, description)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeData(w, http.StatusCreated, m)
}

// UpdateWhere handles PUT /api/utilization_metric_names, updating every
// record matched by the query string.
func (h *MetricNameHandler) UpdateWhere(w http.ResponseWriter, r *http.Request) {
	criteria, ok := h.parseCriteria(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeMetricName(w, r)
	if !ok {
		return
	}

	result, err := h.metricNames.UpdateWhere(r.Context(), criteria, req.changes())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := ApiResponse{Success: len(result.Failures) == 0, Data: result, Message: result.Summary()}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Metadata handles GET /api/utilization_metric_names/metadata
func (h *MetricNameHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, h.metricNames.Metadata())
}

// Report handles GET /api/utilization_metric_names/report
func (h *MetricNameHandler) Report(w http.ResponseWriter, r *http.Request) {
	criteria, ok := h.parseCriteria(w, r, "fields", "format", "node_count")
	if !ok {
		return
	}

	q := r.URL.Query()
	var fields []string
	if raw := q.Get("fields"); raw != "" {
		for f := range strings.SplitSeq(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}

	report, err := h.reports.Generate(r.Context(), services.ReportRequest{
		Criteria:         criteria,
		Fields:           fields,
		IncludeNodeCount: parseBool(r, "node_count"),
		Format:           q.Get("format"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(report.Body); err != nil {
		h.logger.Error("Failed to write report", zap.Error(err))
	}
}

// Get handles GET /api/utilization_metric_names/{id}
func (h *MetricNameHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseMetricNameID(w, r, h.logger)
	if !ok {
		return
	}

	include, err := search.ParseInclude(r.URL.Query()[search.KeyInclude], models.MetricNameMetadata)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	m, err := h.metricNames.Get(r.Context(), id, slices.Contains(include, models.RelationNodes))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeData(w, http.StatusOK, m)
}

// Update handles PUT /api/utilization_metric_names/{id}
func (h *MetricNameHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseMetricNameID(w, r, h.logger)
	if !ok {
		return
	}
	req, ok := h.decodeMetricName(w, r)
	if !ok {
		return
	}

	m, err := h.metricNames.Update(r.Context(), id, req.changes())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeData(w, http.StatusOK, m)
}

// Delete handles DELETE /api/utilization_metric_names/{id}
func (h *MetricNameHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseMetricNameID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.metricNames.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Utilization metric name deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Nodes handles GET /api/utilization_metric_names/{id}/nodes
func (h *MetricNameHandler) Nodes(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseMetricNameID(w, r, h.logger)
	if !ok {
		return
	}

	nodes, err := h.metricNames.Nodes(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeData(w, http.StatusOK, nodes)
}

// ListComments handles GET /api/utilization_metric_names/{id}/comments
func (h *MetricNameHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}

	comments, err := h.comments.List(r.Context(), m)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeData(w, http.StatusOK, comments)
}

// AddComment handles POST /api/utilization_metric_names/{id}/comments
func (h *MetricNameHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}

	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.invalidBody(w)
		return
	}

	c, err := h.comments.Add(r.Context(), m, req.Title, req.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeData(w, http.StatusCreated, c)
}

// Audit handles GET /api/utilization_metric_names/{id}/audit
func (h *MetricNameHandler) Audit(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}

	entries, err := h.audit.GetByEntity(r.Context(), m.AuditEntityType(), m.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}

	h.writeData(w, http.StatusOK, entries)
}

// ============================================================================
// Helpers
// ============================================================================

// fail writes err and records forbidden attempts with the security auditor.
func (h *MetricNameHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, apperrors.ErrForbidden) {
		h.auditor.LogAuthorizationDenied(r.Context(), models.MetricNameMetadata.Collection, r.Method+" "+r.URL.Path, clientIP(r))
	}
	writeServiceError(w, err, h.logger)
}

func (h *MetricNameHandler) load(w http.ResponseWriter, r *http.Request) (*models.UtilizationMetricName, bool) {
	id, ok := ParseMetricNameID(w, r, h.logger)
	if !ok {
		return nil, false
	}
	m, err := h.metricNames.Get(r.Context(), id, false)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return m, true
}

// parseCriteria parses and screens the query string. On failure it has
// already written a 400 response.
func (h *MetricNameHandler) parseCriteria(w http.ResponseWriter, r *http.Request, ignore ...string) (*search.Criteria, bool) {
	ip := clientIP(r)

	criteria, err := search.Parse(r.URL.Query(), h.metricNames.Metadata(), ignore...)
	if err != nil {
		h.screener.ReportInvalid(r.Context(), err, ip)
		h.fail(w, r, err)
		return nil, false
	}

	if err := h.screener.Screen(r.Context(), criteria, ip); err != nil {
		h.fail(w, r, err)
		return nil, false
	}

	return criteria, true
}

func (h *MetricNameHandler) decodeMetricName(w http.ResponseWriter, r *http.Request) (MetricNameRequest, bool) {
	var req wrappedMetricNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.invalidBody(w)
		return MetricNameRequest{}, false
	}
	if req.MetricName != nil {
		return *req.MetricName, true
	}
	return req.MetricNameRequest, true
}

func (h *MetricNameHandler) invalidBody(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *MetricNameHandler) writeData(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
