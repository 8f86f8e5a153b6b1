package handlers

import (
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/config"
)

// ConfigResponse contains the public configuration of the registry.
type ConfigResponse struct {
	Version          string            `json:"version"`
	BaseURL          string            `json:"base_url"`
	AuthVerification bool              `json:"auth_verification"`
	TrustedIssuers   []string          `json:"trusted_issuers"`
	MetricNames      MetricNamesConfig `json:"metric_names"`
	MCPEnabled       bool              `json:"mcp_enabled"`
}

// MetricNamesConfig is the public view of the metric name policy.
type MetricNamesConfig struct {
	CaseInsensitive    bool   `json:"case_insensitive"`
	PreserveWhitespace bool   `json:"preserve_whitespace"`
	DeletePolicy       string `json:"delete_policy"`
}

// ConfigHandler handles configuration requests.
type ConfigHandler struct {
	config *config.Config
	logger *zap.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		logger: logger,
	}
}

// RegisterRoutes registers the config handler's routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", h.Get)
}

// Get returns public configuration so clients can learn the naming rules
// before submitting names.
// GET /api/config
// This endpoint is public (no authentication required); it exposes no secrets.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	issuers := make([]string, 0, len(h.config.Auth.JWKSEndpoints))
	for issuer := range h.config.Auth.JWKSEndpoints {
		issuers = append(issuers, issuer)
	}
	slices.Sort(issuers)

	response := ConfigResponse{
		Version:          h.config.Version,
		BaseURL:          h.config.BaseURL,
		AuthVerification: h.config.Auth.EnableVerification,
		TrustedIssuers:   issuers,
		MetricNames: MetricNamesConfig{
			CaseInsensitive:    h.config.MetricNames.CaseInsensitive,
			PreserveWhitespace: h.config.MetricNames.PreserveWhitespace,
			DeletePolicy:       h.config.MetricNames.DeletePolicy,
		},
		MCPEnabled: !h.config.MCP.Disabled,
	}

	w.Header().Set("Cache-Control", "public, max-age=300") // Cache for 5 minutes

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode config response", zap.Error(err))
		return
	}

	h.logger.Debug("Config request served",
		zap.String("remote_addr", r.RemoteAddr))
}
