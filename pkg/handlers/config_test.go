package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/config"
)

func TestConfigHandler_Get_Success(t *testing.T) {
	cfg := &config.Config{
		Version: "1.4.0",
		BaseURL: "http://localhost:3443",
		Auth: config.AuthConfig{
			EnableVerification: true,
			JWKSEndpoints: map[string]string{
				"https://b.example.com": "https://b.example.com/jwks",
				"https://a.example.com": "https://a.example.com/jwks",
			},
		},
		MetricNames: config.MetricNamePolicy{
			CaseInsensitive: true,
			DeletePolicy:    config.DeletePolicyNullify,
		},
	}

	handler := NewConfigHandler(cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()

	handler.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("expected cacheable response, got %q", cc)
	}

	var resp ConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Version != "1.4.0" || resp.BaseURL != "http://localhost:3443" {
		t.Errorf("unexpected version/base_url: %q %q", resp.Version, resp.BaseURL)
	}
	if !resp.AuthVerification {
		t.Error("expected auth_verification true")
	}
	if len(resp.TrustedIssuers) != 2 || resp.TrustedIssuers[0] != "https://a.example.com" {
		t.Errorf("expected sorted issuers, got %v", resp.TrustedIssuers)
	}
	if !resp.MetricNames.CaseInsensitive || resp.MetricNames.DeletePolicy != "nullify" {
		t.Errorf("unexpected metric name policy: %+v", resp.MetricNames)
	}
	if !resp.MCPEnabled {
		t.Error("expected mcp_enabled true")
	}
}

func TestConfigHandler_RegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	NewConfigHandler(&config.Config{}, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp ConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.TrustedIssuers == nil {
		t.Error("expected empty issuer list, not null")
	}
}
