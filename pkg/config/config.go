package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Delete policies applied to nodes that still reference a metric name being deleted.
const (
	DeletePolicyRestrict = "restrict"
	DeletePolicyNullify  = "nullify"
	DeletePolicyCascade  = "cascade"
)

// Config holds all configuration for the utilization registry.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional read cache)
	Redis RedisConfig `yaml:"redis"`

	// MetricNames holds the naming and deletion policy for utilization metric names.
	MetricNames MetricNamePolicy `yaml:"metric_names"`

	// Metrics configuration (Prometheus)
	Metrics MetricsConfig `yaml:"metrics"`

	// MCP configuration
	MCP MCPConfig `yaml:"mcp"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"registry"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"utilization_registry"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host disables the cache.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"-" env:"REDIS_TTL" env-default:"5m"`
}

// MetricNamePolicy captures the decisions the data model leaves open:
// how names compare for uniqueness and what happens to nodes on delete.
// Stored name keys are recomputed at startup when the comparison rules change;
// startup fails if the new rules would make stored names collide.
type MetricNamePolicy struct {
	// CaseInsensitive makes "CPU_Usage" and "cpu_usage" collide.
	// Booleans default to false because cleanenv treats false as unset.
	CaseInsensitive bool `yaml:"case_insensitive" env:"METRIC_NAMES_CASE_INSENSITIVE"`
	// PreserveWhitespace keeps leading/trailing whitespace instead of trimming it.
	PreserveWhitespace bool `yaml:"preserve_whitespace" env:"METRIC_NAMES_PRESERVE_WHITESPACE"`
	// DeletePolicy is one of restrict, nullify, cascade.
	DeletePolicy string `yaml:"delete_policy" env:"METRIC_NAMES_DELETE_POLICY" env-default:"restrict"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled" env:"METRICS_DISABLED"`
	Path     string `yaml:"path" env:"METRICS_PATH" env-default:"/metrics"`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Disabled bool `yaml:"disabled" env:"MCP_DISABLED"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.MetricNames.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metric_names configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// Validate checks that the delete policy is known.
func (p *MetricNamePolicy) Validate() error {
	switch p.DeletePolicy {
	case DeletePolicyRestrict, DeletePolicyNullify, DeletePolicyCascade:
		return nil
	default:
		return fmt.Errorf("delete_policy must be one of %s, %s, %s (got %q)",
			DeletePolicyRestrict, DeletePolicyNullify, DeletePolicyCascade, p.DeletePolicy)
	}
}

// NameKey returns the comparison key used for the uniqueness constraint.
func (p *MetricNamePolicy) NameKey(name string) string {
	name = p.Normalize(name)
	if p.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

// Normalize applies the whitespace policy to a candidate name.
func (p *MetricNamePolicy) Normalize(name string) string {
	if p.PreserveWhitespace {
		return name
	}
	return strings.TrimSpace(name)
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns the host:port Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}
