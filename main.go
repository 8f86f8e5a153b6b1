package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/audit"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/cache"
	"github.com/ekaya-inc/utilization-registry/pkg/config"
	"github.com/ekaya-inc/utilization-registry/pkg/database"
	"github.com/ekaya-inc/utilization-registry/pkg/handlers"
	"github.com/ekaya-inc/utilization-registry/pkg/logging"
	"github.com/ekaya-inc/utilization-registry/pkg/mcp"
	mcpauth "github.com/ekaya-inc/utilization-registry/pkg/mcp/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/mcp/tools"
	"github.com/ekaya-inc/utilization-registry/pkg/metrics"
	"github.com/ekaya-inc/utilization-registry/pkg/middleware"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/repositories"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
	"github.com/ekaya-inc/utilization-registry/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Bool("case_insensitive_names", cfg.MetricNames.CaseInsensitive),
		zap.String("delete_policy", cfg.MetricNames.DeletePolicy))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	connStr := cfg.Database.ConnectionString()

	if err := migrate(connStr, logger); err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var m *metrics.Metrics
	if !cfg.Metrics.Disabled {
		m = metrics.NewMetrics(registry)
	}

	// Repositories
	metricNameRepo := repositories.NewMetricNameRepository()
	nodeRepo := repositories.NewNodeRepository()
	commentRepo := repositories.NewCommentRepository()
	auditRepo := repositories.NewAuditRepository()

	// Services
	metricNameCache := cache.New(redisClient, cfg.Redis.TTL)
	scopes := database.NewScopeProvider(db)
	if err := rekeyNames(ctx, scopes, metricNameRepo, metricNameCache, cfg.MetricNames, logger); err != nil {
		return err
	}

	authorizer := auth.NewRoleAuthorizer(nil, logger)
	auditService := services.NewAuditService(auditRepo, logger)
	metricNameService := services.NewMetricNameService(services.MetricNameServiceDeps{
		Repo:        metricNameRepo,
		NodeRepo:    nodeRepo,
		CommentRepo: commentRepo,
		Audit:       auditService,
		Authorizer:  authorizer,
		Cache:       metricNameCache,
		Tx:          database.ScopeTransactor{},
		Metrics:     m,
		Policy:      cfg.MetricNames,
	}, logger)
	nodeService := services.NewNodeService(nodeRepo, metricNameRepo, authorizer, logger)
	commentService := services.NewCommentService(commentRepo, authorizer, logger)
	reportService := services.NewReportService(metricNameRepo, nodeRepo, authorizer, logger)
	securityAuditor := audit.NewSecurityAuditor(logger)

	// Authentication
	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return err
	}
	defer jwksClient.Close()
	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	// HTTP routes
	mux := http.NewServeMux()
	scope := handlers.ScopeMiddleware(database.WithScopeContext(db, logger))

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewConfigHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewMetricNameHandler(metricNameService, commentService, auditService, reportService, securityAuditor, logger).
		RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewNodeHandler(nodeService, logger).RegisterRoutes(mux, authMiddleware, scope)

	if !cfg.Metrics.Disabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	if !cfg.MCP.Disabled {
		mcpServer := mcp.NewServer("utilization-registry", cfg.Version, mcp.NewAuditLogger(m, logger).Hooks(), logger)
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, db)
		tools.RegisterMetricNameTools(mcpServer.MCP(), &tools.MetricNameToolDeps{
			Scopes:      scopes,
			MetricNames: metricNameService,
			Screener:    search.NewScreener(securityAuditor, models.MetricNameMetadata.Collection),
			Logger:      logger.Named("mcp-tools"),
		})
		handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, mcpauth.NewMiddleware(authService, logger))
	}

	var handler http.Handler = mux
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.RequestMetrics(m)(handler)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting utilization-registry",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// rekeyNames refuses to start when the configured naming policy would make
// stored names collide.
func rekeyNames(ctx context.Context, scopes *database.ScopeProvider, repo repositories.MetricNameRepository, c cache.MetricNameCache, policy config.MetricNamePolicy, logger *zap.Logger) error {
	scopedCtx, release, err := scopes.WithScope(ctx)
	if err != nil {
		return err
	}
	defer release()

	changed, err := services.NewNameKeyRekeyer(repo, database.ScopeTransactor{}, c, policy, logger).Run(scopedCtx)
	if err != nil {
		return fmt.Errorf("apply metric_names policy to stored names: %w", err)
	}
	if changed > 0 {
		logger.Info("Stored metric name keys updated for the current naming policy", zap.Int("changed", changed))
	}
	return nil
}

func migrate(connStr string, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, logger)
}
