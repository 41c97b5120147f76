// Package gateway assembles the service: configuration, the Badger-backed
// stores, the permission gate, the dispatcher with its fallback chain, and
// the HTTP router.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/dispatch"
	"github.com/weam-ai/ollama-gateway/services/fallback"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/gateway/routes"
	"github.com/weam-ai/ollama-gateway/services/ollama"
	"github.com/weam-ai/ollama-gateway/services/permissions"
	"github.com/weam-ai/ollama-gateway/services/store"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "ollama-gateway"

// Service is the assembled gateway.
type Service struct {
	cfg          Config
	router       *gin.Engine
	db           *store.Store
	traceCleanup func(context.Context)
}

// New builds the gateway from configuration and extension points.
//
// Opens (or creates) the store, seeds the local tenant and its admin user,
// and wires the full request path: auth middleware, permission gate,
// connectivity probe, dispatcher, fallback orchestrator, usage ledger.
func New(cfg Config, opts extensions.ServiceOptions) (*Service, error) {
	cfg = cfg.withDefaults()
	opts = opts.Normalize()

	datatypes.RegisterValidations()
	observability.InitMetrics()

	var traceCleanup func(context.Context)
	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		traceCleanup = cleanup
	}

	db, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	settingsStore := store.NewSettingsStore(db)
	userStore := store.NewUserStore(db)
	usageStore := store.NewUsageStore(db)
	if err := seedLocalTenant(cfg, settingsStore, userStore); err != nil {
		_ = db.Close()
		return nil, err
	}

	clients := ollama.NewClientCache(cfg.OllamaURL, cfg.RequestTimeout)
	gate := permissions.NewGate(userStore, settingsStore)
	dispatcher := dispatch.NewService(clients, settingsStore, usageStore,
		fallback.NewDefaultOrchestrator())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, routes.Services{
		Clients:    clients,
		Dispatcher: dispatcher,
		Gate:       gate,
		Settings:   settingsStore,
		Usage:      usageStore,
		Auth:       opts.AuthProvider,
		Audit:      opts.AuditLogger,
	})

	slog.Info("Gateway assembled",
		"ollama_url", cfg.OllamaURL, "data_dir", cfg.DataDir, "port", cfg.Port)
	return &Service{cfg: cfg, router: router, db: db, traceCleanup: traceCleanup}, nil
}

// Router exposes the engine for tests and embedding.
func (s *Service) Router() *gin.Engine { return s.router }

// Run serves HTTP until the listener fails.
func (s *Service) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	slog.Info("Gateway listening", "addr", addr)
	return s.router.Run(addr)
}

// Close flushes traces and releases the store.
func (s *Service) Close() error {
	if s.traceCleanup != nil {
		s.traceCleanup(context.Background())
	}
	return s.db.Close()
}

func openStore(dataDir string) (*store.Store, error) {
	if dataDir == "" {
		slog.Warn("No data directory configured, using in-memory store")
		return store.OpenInMemory()
	}
	return store.Open(dataDir)
}

// seedLocalTenant registers the configured company and grants its admin
// user. Without this the fail-closed permission gate would deny the no-op
// auth provider's local identity.
func seedLocalTenant(cfg Config, settings *store.SettingsStore, users *store.UserStore) error {
	ctx := context.Background()
	if err := settings.EnsureCompany(ctx, cfg.CompanyID); err != nil {
		return fmt.Errorf("failed to register company %s: %w", cfg.CompanyID, err)
	}
	if err := users.Put(ctx, store.UserRecord{
		UserID:    cfg.AdminUserID,
		CompanyID: cfg.CompanyID,
		Role:      "admin",
	}); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	return nil
}
