// Package routes wires the gateway's HTTP surface onto a Gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/dispatch"
	"github.com/weam-ai/ollama-gateway/services/gateway/handlers"
	"github.com/weam-ai/ollama-gateway/services/gateway/middleware"
	"github.com/weam-ai/ollama-gateway/services/ollama"
	"github.com/weam-ai/ollama-gateway/services/permissions"
	"github.com/weam-ai/ollama-gateway/services/store"
)

// Services bundles the collaborators the route table hands to handlers.
type Services struct {
	Clients    *ollama.ClientCache
	Dispatcher *dispatch.Service
	Gate       *permissions.Gate
	Settings   *store.SettingsStore
	Usage      *store.UsageStore
	Auth       extensions.AuthProvider
	Audit      extensions.AuditLogger
}

// SetupRoutes mounts the full endpoint surface.
//
// /health and /metrics are unauthenticated; everything under /v1/ollama
// passes through the auth middleware. Admin enforcement happens inside the
// handlers so a denial produces the gateway's error shape, not a bare 403.
func SetupRoutes(router *gin.Engine, svc Services) {
	audit := svc.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}

	router.GET("/health", handlers.HandleHealth(svc.Clients))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1/ollama")
	v1.Use(middleware.AuthMiddleware(svc.Auth))
	{
		v1.POST("/chat", handlers.HandleChat(svc.Dispatcher, svc.Gate, svc.Clients, audit))
		v1.POST("/generate", handlers.HandleGenerate(svc.Dispatcher, svc.Gate, svc.Clients, audit))
		v1.POST("/embeddings", handlers.HandleEmbeddings(svc.Dispatcher, svc.Gate, audit))

		v1.GET("/tags", handlers.HandleTags(svc.Clients, svc.Settings))
		v1.GET("/model/:modelName", handlers.HandleModelDetails(svc.Clients))
		v1.POST("/validate", handlers.HandleValidate(svc.Clients))
		v1.GET("/recommended", handlers.HandleRecommended())
		v1.GET("/test-connection", handlers.HandleTestConnection(svc.Clients))

		// Admin model management
		v1.POST("/pull", handlers.HandlePull(svc.Clients, svc.Gate, audit))
		v1.DELETE("/model", handlers.HandleDeleteModel(svc.Clients, svc.Gate, audit))
		v1.POST("/copy", handlers.HandleCopyModel(svc.Clients, svc.Gate, audit))

		// Company settings
		v1.GET("/settings", handlers.HandleGetSettings(svc.Settings))
		v1.PUT("/settings", handlers.HandleUpdateSettings(svc.Settings, svc.Gate, audit))

		// Usage analytics
		analytics := v1.Group("/analytics")
		{
			analytics.GET("/usage", handlers.HandleUsageAnalytics(svc.Usage))
			analytics.GET("/model/:modelName", handlers.HandleModelAnalytics(svc.Usage))
			analytics.GET("/overview", handlers.HandleOverviewAnalytics(svc.Usage))
		}
	}
}
