package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/ollama"
	"github.com/weam-ai/ollama-gateway/services/store"
)

// HandleTags serves GET /tags: the daemon's live model list, filtered to
// the company allow-list when one is configured. Never cached.
func HandleTags(clients *ollama.ClientCache, settings *store.SettingsStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "tags"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		client := clients.For(c.Query("baseUrl"))

		models, err := client.ListModels(ctx)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}

		companySettings, err := settings.Get(ctx, ident.CompanyID)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		if len(companySettings.AllowedModels) > 0 {
			filtered := models[:0]
			for _, m := range models {
				if companySettings.AllowsModel(m.Name) {
					filtered = append(filtered, m)
				}
			}
			models = filtered
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"models":    models,
			"count":     len(models),
			"ollamaUrl": client.BaseURL(),
		})
	}
}

// HandleModelDetails serves GET /model/:modelName with the extended
// descriptor (format, architecture). Daemon errors propagate verbatim.
func HandleModelDetails(clients *ollama.ClientCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "model_details"
		if _, ok := requireIdentity(c); !ok {
			return
		}
		details, err := clients.For(c.Query("baseUrl")).
			ShowModel(c.Request.Context(), c.Param("modelName"))
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "details": details})
	}
}

// HandleValidate serves POST /validate: does the named model exist at the
// endpoint. A daemon failure answers {ok:false} with 502 rather than the
// usual error shape; the caller treats this endpoint as a yes/no oracle.
func HandleValidate(clients *ollama.ClientCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "validate"
		if _, ok := requireIdentity(c); !ok {
			return
		}
		var req datatypes.ModelActionRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}

		models, err := clients.For(req.BaseURL).ListModels(c.Request.Context())
		if err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, string(datatypes.KindOf(err)))
				m.RecordRequest(endpoint, false)
			}
			c.JSON(http.StatusBadGateway, gin.H{
				"ok":     false,
				"error":  err.Error(),
				"status": http.StatusBadGateway,
			})
			return
		}

		exists := false
		available := make([]string, 0, len(models))
		for _, m := range models {
			available = append(available, m.Name)
			if m.Name == req.Model {
				exists = true
			}
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		if exists {
			c.JSON(http.StatusOK, gin.H{"ok": true, "exists": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":              true,
			"exists":          false,
			"availableModels": available,
		})
	}
}

// recommendedModel is one curated starting-point entry for companies that
// have not pulled anything yet.
type recommendedModel struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        string `json:"size"`
	Category    string `json:"category"`
}

var recommendedModels = []recommendedModel{
	{"llama3.1:8b", "General-purpose chat with strong reasoning", "4.7GB", "chat"},
	{"llama3.2:3b", "Small, fast general-purpose chat", "2.0GB", "chat"},
	{"mistral:7b", "Efficient general-purpose chat", "4.1GB", "chat"},
	{"qwen2.5:7b", "Multilingual chat and tool use", "4.7GB", "chat"},
	{"gemma2:9b", "Balanced quality and footprint", "5.4GB", "chat"},
	{"codellama:13b", "Code generation and completion", "7.4GB", "code"},
	{"deepseek-r1:7b", "Step-by-step reasoning", "4.7GB", "reasoning"},
	{"llava:7b", "Image understanding", "4.7GB", "vision"},
	{"nomic-embed-text", "Text embeddings for search and RAG", "274MB", "embeddings"},
}

// HandleRecommended serves GET /recommended: the static curated list.
func HandleRecommended() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireIdentity(c); !ok {
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest("recommended", true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "models": recommendedModels})
	}
}

// HandleTestConnection serves GET /test-connection: a probe plus model
// count, with operator suggestions on failure.
func HandleTestConnection(clients *ollama.ClientCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "test_connection"
		if _, ok := requireIdentity(c); !ok {
			return
		}
		client := clients.For(c.Query("baseUrl"))

		models, err := client.ListModels(c.Request.Context())
		if err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, string(datatypes.KindOf(err)))
				m.RecordRequest(endpoint, false)
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success":     false,
				"message":     "could not reach the Ollama endpoint",
				"error":       err.Error(),
				"url":         client.BaseURL(),
				"suggestions": connectionSuggestions(client.BaseURL()),
			})
			return
		}

		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.Name)
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"message":         "connection established",
			"url":             client.BaseURL(),
			"modelCount":      len(names),
			"availableModels": names,
		})
	}
}
