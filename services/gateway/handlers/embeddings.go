package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/dispatch"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/permissions"
)

// HandleEmbeddings serves POST /embeddings: one blocking vector per input
// string. No probe, no streaming variant, no fallback.
func HandleEmbeddings(dispatcher *dispatch.Service, gate *permissions.Gate,
	audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "embeddings"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		var req datatypes.EmbeddingsRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}

		ctx := c.Request.Context()
		if !gate.CheckUserPermission(ctx, ident.UserID, ident.CompanyID, req.Model) {
			auditEvent(c, audit, "permission.denied", ident, endpoint, req.Model, "denied")
			writeError(c, endpoint, datatypes.E(datatypes.KindPermissionDenied,
				"user is not permitted to invoke model %q", req.Model))
			return
		}

		result, err := dispatcher.Embeddings(ctx, *ident, req)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"embeddings": result.Embedding,
			"model":      result.Model,
			"provider":   result.Provider,
		})
	}
}
