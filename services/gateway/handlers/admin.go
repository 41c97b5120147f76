package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/ollama"
	"github.com/weam-ai/ollama-gateway/services/permissions"
)

// requireAdmin runs the admin gate, writing the AdminRequired failure when
// it denies. The gate fails closed, so a lookup error also lands here.
func requireAdmin(c *gin.Context, endpoint string, gate *permissions.Gate,
	audit extensions.AuditLogger) (*extensions.Identity, bool) {

	ident, ok := requireIdentity(c)
	if !ok {
		return nil, false
	}
	if !gate.CheckAdminPermission(c.Request.Context(), ident.UserID, ident.CompanyID) {
		auditEvent(c, audit, "permission.denied", ident, endpoint, "admin", "denied")
		writeError(c, endpoint, datatypes.E(datatypes.KindAdminRequired,
			"this operation requires Ollama admin permission"))
		return nil, false
	}
	return ident, true
}

// HandlePull serves POST /pull (admin): download a model onto the daemon.
// Blocking; the daemon reports completion in one response.
func HandlePull(clients *ollama.ClientCache, gate *permissions.Gate,
	audit extensions.AuditLogger) gin.HandlerFunc {

	return func(c *gin.Context) {
		const endpoint = "pull"
		ident, ok := requireAdmin(c, endpoint, gate, audit)
		if !ok {
			return
		}
		var req datatypes.ModelActionRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}
		if err := clients.For(req.BaseURL).Pull(c.Request.Context(), req.Model); err != nil {
			writeError(c, endpoint, err)
			return
		}
		auditEvent(c, audit, "model.pulled", ident, endpoint, req.Model, "allowed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("model %q pulled", req.Model),
			"model":   req.Model,
		})
	}
}

// HandleDeleteModel serves DELETE /model (admin).
func HandleDeleteModel(clients *ollama.ClientCache, gate *permissions.Gate,
	audit extensions.AuditLogger) gin.HandlerFunc {

	return func(c *gin.Context) {
		const endpoint = "delete_model"
		ident, ok := requireAdmin(c, endpoint, gate, audit)
		if !ok {
			return
		}
		var req datatypes.ModelActionRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}
		if err := clients.For(req.BaseURL).Delete(c.Request.Context(), req.Model); err != nil {
			writeError(c, endpoint, err)
			return
		}
		auditEvent(c, audit, "model.deleted", ident, endpoint, req.Model, "allowed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("model %q deleted", req.Model),
		})
	}
}

// HandleCopyModel serves POST /copy (admin): duplicate a model under a new
// name on the daemon.
func HandleCopyModel(clients *ollama.ClientCache, gate *permissions.Gate,
	audit extensions.AuditLogger) gin.HandlerFunc {

	return func(c *gin.Context) {
		const endpoint = "copy_model"
		ident, ok := requireAdmin(c, endpoint, gate, audit)
		if !ok {
			return
		}
		var req datatypes.CopyModelRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}
		if err := clients.For(req.BaseURL).Copy(c.Request.Context(), req.Source, req.Destination); err != nil {
			writeError(c, endpoint, err)
			return
		}
		auditEvent(c, audit, "model.copied", ident, endpoint, req.Source, "allowed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("model %q copied to %q", req.Source, req.Destination),
		})
	}
}
