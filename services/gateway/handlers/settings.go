package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/permissions"
	"github.com/weam-ai/ollama-gateway/services/store"
)

// HandleGetSettings serves GET /settings: the company's configuration, or
// the documented defaults when nothing has been stored yet.
func HandleGetSettings(settings *store.SettingsStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "settings_get"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		current, err := settings.Get(c.Request.Context(), ident.CompanyID)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "settings": current})
	}
}

// HandleUpdateSettings serves PUT /settings (admin): shallow-merge a patch
// over the stored document. A non-admin gets 403 before any read or write
// happens.
func HandleUpdateSettings(settings *store.SettingsStore, gate *permissions.Gate,
	audit extensions.AuditLogger) gin.HandlerFunc {

	return func(c *gin.Context) {
		const endpoint = "settings_update"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		if !gate.CheckAdminPermission(c.Request.Context(), ident.UserID, ident.CompanyID) {
			auditEvent(c, audit, "permission.denied", ident, endpoint, "settings", "denied")
			writeError(c, endpoint, datatypes.E(datatypes.KindAdminRequired,
				"updating Ollama settings requires admin permission"))
			return
		}

		var req datatypes.SettingsUpdateRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}
		updated, err := settings.Update(c.Request.Context(), ident.CompanyID, req.Settings)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		auditEvent(c, audit, "settings.updated", ident, endpoint, "settings", "allowed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "settings": updated})
	}
}
