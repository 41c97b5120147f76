// Package handlers implements the gateway's HTTP endpoints. Each handler is
// a closure over its collaborators, mounted by the routes package.
//
// Every failure response carries a stable "code" field (the gateway error
// kind) plus a human-readable "message". The connectivity endpoints add
// actionable "suggestions" so an operator can fix an unreachable daemon
// without reading logs.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/middleware"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
)

// writeError sends a classified failure as {code, message} with the kind's
// HTTP status, and counts it.
func writeError(c *gin.Context, endpoint string, err error) {
	kind := datatypes.KindOf(err)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, string(kind))
		m.RecordRequest(endpoint, false)
	}
	c.JSON(datatypes.HTTPStatus(kind), gin.H{
		"code":    string(kind),
		"message": err.Error(),
	})
}

// requireIdentity returns the authenticated identity, aborting with 401
// when the auth middleware did not run.
func requireIdentity(c *gin.Context) (*extensions.Identity, bool) {
	ident := middleware.GetIdentity(c)
	if ident == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "Unauthorized",
			"message": "not authenticated",
		})
		return nil, false
	}
	return ident, true
}

// bindJSON binds the request body, converting binding failures into the
// gateway's validation error shape.
func bindJSON(c *gin.Context, endpoint string, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		writeError(c, endpoint, datatypes.Wrap(datatypes.KindValidation, err,
			"invalid request body"))
		return false
	}
	return true
}

// auditEvent records a security-relevant occurrence through the configured
// audit sink. Sink failures are logged and never affect the request.
func auditEvent(c *gin.Context, audit extensions.AuditLogger, eventType string,
	ident *extensions.Identity, action, resource, outcome string) {

	if audit == nil {
		return
	}
	err := audit.Log(c.Request.Context(), extensions.AuditEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		UserID:    ident.UserID,
		CompanyID: ident.CompanyID,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
	})
	if err != nil {
		slog.Warn("Failed to record audit event",
			"event_type", eventType, "user_id", ident.UserID, "error", err)
	}
}

// connectionSuggestions returns operator hints for an unreachable daemon.
func connectionSuggestions(url string) []string {
	return []string{
		"ensure the Ollama daemon is running (`ollama serve`)",
		fmt.Sprintf("verify the endpoint %q is reachable from the gateway host", url),
		"check that no firewall blocks the Ollama port (default 11434)",
	}
}
