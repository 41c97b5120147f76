package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/dispatch"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/ollama"
	"github.com/weam-ai/ollama-gateway/services/permissions"
)

// HandleChat serves POST /chat, blocking and streaming.
//
// Order is fixed: permission gate, then connectivity probe, then dispatch.
// A probe failure surfaces immediately as ProviderUnavailable; only a
// dispatcher failure can trigger the fallback chain.
func HandleChat(dispatcher *dispatch.Service, gate *permissions.Gate,
	clients *ollama.ClientCache, audit extensions.AuditLogger) gin.HandlerFunc {

	return func(c *gin.Context) {
		const endpoint = "chat"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		var req datatypes.ChatRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeError(c, endpoint, err)
			return
		}

		ctx := c.Request.Context()
		if !gate.CheckUserPermission(ctx, ident.UserID, ident.CompanyID, req.Model) {
			auditEvent(c, audit, "permission.denied", ident, endpoint, req.Model, "denied")
			writeError(c, endpoint, datatypes.E(datatypes.KindPermissionDenied,
				"user is not permitted to invoke model %q", req.Model))
			return
		}
		if err := clients.For(req.BaseURL).Probe(ctx); err != nil {
			writeError(c, endpoint, err)
			return
		}

		if req.Stream {
			streamResponse(c, endpoint, dispatcher.ChatStream(ctx, *ident, req))
			return
		}
		result, err := dispatcher.Chat(ctx, *ident, req)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		finishInvocation(c, endpoint, datatypes.ActionChat, result)
	}
}

// HandleGenerate serves POST /generate. Same contract as HandleChat applied
// to a single prompt.
func HandleGenerate(dispatcher *dispatch.Service, gate *permissions.Gate,
	clients *ollama.ClientCache, audit extensions.AuditLogger) gin.HandlerFunc {

	return func(c *gin.Context) {
		const endpoint = "generate"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		var req datatypes.GenerateRequest
		if !bindJSON(c, endpoint, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeError(c, endpoint, err)
			return
		}

		ctx := c.Request.Context()
		if !gate.CheckUserPermission(ctx, ident.UserID, ident.CompanyID, req.Model) {
			auditEvent(c, audit, "permission.denied", ident, endpoint, req.Model, "denied")
			writeError(c, endpoint, datatypes.E(datatypes.KindPermissionDenied,
				"user is not permitted to invoke model %q", req.Model))
			return
		}
		if err := clients.For(req.BaseURL).Probe(ctx); err != nil {
			writeError(c, endpoint, err)
			return
		}

		if req.Stream {
			streamResponse(c, endpoint, dispatcher.GenerateStream(ctx, *ident, req))
			return
		}
		result, err := dispatcher.Generate(ctx, *ident, req)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		finishInvocation(c, endpoint, datatypes.ActionGenerate, result)
	}
}

// finishInvocation counts a finished blocking invocation and writes the
// result body.
func finishInvocation(c *gin.Context, endpoint string, action datatypes.Action,
	result *datatypes.InvocationResult) {

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
		if result.FellBack {
			m.RecordFallback(result.Provider)
			m.RecordTokens(string(action.Fallback()), result.Model, result.TokenCount)
		} else {
			m.RecordTokens(string(action), result.Model, result.TokenCount)
		}
	}
	c.JSON(http.StatusOK, result)
}
