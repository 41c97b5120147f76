package routes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/dispatch"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/ollama"
	"github.com/weam-ai/ollama-gateway/services/permissions"
	"github.com/weam-ai/ollama-gateway/services/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	datatypes.RegisterValidations()
	observability.InitMetrics()
	m.Run()
}

// tokenAuth maps bearer tokens onto fixed identities; unknown tokens fail
// with ErrUnauthorized.
type tokenAuth struct {
	idents map[string]*extensions.Identity
}

func (a *tokenAuth) Validate(_ context.Context, token string) (*extensions.Identity, error) {
	if ident, ok := a.idents[token]; ok {
		return ident, nil
	}
	return nil, extensions.ErrUnauthorized
}

const (
	adminToken  = "admin-token"
	memberToken = "member-token"
	viewerToken = "viewer-token"
)

// mockDaemon serves the subset of the Ollama API the router tests exercise.
func mockDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[
				{"name":"llama3.1:8b","size":4700000000,"details":{"family":"llama"}},
				{"name":"mistral:7b","size":4100000000,"details":{"family":"mistral"}}
			]}`))
		case "/api/chat":
			var req struct {
				Stream bool `json:"stream"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Stream {
				w.Header().Set("Content-Type", "application/x-ndjson")
				_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Hel"},"done":false}` + "\n"))
				_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"lo"},"done":false}` + "\n"))
				_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true,"eval_count":2}` + "\n"))
				return
			}
			_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"hi there"},"done":true,"eval_count":12}`))
		case "/api/generate":
			_, _ = w.Write([]byte(`{"model":"mistral:7b","response":"four","done":true,"eval_count":3}`))
		case "/api/embeddings":
			_, _ = w.Write([]byte(`{"embedding":[0.1,0.2]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// memAudit collects audit events for assertions.
type memAudit struct {
	mu     sync.Mutex
	events []extensions.AuditEvent
}

func (a *memAudit) Log(_ context.Context, event extensions.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) byType(eventType string) []extensions.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []extensions.AuditEvent
	for _, e := range a.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// newTestRouter wires the full route table against an in-memory store and
// the given daemon, with three seeded users: an admin, a member holding the
// use_ollama capability, and a viewer holding nothing.
func newTestRouter(t *testing.T, daemonURL string) (*gin.Engine, *memAudit) {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	settings := store.NewSettingsStore(db)
	users := store.NewUserStore(db)
	usage := store.NewUsageStore(db)

	require.NoError(t, settings.EnsureCompany(ctx, "acme"))
	require.NoError(t, users.Put(ctx, store.UserRecord{
		UserID: "admin1", CompanyID: "acme", Role: "admin",
	}))
	require.NoError(t, users.Put(ctx, store.UserRecord{
		UserID: "member1", CompanyID: "acme", Role: "user",
		Capabilities: []string{store.CapabilityUseOllama},
	}))
	require.NoError(t, users.Put(ctx, store.UserRecord{
		UserID: "viewer1", CompanyID: "acme", Role: "user",
	}))

	clients := ollama.NewClientCache(daemonURL, 2*time.Second)
	audit := &memAudit{}
	router := gin.New()
	SetupRoutes(router, Services{
		Clients:    clients,
		Dispatcher: dispatch.NewService(clients, settings, usage, nil),
		Gate:       permissions.NewGate(users, settings),
		Settings:   settings,
		Usage:      usage,
		Auth: &tokenAuth{idents: map[string]*extensions.Identity{
			adminToken:  {UserID: "admin1", CompanyID: "acme"},
			memberToken: {UserID: "member1", CompanyID: "acme"},
			viewerToken: {UserID: "viewer1", CompanyID: "acme"},
		}},
		Audit: audit,
	})
	return router, audit
}

func do(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodGet, "/v1/ollama/tags", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeBody(t, rec)["code"])

	rec = do(router, http.MethodGet, "/v1/ollama/tags", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["modelCount"])
	assert.Contains(t, body, "responseTime")
}

func TestHealth_DaemonDown(t *testing.T) {
	router, _ := newTestRouter(t, "http://127.0.0.1:1")

	rec := do(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["suggestions"])
}

func TestChat_EndToEnd(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/chat", memberToken, gin.H{
		"model":    "llama3.1:8b",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result datatypes.InvocationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "hi there", result.Text)
	assert.Equal(t, 12, result.TokenCount)
	assert.Equal(t, datatypes.ProviderOllama, result.Provider)
}

func TestChat_PermissionDenied(t *testing.T) {
	router, audit := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/chat", viewerToken, gin.H{
		"model":    "llama3.1:8b",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(datatypes.KindPermissionDenied), decodeBody(t, rec)["code"])

	denials := audit.byType("permission.denied")
	require.Len(t, denials, 1)
	assert.Equal(t, "viewer1", denials[0].UserID)
	assert.Equal(t, "llama3.1:8b", denials[0].Resource)
}

func TestChat_ValidationFailure(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/chat", memberToken, gin.H{
		"model":    "not a model name",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(datatypes.KindValidation), decodeBody(t, rec)["code"])
}

func TestChat_DaemonDownSurfacesUnavailable(t *testing.T) {
	router, _ := newTestRouter(t, "http://127.0.0.1:1")

	rec := do(router, http.MethodPost, "/v1/ollama/chat", memberToken, gin.H{
		"model":    "llama3.1:8b",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(datatypes.KindProviderUnavailable), decodeBody(t, rec)["code"])
}

func TestChat_Streaming(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/chat", memberToken, gin.H{
		"model":    "llama3.1:8b",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
		"stream":   true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/x-ndjson")

	// Pin the wire keys: every frame carries the same text field the
	// non-streaming result uses, plus the done marker.
	var content strings.Builder
	var sawDone bool
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame))
		require.Contains(t, frame, "text", "frame %s", scanner.Text())
		text, ok := frame["text"].(string)
		require.True(t, ok)
		content.WriteString(text)
		if done, _ := frame["done"].(bool); done {
			sawDone = true
		}
	}
	assert.Equal(t, "Hello", content.String())
	assert.True(t, sawDone)
}

func TestGenerate_EndToEnd(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/generate", memberToken, gin.H{
		"model":  "mistral:7b",
		"prompt": "what is 2+2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result datatypes.InvocationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "four", result.Text)
}

func TestEmbeddings_EndToEnd(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/embeddings", memberToken, gin.H{
		"model": "nomic-embed-text",
		"input": "hello world",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["embeddings"], 2)
}

// A non-admin PUT must be rejected before anything is written: the follow-up
// GET still sees the defaults.
func TestSettings_NonAdminUpdateRejectedAndUnchanged(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPut, "/v1/ollama/settings", memberToken, gin.H{
		"settings": gin.H{"allowedModels": []string{"llama3.1:8b"}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(datatypes.KindAdminRequired), decodeBody(t, rec)["code"])

	rec = do(router, http.MethodGet, "/v1/ollama/settings", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	settings, ok := body["settings"].(map[string]any)
	require.True(t, ok)
	assert.Empty(t, settings["allowedModels"], "rejected update must not persist")
}

func TestSettings_AdminUpdateRoundTrip(t *testing.T) {
	router, audit := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPut, "/v1/ollama/settings", adminToken, gin.H{
		"settings": gin.H{"allowedModels": []string{"llama3.1:8b"}, "maxConcurrentRequests": 3},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, audit.byType("settings.updated"), 1)

	rec = do(router, http.MethodGet, "/v1/ollama/settings", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decodeBody(t, rec)["settings"].(map[string]any)
	assert.Equal(t, []any{"llama3.1:8b"}, settings["allowedModels"])
	assert.Equal(t, float64(3), settings["maxConcurrentRequests"])
}

func TestTags_AllowListFilters(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodGet, "/v1/ollama/tags", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"], "no allow-list admits everything")

	rec = do(router, http.MethodPut, "/v1/ollama/settings", adminToken, gin.H{
		"settings": gin.H{"allowedModels": []string{"llama3.1:8b"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/v1/ollama/tags", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	models := body["models"].([]any)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3.1:8b", models[0].(map[string]any)["name"])
}

func TestValidate(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/validate", memberToken, gin.H{
		"model": "llama3.1:8b",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["exists"])

	rec = do(router, http.MethodPost, "/v1/ollama/validate", memberToken, gin.H{
		"model": "ghost",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["exists"])
	assert.Len(t, body["availableModels"], 2)
}

func TestValidate_DaemonDown(t *testing.T) {
	router, _ := newTestRouter(t, "http://127.0.0.1:1")

	rec := do(router, http.MethodPost, "/v1/ollama/validate", memberToken, gin.H{
		"model": "llama3.1:8b",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["error"])
}

func TestRecommended(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodGet, "/v1/ollama/recommended", viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["models"])
}

func TestTestConnection_Unreachable(t *testing.T) {
	router, _ := newTestRouter(t, "http://127.0.0.1:1")

	rec := do(router, http.MethodGet, "/v1/ollama/test-connection", memberToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["suggestions"])
}

func TestAdminEndpointsRejectNonAdmin(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/v1/ollama/pull", gin.H{"model": "mistral:7b"}},
		{http.MethodDelete, "/v1/ollama/model", gin.H{"model": "mistral:7b"}},
		{http.MethodPost, "/v1/ollama/copy", gin.H{"source": "mistral:7b", "destination": "mine:7b"}},
	} {
		rec := do(router, tc.method, tc.path, memberToken, tc.body)
		assert.Equal(t, http.StatusForbidden, rec.Code, tc.path)
		assert.Equal(t, string(datatypes.KindAdminRequired), decodeBody(t, rec)["code"], tc.path)
	}
}

func TestAnalyticsOverviewReflectsUsage(t *testing.T) {
	router, _ := newTestRouter(t, mockDaemon(t).URL)

	rec := do(router, http.MethodPost, "/v1/ollama/chat", memberToken, gin.H{
		"model":    "llama3.1:8b",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The ledger write is asynchronous; poll until it lands.
	require.Eventually(t, func() bool {
		rec := do(router, http.MethodGet, "/v1/ollama/analytics/overview", memberToken, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		overview, ok := decodeBody(t, rec)["overview"].(map[string]any)
		return ok && overview["totalRequests"] == float64(1)
	}, 2*time.Second, 20*time.Millisecond)

	rec = do(router, http.MethodGet, "/v1/ollama/analytics/usage?timeRange=24h", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["totalRequests"])
	assert.Equal(t, float64(12), stats["totalTokens"])
}
