package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/ollama"
)

var testIdent = extensions.Identity{UserID: "u1", CompanyID: "acme"}

type memSink struct {
	mu   sync.Mutex
	recs []datatypes.UsageRecord
}

func (m *memSink) Append(_ context.Context, rec datatypes.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memSink) records() []datatypes.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]datatypes.UsageRecord(nil), m.recs...)
}

// waitForRecords blocks until the fire-and-forget ledger write lands.
func waitForRecords(t *testing.T, sink *memSink, n int) []datatypes.UsageRecord {
	t.Helper()
	require.Eventually(t, func() bool { return len(sink.records()) >= n },
		2*time.Second, 10*time.Millisecond)
	return sink.records()
}

type fixedSettings struct {
	settings datatypes.CompanyOllamaSettings
	err      error
}

func (f fixedSettings) Get(context.Context, string) (datatypes.CompanyOllamaSettings, error) {
	return f.settings, f.err
}

type mockFallback struct {
	mu     sync.Mutex
	calls  []datatypes.FallbackCall
	result *datatypes.InvocationResult
	err    error
}

func (m *mockFallback) Execute(_ context.Context, call datatypes.FallbackCall) (*datatypes.InvocationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.result, m.err
}

func (m *mockFallback) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestService(baseURL string, settings datatypes.CompanyOllamaSettings,
	sink *memSink, fb FallbackRunner) *Service {

	return NewService(ollama.NewClientCache(baseURL, 2*time.Second),
		fixedSettings{settings: settings}, sink, fb)
}

func TestChat_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var body struct {
			Model   string         `json:"model"`
			Stream  bool           `json:"stream"`
			Options map[string]any `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3.1:8b", body.Model)
		assert.False(t, body.Stream)
		assert.InDelta(t, 0.2, body.Options["temperature"], 1e-9, "caller override wins")
		assert.InDelta(t, 0.9, body.Options["top_p"], 1e-9, "unset knob keeps its default")

		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"hi there"},"done":true,"eval_count":12,"prompt_eval_count":30}`))
	}))
	defer srv.Close()

	sink := &memSink{}
	svc := newTestService(srv.URL, datatypes.DefaultCompanySettings(), sink, nil)

	temp := 0.2
	result, err := svc.Chat(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
		Options:  &datatypes.SamplingOptions{Temperature: &temp},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi there", result.Text)
	assert.Equal(t, 12, result.TokenCount)
	assert.Equal(t, datatypes.ProviderOllama, result.Provider)
	assert.False(t, result.FellBack)
	assert.NotEmpty(t, result.Raw)

	recs := waitForRecords(t, sink, 1)
	assert.Equal(t, datatypes.ActionChat, recs[0].Action)
	assert.Equal(t, "u1", recs[0].UserID)
	assert.Equal(t, "acme", recs[0].CompanyID)
	assert.Equal(t, 12, recs[0].Tokens)
	assert.True(t, recs[0].Success)
}

func TestChat_FallsBackWhenDaemonUnreachable(t *testing.T) {
	t.Parallel()
	fb := &mockFallback{result: &datatypes.InvocationResult{
		Success:       true,
		Text:          "fallback answer",
		TokenCount:    7,
		Provider:      "openai",
		Model:         "gpt-4o-mini",
		FellBack:      true,
		OriginalModel: "llama3.1:8b",
		OriginalError: "connection refused",
	}}
	sink := &memSink{}
	// Nothing listens on port 1; the dial fails immediately.
	svc := newTestService("http://127.0.0.1:1", datatypes.DefaultCompanySettings(), sink, fb)

	result, err := svc.Chat(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.True(t, result.FellBack)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, "llama3.1:8b", result.OriginalModel)

	require.Equal(t, 1, fb.callCount())
	call := fb.calls[0]
	assert.Equal(t, "llama3.1:8b", call.Model)
	assert.Equal(t, datatypes.ActionChat, call.Action)
	assert.Error(t, call.Cause)

	recs := waitForRecords(t, sink, 1)
	assert.Equal(t, datatypes.ActionChat.Fallback(), recs[0].Action)
	assert.Equal(t, "openai", recs[0].FallbackProvider)
	assert.Equal(t, "gpt-4o-mini", recs[0].Model)
	assert.True(t, recs[0].Success)
}

func TestChat_NoFallbackWhenDisabled(t *testing.T) {
	t.Parallel()
	fb := &mockFallback{}
	settings := datatypes.DefaultCompanySettings()
	settings.Fallback.Enabled = false
	sink := &memSink{}
	svc := newTestService("http://127.0.0.1:1", settings, sink, fb)

	_, err := svc.Chat(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindProviderUnavailable, datatypes.KindOf(err))
	assert.Equal(t, 0, fb.callCount())

	recs := waitForRecords(t, sink, 1)
	assert.False(t, recs[0].Success)
}

func TestChat_DaemonErrorAlsoTriggersFallback(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	fb := &mockFallback{result: &datatypes.InvocationResult{
		Success:  true,
		Text:     "served elsewhere",
		Provider: "anthropic",
		Model:    "claude-3-5-haiku-latest",
		FellBack: true,
	}}
	sink := &memSink{}
	svc := newTestService(srv.URL, datatypes.DefaultCompanySettings(), sink, fb)

	result, err := svc.Chat(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "nope",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.True(t, result.FellBack)
	require.Equal(t, 1, fb.callCount())
	assert.Equal(t, datatypes.KindProviderError, datatypes.KindOf(fb.calls[0].Cause))

	waitForRecords(t, sink, 1)
}

func TestChat_CancelledContextDoesNotFallBack(t *testing.T) {
	t.Parallel()
	fb := &mockFallback{}
	sink := &memSink{}
	svc := newTestService("http://127.0.0.1:1", datatypes.DefaultCompanySettings(), sink, fb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Chat(ctx, testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fb.callCount())
}

func TestChat_FallbackExhaustedSurfacesCombinedError(t *testing.T) {
	t.Parallel()
	combined := datatypes.E(datatypes.KindNoFallback, "no fallback provider could serve the request")
	fb := &mockFallback{err: combined}
	sink := &memSink{}
	svc := newTestService("http://127.0.0.1:1", datatypes.DefaultCompanySettings(), sink, fb)

	_, err := svc.Chat(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindNoFallback, datatypes.KindOf(err))

	// The attempt still shows up in the ledger under the fallback action,
	// so analytics can tell a failed fallback from a primary-only failure.
	recs := waitForRecords(t, sink, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, datatypes.ActionChat.Fallback(), recs[0].Action)
	assert.Empty(t, recs[0].FallbackProvider)
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		_, _ = w.Write([]byte(`{"model":"mistral:7b","response":"four","done":true,"eval_count":3}`))
	}))
	defer srv.Close()

	sink := &memSink{}
	svc := newTestService(srv.URL, datatypes.DefaultCompanySettings(), sink, nil)

	result, err := svc.Generate(context.Background(), testIdent, datatypes.GenerateRequest{
		Model:  "mistral:7b",
		Prompt: "what is 2+2",
	})
	require.NoError(t, err)
	assert.Equal(t, "four", result.Text)
	assert.Equal(t, 3, result.TokenCount)

	recs := waitForRecords(t, sink, 1)
	assert.Equal(t, datatypes.ActionGenerate, recs[0].Action)
}

func TestChatStream_DeliversChunksAndRecordsAfterDrain(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"Hel"},"done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"lo"},"done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2}` + "\n"))
	}))
	defer srv.Close()

	sink := &memSink{}
	svc := newTestService(srv.URL, datatypes.DefaultCompanySettings(), sink, nil)

	handle := svc.ChatStream(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	})

	var got string
	var sawDone bool
	for chunk := range handle.Chunks() {
		got += chunk.Text
		if chunk.Done {
			sawDone = true
		}
	}
	require.NoError(t, handle.Err())
	assert.Equal(t, "Hello", got)
	assert.True(t, sawDone)

	recs := waitForRecords(t, sink, 1)
	assert.Equal(t, datatypes.ActionChat.Stream(), recs[0].Action)
	assert.Equal(t, 2, recs[0].Tokens)
	assert.True(t, recs[0].Success)
}

func TestChatStream_DaemonUnreachable(t *testing.T) {
	t.Parallel()
	sink := &memSink{}
	svc := newTestService("http://127.0.0.1:1", datatypes.DefaultCompanySettings(), sink, nil)

	handle := svc.ChatStream(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	for range handle.Chunks() {
	}
	err := handle.Err()
	require.Error(t, err)
	assert.True(t, datatypes.IsUnavailable(err))

	recs := waitForRecords(t, sink, 1)
	assert.False(t, recs[0].Success)
}

func TestEmbeddings_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	sink := &memSink{}
	svc := newTestService(srv.URL, datatypes.DefaultCompanySettings(), sink, nil)

	result, err := svc.Embeddings(context.Background(), testIdent, datatypes.EmbeddingsRequest{
		Model: "nomic-embed-text",
		Input: "hello world",
	})
	require.NoError(t, err)
	assert.Len(t, result.Embedding, 3)

	recs := waitForRecords(t, sink, 1)
	assert.Equal(t, datatypes.ActionEmbeddings, recs[0].Action)
	assert.Positive(t, recs[0].Tokens)
}

func TestRecover_SettingsErrorSurfacesOriginalFailure(t *testing.T) {
	t.Parallel()
	fb := &mockFallback{}
	sink := &memSink{}
	svc := NewService(ollama.NewClientCache("http://127.0.0.1:1", time.Second),
		fixedSettings{err: errors.New("store offline")}, sink, fb)

	_, err := svc.Chat(context.Background(), testIdent, datatypes.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, datatypes.IsUnavailable(err))
	assert.Equal(t, 0, fb.callCount())
}

func TestBuildOptions(t *testing.T) {
	t.Parallel()

	defaults := buildOptions(nil)
	assert.Equal(t, 0.7, defaults["temperature"])
	assert.Equal(t, 0.9, defaults["top_p"])
	assert.Equal(t, 40, defaults["top_k"])
	assert.Equal(t, 1.1, defaults["repeat_penalty"])
	_, hasStop := defaults["stop"]
	assert.False(t, hasStop)

	temp, topK, numPredict := 0.1, 5, 256
	merged := buildOptions(&datatypes.SamplingOptions{
		Temperature: &temp,
		TopK:        &topK,
		NumPredict:  &numPredict,
		Stop:        []string{"\n\n"},
	})
	assert.Equal(t, 0.1, merged["temperature"])
	assert.Equal(t, 5, merged["top_k"])
	assert.Equal(t, 0.9, merged["top_p"], "unset knob keeps its default")
	assert.Equal(t, 256, merged["num_predict"])
	assert.Equal(t, []string{"\n\n"}, merged["stop"])
}

func TestEstimator(t *testing.T) {
	t.Parallel()
	e := NewEstimator()
	assert.Zero(t, e.Estimate(""))
	short := e.Estimate("hello")
	long := e.Estimate("hello world, this is a considerably longer sentence for counting")
	assert.Positive(t, short)
	assert.Greater(t, long, short)
}
