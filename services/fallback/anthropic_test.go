package fallback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

func TestAnthropicExecutor_Complete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ant-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-haiku-latest", req.Model)
		assert.Equal(t, "be terse", req.System, "system turns move to the system field")
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "assistant", req.Messages[1].Role)
		assert.Equal(t, anthropicDefaultMaxTokens, req.MaxTokens)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"there"}],"usage":{"output_tokens":4}}`))
	}))
	defer srv.Close()

	exec := NewAnthropicExecutor()
	exec.baseURL = srv.URL

	completion, err := exec.Complete(context.Background(),
		datatypes.ProviderCredentials{APIKey: "ant-key"},
		"claude-3-5-haiku-latest",
		datatypes.FallbackCall{
			Messages: []datatypes.Message{
				{Role: "system", Content: "be terse"},
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
			},
		})
	require.NoError(t, err)
	assert.Equal(t, "hello there", completion.Text)
	assert.Equal(t, 4, completion.Tokens)
}

func TestAnthropicExecutor_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	exec := NewAnthropicExecutor()
	exec.baseURL = srv.URL

	_, err := exec.Complete(context.Background(),
		datatypes.ProviderCredentials{APIKey: "bad"},
		"claude-3-5-haiku-latest",
		datatypes.FallbackCall{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindProviderError, datatypes.KindOf(err))
	assert.Contains(t, err.Error(), "invalid x-api-key")
}

func TestAnthropicExecutor_RequiresKey(t *testing.T) {
	t.Parallel()
	exec := NewAnthropicExecutor()
	_, err := exec.Complete(context.Background(),
		datatypes.ProviderCredentials{}, "claude-3-5-haiku-latest",
		datatypes.FallbackCall{Prompt: "hi"})
	require.Error(t, err)
}

func TestOpenAIExecutor_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := OpenAIExecutor{}.Complete(context.Background(),
		datatypes.ProviderCredentials{}, "gpt-4o-mini",
		datatypes.FallbackCall{Prompt: "hi"})
	require.Error(t, err)

	_, err = AzureExecutor{}.Complete(context.Background(),
		datatypes.ProviderCredentials{APIKey: "k"}, "gpt-4o-mini",
		datatypes.FallbackCall{Prompt: "hi"})
	require.Error(t, err, "azure additionally requires an endpoint")
}
