package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

const (
	anthropicBaseURL          = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion       = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
	anthropicTimeout          = 120 * time.Second
)

// AnthropicExecutor answers fallback calls through the Anthropic Messages
// API. The API has no official Go SDK in this stack, so the wire format is
// spoken directly.
type AnthropicExecutor struct {
	httpClient *http.Client
	baseURL    string
}

var _ Executor = (*AnthropicExecutor)(nil)

// NewAnthropicExecutor creates an executor against the public Anthropic API.
func NewAnthropicExecutor() *AnthropicExecutor {
	return &AnthropicExecutor{
		httpClient: &http.Client{Timeout: anthropicTimeout},
		baseURL:    anthropicBaseURL,
	}
}

// Provider returns "anthropic".
func (*AnthropicExecutor) Provider() string { return ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete runs one Messages API call against Anthropic.
func (a *AnthropicExecutor) Complete(ctx context.Context, creds datatypes.ProviderCredentials,
	model string, call datatypes.FallbackCall) (*Completion, error) {

	if creds.APIKey == "" {
		return nil, datatypes.E(datatypes.KindProviderError,
			"no Anthropic API key configured for this company")
	}

	payload := anthropicRequest{
		Model:     model,
		MaxTokens: anthropicDefaultMaxTokens,
	}
	payload.System, payload.Messages = splitSystemMessages(call)
	if o := call.Options; o != nil {
		payload.Temperature = o.Temperature
		payload.TopP = o.TopP
		payload.StopSequences = o.Stop
		if o.NumPredict != nil && *o.NumPredict > 0 {
			payload.MaxTokens = *o.NumPredict
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", creds.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"anthropic request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"failed to read anthropic response")
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"failed to parse anthropic response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, datatypes.E(datatypes.KindProviderError,
			"anthropic returned status %d: %s", resp.StatusCode, msg)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Completion{Text: text.String(), Tokens: parsed.Usage.OutputTokens}, nil
}

// splitSystemMessages lifts system turns into the dedicated system field and
// maps the rest onto the Messages API's user/assistant alternation. Tool
// turns become user turns; the Messages API accepts no other roles here.
func splitSystemMessages(call datatypes.FallbackCall) (string, []anthropicMessage) {
	if len(call.Messages) == 0 {
		return "", []anthropicMessage{{Role: "user", Content: call.Prompt}}
	}

	var system strings.Builder
	messages := make([]anthropicMessage, 0, len(call.Messages))
	for _, m := range call.Messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			messages = append(messages, anthropicMessage{Role: "assistant", Content: m.Content})
		default:
			messages = append(messages, anthropicMessage{Role: "user", Content: m.Content})
		}
	}
	return system.String(), messages
}
