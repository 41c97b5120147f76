package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Result is the outcome of one blocking chat or generate call, carrying the
// daemon's token accounting and the raw payload for pass-through.
type Result struct {
	Content         string
	Model           string
	DoneReason      string
	EvalCount       int
	PromptEvalCount int
	TotalDuration   int64
	Raw             json.RawMessage
}

// Chat issues one blocking chat call. The message list is sent to the
// daemon exactly as given: no reordering, no truncation.
func (c *Client) Chat(ctx context.Context, model string, messages []datatypes.Message,
	options map[string]any) (*Result, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("ollama.model", model),
		attribute.Int("ollama.num_messages", len(messages)),
	)
	slog.Debug("Dispatching chat to Ollama", "model", model, "base_url", c.baseURL)

	payload := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}
	raw, err := c.callRaw(ctx, "/api/chat", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"failed to parse chat response")
	}
	if resp.Message.Role != "assistant" {
		slog.Warn("Ollama chat response role was not 'assistant'", "role", resp.Message.Role)
	}
	return &Result{
		Content:         resp.Message.Content,
		Model:           resp.Model,
		DoneReason:      resp.DoneReason,
		EvalCount:       resp.EvalCount,
		PromptEvalCount: resp.PromptEvalCount,
		TotalDuration:   resp.TotalDuration,
		Raw:             raw,
	}, nil
}

// Generate issues one blocking single-prompt completion call.
func (c *Client) Generate(ctx context.Context, model, prompt string,
	options map[string]any) (*Result, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.model", model))
	slog.Debug("Dispatching generate to Ollama", "model", model, "base_url", c.baseURL)

	payload := generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	}
	raw, err := c.callRaw(ctx, "/api/generate", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"failed to parse generate response")
	}
	return &Result{
		Content:         resp.Response,
		Model:           resp.Model,
		DoneReason:      resp.DoneReason,
		EvalCount:       resp.EvalCount,
		PromptEvalCount: resp.PromptEvalCount,
		TotalDuration:   resp.TotalDuration,
		Raw:             raw,
	}, nil
}

// callRaw posts the payload and returns the raw 200 body, with transport
// and daemon errors classified.
func (c *Client) callRaw(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err, "POST "+path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"failed to read daemon response from %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(raw)
		if jsonErr := json.Unmarshal(raw, &e); jsonErr == nil && e.Error != "" {
			msg = e.Error
		}
		slog.Error("Ollama daemon returned an error",
			"path", path, "status_code", resp.StatusCode, "response", msg)
		return nil, datatypes.E(datatypes.KindProviderError,
			"ollama returned status %d: %s", resp.StatusCode, msg)
	}
	return raw, nil
}
