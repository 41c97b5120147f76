package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxStreamLineBytes bounds a single NDJSON line from the daemon. Lines are
// token-sized in practice; 1 MiB leaves generous headroom.
const maxStreamLineBytes = 1024 * 1024

// Delta is one incremental fragment delivered during a streamed call.
// The final delta has Done=true and carries the daemon's eval count.
type Delta struct {
	Content    string
	Done       bool
	DoneReason string
	EvalCount  int
}

// DeltaFunc receives deltas in order as the daemon produces them.
// Returning an error aborts the stream read loop.
type DeltaFunc func(Delta) error

// ChatStream issues a streaming chat call and invokes fn for each NDJSON
// fragment until the daemon signals completion.
//
// The loop honors ctx cancellation between fragments, so a transport-level
// client disconnect upstream aborts the read. The sequence is finite and
// non-restartable; callers consume it exactly once.
func (c *Client) ChatStream(ctx context.Context, model string, messages []datatypes.Message,
	options map[string]any, fn DeltaFunc) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("ollama.model", model),
		attribute.Int("ollama.num_messages", len(messages)),
	)

	payload := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  options,
	}
	err := c.readStream(ctx, "/api/chat", payload, func(line []byte) (bool, error) {
		var chunk chatStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return false, datatypes.Wrap(datatypes.KindProviderError, err,
				"malformed stream chunk")
		}
		delta := Delta{
			Content:    chunk.Message.Content,
			Done:       chunk.Done,
			DoneReason: chunk.DoneReason,
			EvalCount:  chunk.EvalCount,
		}
		if err := fn(delta); err != nil {
			return false, fmt.Errorf("stream callback failed: %w", err)
		}
		return chunk.Done, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// GenerateStream is the single-prompt equivalent of ChatStream.
func (c *Client) GenerateStream(ctx context.Context, model, prompt string,
	options map[string]any, fn DeltaFunc) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.model", model))

	payload := generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  true,
		Options: options,
	}
	err := c.readStream(ctx, "/api/generate", payload, func(line []byte) (bool, error) {
		var chunk generateStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return false, datatypes.Wrap(datatypes.KindProviderError, err,
				"malformed stream chunk")
		}
		delta := Delta{
			Content:    chunk.Response,
			Done:       chunk.Done,
			DoneReason: chunk.DoneReason,
			EvalCount:  chunk.EvalCount,
		}
		if err := fn(delta); err != nil {
			return false, fmt.Errorf("stream callback failed: %w", err)
		}
		return chunk.Done, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// readStream posts the payload and feeds each non-empty NDJSON line to
// handle until it reports done, the body ends, or ctx is cancelled.
func (c *Client) readStream(ctx context.Context, path string, payload any,
	handle func(line []byte) (done bool, err error)) error {

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	// Streaming reads must not be bounded by the blocking-call timeout;
	// the request context governs the stream's lifetime instead.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return classifyTransport(err, "POST "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return daemonError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			slog.Debug("Stream read loop aborted", "path", path, "reason", ctx.Err())
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		done, err := handle(line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return datatypes.Wrap(datatypes.KindProviderError, err,
			"stream read from %s failed", path)
	}
	// Daemon closed the stream without a done marker; treat the transport
	// end-of-stream as completion.
	return nil
}
