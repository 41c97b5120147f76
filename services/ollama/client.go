// Package ollama implements the HTTP client for the Ollama daemon API:
// connectivity probing, model listing and management, blocking and
// streaming chat/generate calls, and embeddings.
//
// Failures are classified into the gateway's error taxonomy at this
// boundary: connection-class failures (refused, unresolvable) become
// ProviderUnavailable, everything else the daemon reports becomes
// ProviderError with the daemon's own message preserved verbatim. The
// distinction matters downstream — only ProviderUnavailable and
// ProviderError are eligible for fallback, and handlers map the two kinds
// to different HTTP status codes.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gateway.ollama")

// DefaultTimeout bounds non-streaming daemon calls. Exceeding it surfaces
// as a ProviderError, never a hang.
const DefaultTimeout = 180 * time.Second

// probeTimeout bounds the lightweight pre-flight connectivity check.
const probeTimeout = 5 * time.Second

// Client talks to one Ollama endpoint.
//
// # Thread Safety
//
// Safe for concurrent use: all fields are read-only after construction and
// http.Client is concurrency-safe.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the given base URL. A zero timeout uses
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// BaseURL returns the endpoint this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Probe verifies the endpoint is reachable by issuing a lightweight model
// listing call. Used as a pre-flight for chat/generate; never retried.
func (c *Client) Probe(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.Probe")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.base_url", c.baseURL))

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifyTransport(err, "probe "+c.baseURL)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return datatypes.E(datatypes.KindProviderError,
			"probe of %s returned status %d", c.baseURL, resp.StatusCode)
	}
	return nil
}

// ListModels returns the models currently available at the endpoint.
// Always live; the gateway never caches the daemon's model set.
func (c *Client) ListModels(ctx context.Context) ([]datatypes.ModelDescriptor, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.ListModels")
	defer span.End()

	var out tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	models := make([]datatypes.ModelDescriptor, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, datatypes.ModelDescriptor{
			Name:              m.Name,
			SizeBytes:         m.Size,
			Digest:            m.Digest,
			Family:            m.Details.Family,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
			Provider:          datatypes.ProviderOllama,
			ModifiedAt:        m.ModifiedAt,
		})
	}
	span.SetAttributes(attribute.Int("ollama.model_count", len(models)))
	return models, nil
}

// ShowModel returns the extended descriptor for one model, including format
// and architecture. The daemon's error message for unknown models is
// propagated verbatim inside a ProviderError.
func (c *Client) ShowModel(ctx context.Context, model string) (*datatypes.ModelDescriptor, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.ShowModel")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.model", model))

	var out showResponse
	if err := c.postJSON(ctx, "/api/show", showRequest{Model: model}, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	desc := &datatypes.ModelDescriptor{
		Name:              model,
		Family:            out.Details.Family,
		ParameterSize:     out.Details.ParameterSize,
		QuantizationLevel: out.Details.QuantizationLevel,
		Format:            out.Details.Format,
		Provider:          datatypes.ProviderOllama,
	}
	if arch, ok := out.ModelInfo["general.architecture"].(string); ok {
		desc.Architecture = arch
	}
	if size, ok := out.ModelInfo["general.size"].(float64); ok {
		desc.SizeBytes = int64(size)
	}
	return desc, nil
}

// Pull asks the daemon to download a model. The call blocks until the pull
// finishes (stream=false), so it inherits the client's full timeout.
func (c *Client) Pull(ctx context.Context, model string) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.Pull")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.model", model))

	slog.Info("Pulling model from registry", "model", model, "base_url", c.baseURL)
	var out statusResponse
	if err := c.postJSON(ctx, "/api/pull", pullRequest{Model: model, Stream: false}, &out); err != nil {
		return err
	}
	if out.Status != "success" {
		return datatypes.E(datatypes.KindProviderError,
			"pull of %q finished with status %q", model, out.Status)
	}
	return nil
}

// Delete removes a model from the daemon.
func (c *Client) Delete(ctx context.Context, model string) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.model", model))

	body, err := json.Marshal(deleteRequest{Model: model})
	if err != nil {
		return fmt.Errorf("failed to marshal delete request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err, "delete model")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return daemonError(resp)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

// Copy duplicates a model under a new name.
func (c *Client) Copy(ctx context.Context, source, destination string) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.Copy")
	defer span.End()

	return c.postJSON(ctx, "/api/copy",
		copyRequest{Source: source, Destination: destination}, nil)
}

// Embeddings computes an embedding vector for one input. No streaming
// variant, no fallback.
func (c *Client) Embeddings(ctx context.Context, model, input string) (*datatypes.EmbeddingsResult, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Embeddings")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.model", model))

	var out embeddingsResponse
	if err := c.postJSON(ctx, "/api/embeddings",
		embeddingsRequest{Model: model, Prompt: input}, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &datatypes.EmbeddingsResult{
		Embedding: out.Embedding,
		Model:     model,
		Provider:  datatypes.ProviderOllama,
	}, nil
}

// =============================================================================
// Internal helpers
// =============================================================================

// getJSON issues a GET and decodes the 200 response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	return c.do(req, out)
}

// postJSON issues a POST with a JSON body and decodes the 200 response into
// out (out may be nil when the body is not needed).
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err, req.Method+" "+req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return daemonError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return datatypes.Wrap(datatypes.KindProviderError, err,
			"failed to parse daemon response from %s", req.URL.Path)
	}
	return nil
}

// classifyTransport maps an http.Client transport error into the gateway
// taxonomy. Timeouts are daemon-side trouble (ProviderError); everything
// else at this layer means we never reached a healthy daemon
// (ProviderUnavailable).
func classifyTransport(err error, op string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return datatypes.Wrap(datatypes.KindProviderError, err, "%s timed out", op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return datatypes.Wrap(datatypes.KindProviderError, err, "%s timed out", op)
	}
	return datatypes.Wrap(datatypes.KindProviderUnavailable, err,
		"ollama endpoint unreachable during %s", op)
}

// daemonError turns a non-200 daemon response into a ProviderError carrying
// the daemon's own message verbatim.
func daemonError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		msg = e.Error
	}
	slog.Error("Ollama daemon returned an error",
		"status_code", resp.StatusCode, "response", msg)
	return datatypes.E(datatypes.KindProviderError,
		"ollama returned status %d: %s", resp.StatusCode, msg)
}
