// Package datatypes defines the wire and domain types shared across the
// gateway: normalized chat/generate requests, invocation results, stream
// chunks, model descriptors, per-company settings, and usage records.
//
// Types here are transport-agnostic. Handlers bind HTTP bodies into them,
// the dispatcher consumes them, and the stores persist them. Validation
// beyond gin's binding tags lives in Validate methods on the request types.
package datatypes

import (
	"encoding/json"
	"time"
)

// ProviderOllama is the provider tag for results served by the Ollama daemon.
// Fallback results carry the fallback provider's name instead.
const ProviderOllama = "ollama"

// Message is a single entry in a chat conversation.
type Message struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant tool"`
	Content string `json:"content" binding:"required"`
}

// SamplingOptions carries caller-supplied generation parameters.
//
// All fields are pointers so that "unset" is distinguishable from an explicit
// zero: the dispatcher merges these over the documented defaults
// (temperature=0.7, top_p=0.9, top_k=40, repeat_penalty=1.1) and an
// unspecified key keeps its default.
type SamplingOptions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

// InvocationResult is the outcome of one non-streaming invocation.
//
// # Description
//
// Produced exactly once per non-streaming chat/generate call, whether the
// answer came from Ollama or from a fallback provider. Immutable after
// construction.
//
// # Fields
//
//   - Success: whether the provider returned a usable answer
//   - Text: the textual completion
//   - TokenCount: output token count (provider-reported when available,
//     estimated otherwise)
//   - Provider: "ollama" or the fallback provider name
//   - Model: the model that actually produced the answer
//   - FellBack / OriginalModel / OriginalError: populated only on fallback;
//     a result with FellBack=true always carries OriginalModel and
//     OriginalError
//   - Raw: the provider's raw response payload, passed through opaquely
type InvocationResult struct {
	Success       bool            `json:"success"`
	Text          string          `json:"text,omitempty"`
	TokenCount    int             `json:"tokens"`
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	FellBack      bool            `json:"fellBack,omitempty"`
	OriginalModel string          `json:"originalModel,omitempty"`
	OriginalError string          `json:"originalError,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// StreamChunk is one fragment of a streamed response.
//
// Chunks form a lazy, finite, non-restartable sequence produced by the
// dispatcher and consumed exactly once by the HTTP response writer. The
// text key matches InvocationResult's, so stream consumers read the same
// field in both modes. The final chunk has Done=true; after the channel
// closes the stream handle's Err method reports whether the sequence
// terminated cleanly.
type StreamChunk struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// ModelDescriptor is a read-only snapshot of a model known to an endpoint.
//
// The daemon is authoritative; descriptors are never persisted by the
// gateway. Format and Architecture are only populated by the extended
// model-details lookup, not by plain listing.
type ModelDescriptor struct {
	Name              string    `json:"name"`
	SizeBytes         int64     `json:"size"`
	Digest            string    `json:"digest,omitempty"`
	Family            string    `json:"family,omitempty"`
	ParameterSize     string    `json:"parameter_size,omitempty"`
	QuantizationLevel string    `json:"quantization_level,omitempty"`
	Format            string    `json:"format,omitempty"`
	Architecture      string    `json:"architecture,omitempty"`
	Provider          string    `json:"provider"`
	ModifiedAt        time.Time `json:"modified_at,omitempty"`
}

// EmbeddingsResult is the outcome of an embeddings invocation. Embeddings
// have no streaming variant and never fall back.
type EmbeddingsResult struct {
	Embedding []float64 `json:"embedding"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
}
