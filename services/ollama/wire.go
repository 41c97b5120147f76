package ollama

import (
	"time"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

// Wire structures for the daemon's JSON API. Field names follow the daemon,
// not the gateway; translation to gateway types happens in the client
// methods.

type tagsResponse struct {
	Models []tagModel `json:"models"`
}

type tagModel struct {
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	ModifiedAt time.Time    `json:"modified_at"`
	Details    modelDetails `json:"details"`
}

type modelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

type showRequest struct {
	Model string `json:"model"`
}

type showResponse struct {
	Details   modelDetails   `json:"details"`
	ModelInfo map[string]any `json:"model_info"`
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type deleteRequest struct {
	Model string `json:"model"`
}

type copyRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []datatypes.Message `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string            `json:"model"`
	Message         datatypes.Message `json:"message"`
	Done            bool              `json:"done"`
	DoneReason      string            `json:"done_reason"`
	EvalCount       int               `json:"eval_count"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	TotalDuration   int64             `json:"total_duration"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	TotalDuration   int64  `json:"total_duration"`
}

// chatStreamChunk is one NDJSON line of a streamed chat response.
type chatStreamChunk struct {
	Message    datatypes.Message `json:"message"`
	Done       bool              `json:"done"`
	DoneReason string            `json:"done_reason"`
	EvalCount  int               `json:"eval_count"`
}

// generateStreamChunk is one NDJSON line of a streamed generate response.
type generateStreamChunk struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	EvalCount  int    `json:"eval_count"`
}
