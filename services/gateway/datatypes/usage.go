package datatypes

import "time"

// Action names the kind of invocation a usage record accounts for.
// Streaming and fallback variants are derived with the suffix helpers so
// analytics can distinguish them without extra fields.
type Action string

const (
	ActionChat       Action = "chat"
	ActionGenerate   Action = "generate"
	ActionEmbeddings Action = "embeddings"
)

// Stream returns the streaming variant of the action ("chat_stream").
func (a Action) Stream() Action { return a + "_stream" }

// Fallback returns the fallback variant of the action ("chat_fallback").
func (a Action) Fallback() Action { return a + "_fallback" }

// UsageRecord is one append-only accounting entry. Exactly one record is
// written per invocation — success or failure, primary or fallback — after
// the result is final (streams: after the stream is fully drained). Records
// are never mutated or deleted by the gateway.
type UsageRecord struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	CompanyID        string    `json:"companyId"`
	Model            string    `json:"model"`
	Action           Action    `json:"action"`
	Tokens           int       `json:"tokens"`
	Success          bool      `json:"success"`
	FallbackProvider string    `json:"fallbackProvider,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// UsageStats aggregates usage records for the analytics endpoints.
type UsageStats struct {
	TotalRequests int               `json:"totalRequests"`
	TotalTokens   int               `json:"totalTokens"`
	SuccessCount  int               `json:"successCount"`
	FailureCount  int               `json:"failureCount"`
	FallbackCount int               `json:"fallbackCount"`
	ByAction      map[string]int    `json:"byAction"`
	ByModel       map[string]int    `json:"byModel"`
	Since         time.Time         `json:"since,omitempty"`
	TopModels     []ModelUsageEntry `json:"topModels,omitempty"`
}

// ModelUsageEntry is one row in the top-models ranking.
type ModelUsageEntry struct {
	Model    string `json:"model"`
	Requests int    `json:"requests"`
	Tokens   int    `json:"tokens"`
}
