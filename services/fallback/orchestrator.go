// Package fallback substitutes a hosted provider when the primary Ollama
// invocation fails. Selection is deterministic: the company's ordered
// provider list is walked front to back and the first provider with both a
// registered executor and a model mapping wins. There are no retries and no
// provider loops; one substitute attempt, then a terminal answer either way.
package fallback

import (
	"context"
	"log/slog"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("gateway.fallback")

// Completion is a provider executor's raw answer before the orchestrator
// tags it.
type Completion struct {
	Text   string
	Tokens int
}

// Executor runs one invocation against a single hosted provider using the
// company's stored credentials.
type Executor interface {
	// Provider returns the name matched against the company's
	// allowedProviders list.
	Provider() string

	// Complete answers the failed call on the substitute model.
	Complete(ctx context.Context, creds datatypes.ProviderCredentials,
		model string, call datatypes.FallbackCall) (*Completion, error)
}

// Orchestrator owns the fallback decision and execution.
//
// # Thread Safety
//
// Safe for concurrent use; the executor table is fixed at construction.
type Orchestrator struct {
	executors map[string]Executor
}

// NewOrchestrator registers the given executors. Registering two executors
// for the same provider name panics; it is a wiring bug.
func NewOrchestrator(executors ...Executor) *Orchestrator {
	table := make(map[string]Executor, len(executors))
	for _, e := range executors {
		if _, dup := table[e.Provider()]; dup {
			panic("fallback.NewOrchestrator: duplicate executor for " + e.Provider())
		}
		table[e.Provider()] = e
	}
	return &Orchestrator{executors: table}
}

// NewDefaultOrchestrator registers the three stock executors: OpenAI,
// Anthropic, and Azure OpenAI.
func NewDefaultOrchestrator() *Orchestrator {
	return NewOrchestrator(OpenAIExecutor{}, NewAnthropicExecutor(), AzureExecutor{})
}

// Execute answers a failed primary invocation on a substitute provider.
//
// Walks the company's provider priority list and picks the first provider
// that has a registered executor and a model mapping for the failed model.
// No candidate yields a NoFallbackAvailable error carrying the original
// failure text; an execution failure yields one combined error with both
// the original and the fallback failure. On success the result is tagged
// with fellBack, the original model, and the original error.
func (o *Orchestrator) Execute(ctx context.Context, call datatypes.FallbackCall) (*datatypes.InvocationResult, error) {
	ctx, span := tracer.Start(ctx, "Fallback.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.original_model", call.Model))

	provider, model, found := o.selectTarget(call)
	if !found {
		slog.Warn("No fallback candidate for model",
			"model", call.Model, "allowed_providers", call.Config.AllowedProviders)
		return nil, datatypes.E(datatypes.KindNoFallback,
			"no fallback provider could serve model %q (allowed: %v); original error: %v",
			call.Model, call.Config.AllowedProviders, call.Cause)
	}
	span.SetAttributes(
		attribute.String("gateway.fallback_provider", provider),
		attribute.String("gateway.fallback_model", model),
	)
	slog.Info("Falling back to hosted provider",
		"original_model", call.Model, "provider", provider, "model", model)

	completion, err := o.executors[provider].Complete(ctx, call.Config.Credentials[provider], model, call)
	if err != nil {
		slog.Error("Fallback execution failed",
			"provider", provider, "model", model, "error", err)
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"fallback to %s (%s) failed after primary error: %v", provider, model, call.Cause)
	}

	originalError := ""
	if call.Cause != nil {
		originalError = call.Cause.Error()
	}
	return &datatypes.InvocationResult{
		Success:       true,
		Text:          completion.Text,
		TokenCount:    completion.Tokens,
		Provider:      provider,
		Model:         model,
		FellBack:      true,
		OriginalModel: call.Model,
		OriginalError: originalError,
	}, nil
}

// selectTarget walks the priority list in order and returns the first
// provider/model pair that can serve the call.
func (o *Orchestrator) selectTarget(call datatypes.FallbackCall) (provider, model string, found bool) {
	for _, candidate := range call.Config.AllowedProviders {
		if _, registered := o.executors[candidate]; !registered {
			continue
		}
		if eq, ok := Equivalent(candidate, call.Model); ok {
			return candidate, eq, true
		}
	}
	return "", "", false
}
