// Package dispatch routes validated invocations to the Ollama daemon,
// shapes the results, triggers provider fallback when the daemon is
// unreachable, and accounts every invocation to the usage ledger.
//
// Accounting is exactly-once per invocation: one record per blocking call
// (success or failure, primary or fallback) and one record per stream,
// written after the stream has been fully drained. Writes are
// fire-and-forget; a ledger failure is logged and never fails the request.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
	"github.com/weam-ai/ollama-gateway/services/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gateway.dispatch")

// usageWriteTimeout bounds the detached ledger write.
const usageWriteTimeout = 5 * time.Second

// Sampling defaults merged under caller-supplied options. An unset knob
// gets its default; an explicit value wins.
const (
	defaultTemperature   = 0.7
	defaultTopP          = 0.9
	defaultTopK          = 40
	defaultRepeatPenalty = 1.1
)

// SettingsReader supplies the company configuration consulted for fallback.
type SettingsReader interface {
	Get(ctx context.Context, companyID string) (datatypes.CompanyOllamaSettings, error)
}

// UsageSink receives one record per finished invocation.
type UsageSink interface {
	Append(ctx context.Context, rec datatypes.UsageRecord) error
}

// FallbackRunner executes a failed invocation against the company's
// fallback providers.
type FallbackRunner interface {
	Execute(ctx context.Context, call datatypes.FallbackCall) (*datatypes.InvocationResult, error)
}

// Service is the request dispatcher.
//
// # Thread Safety
//
// Safe for concurrent use. Each invocation is independent; the only shared
// mutable state lives behind the client cache's own lock.
type Service struct {
	clients   *ollama.ClientCache
	settings  SettingsReader
	usage     UsageSink
	fallback  FallbackRunner
	estimator *Estimator
}

// NewService creates the dispatcher. Clients, settings, and usage are
// required; a nil fallback disables provider substitution entirely.
func NewService(clients *ollama.ClientCache, settings SettingsReader,
	usage UsageSink, fallback FallbackRunner) *Service {

	if clients == nil {
		panic("dispatch.NewService: clients must not be nil")
	}
	if settings == nil {
		panic("dispatch.NewService: settings must not be nil")
	}
	if usage == nil {
		panic("dispatch.NewService: usage must not be nil")
	}
	return &Service{
		clients:   clients,
		settings:  settings,
		usage:     usage,
		fallback:  fallback,
		estimator: NewEstimator(),
	}
}

// Chat runs one blocking chat invocation.
//
// On a provider failure (daemon unreachable or daemon-reported error) the
// company's fallback chain is consulted; validation never reaches here and a
// cancelled caller context is returned as-is. Exactly one usage record is
// written either way.
func (s *Service) Chat(ctx context.Context, ident extensions.Identity,
	req datatypes.ChatRequest) (*datatypes.InvocationResult, error) {

	ctx, span := tracer.Start(ctx, "Dispatch.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.model", req.Model))

	client := s.clients.For(req.BaseURL)
	res, err := client.Chat(ctx, req.Model, req.Messages, buildOptions(req.Options))
	if err != nil {
		return s.recover(ctx, ident, datatypes.ActionChat, datatypes.FallbackCall{
			Model:    req.Model,
			Action:   datatypes.ActionChat,
			Messages: req.Messages,
			Options:  req.Options,
		}, err)
	}

	inv := s.invocationResult(res, req.Model)
	s.record(ident, datatypes.UsageRecord{
		Model:   req.Model,
		Action:  datatypes.ActionChat,
		Tokens:  inv.TokenCount,
		Success: true,
	})
	return inv, nil
}

// Generate runs one blocking single-prompt invocation. Same contract as
// Chat.
func (s *Service) Generate(ctx context.Context, ident extensions.Identity,
	req datatypes.GenerateRequest) (*datatypes.InvocationResult, error) {

	ctx, span := tracer.Start(ctx, "Dispatch.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.model", req.Model))

	client := s.clients.For(req.BaseURL)
	res, err := client.Generate(ctx, req.Model, req.Prompt, buildOptions(req.Options))
	if err != nil {
		return s.recover(ctx, ident, datatypes.ActionGenerate, datatypes.FallbackCall{
			Model:   req.Model,
			Action:  datatypes.ActionGenerate,
			Prompt:  req.Prompt,
			Options: req.Options,
		}, err)
	}

	inv := s.invocationResult(res, req.Model)
	s.record(ident, datatypes.UsageRecord{
		Model:   req.Model,
		Action:  datatypes.ActionGenerate,
		Tokens:  inv.TokenCount,
		Success: true,
	})
	return inv, nil
}

// ChatStream runs one streaming chat invocation.
//
// The returned handle's channel delivers fragments in order and closes when
// the stream ends. Streams never fall back: once fragments may have been
// delivered there is no clean way to restart on another provider. The usage
// record is written after the daemon stream is fully drained, with the
// daemon's eval count when it sent one and an estimate otherwise.
func (s *Service) ChatStream(ctx context.Context, ident extensions.Identity,
	req datatypes.ChatRequest) *StreamHandle {

	handle := newStreamHandle()
	client := s.clients.For(req.BaseURL)
	opts := buildOptions(req.Options)

	go func() {
		ctx, span := tracer.Start(ctx, "Dispatch.ChatStream")
		defer span.End()
		span.SetAttributes(attribute.String("gateway.model", req.Model))

		var text strings.Builder
		evalCount := 0
		err := client.ChatStream(ctx, req.Model, req.Messages, opts, func(d ollama.Delta) error {
			if d.EvalCount > 0 {
				evalCount = d.EvalCount
			}
			text.WriteString(d.Content)
			return handle.emit(ctx, datatypes.StreamChunk{Text: d.Content, Done: d.Done})
		})

		tokens := evalCount
		if tokens == 0 {
			tokens = s.estimator.Estimate(text.String())
		}
		s.record(ident, datatypes.UsageRecord{
			Model:   req.Model,
			Action:  datatypes.ActionChat.Stream(),
			Tokens:  tokens,
			Success: err == nil,
		})
		handle.finish(err)
	}()
	return handle
}

// GenerateStream is the single-prompt equivalent of ChatStream.
func (s *Service) GenerateStream(ctx context.Context, ident extensions.Identity,
	req datatypes.GenerateRequest) *StreamHandle {

	handle := newStreamHandle()
	client := s.clients.For(req.BaseURL)
	opts := buildOptions(req.Options)

	go func() {
		ctx, span := tracer.Start(ctx, "Dispatch.GenerateStream")
		defer span.End()
		span.SetAttributes(attribute.String("gateway.model", req.Model))

		var text strings.Builder
		evalCount := 0
		err := client.GenerateStream(ctx, req.Model, req.Prompt, opts, func(d ollama.Delta) error {
			if d.EvalCount > 0 {
				evalCount = d.EvalCount
			}
			text.WriteString(d.Content)
			return handle.emit(ctx, datatypes.StreamChunk{Text: d.Content, Done: d.Done})
		})

		tokens := evalCount
		if tokens == 0 {
			tokens = s.estimator.Estimate(text.String())
		}
		s.record(ident, datatypes.UsageRecord{
			Model:   req.Model,
			Action:  datatypes.ActionGenerate.Stream(),
			Tokens:  tokens,
			Success: err == nil,
		})
		handle.finish(err)
	}()
	return handle
}

// Embeddings runs one embeddings invocation. Embeddings never fall back.
// The usage record carries an estimate of the input, since the daemon does
// not report a count for embeddings.
func (s *Service) Embeddings(ctx context.Context, ident extensions.Identity,
	req datatypes.EmbeddingsRequest) (*datatypes.EmbeddingsResult, error) {

	ctx, span := tracer.Start(ctx, "Dispatch.Embeddings")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.model", req.Model))

	client := s.clients.For(req.BaseURL)
	res, err := client.Embeddings(ctx, req.Model, req.Input)
	if err != nil {
		s.record(ident, datatypes.UsageRecord{
			Model:  req.Model,
			Action: datatypes.ActionEmbeddings,
		})
		return nil, err
	}

	s.record(ident, datatypes.UsageRecord{
		Model:   req.Model,
		Action:  datatypes.ActionEmbeddings,
		Tokens:  s.estimator.Estimate(req.Input),
		Success: true,
	})
	return res, nil
}

// recover decides what happens after a primary failure: hand the call to the
// fallback chain when the daemon was unreachable and the company allows it,
// otherwise surface the original error. Writes the invocation's single usage
// record on every path.
func (s *Service) recover(ctx context.Context, ident extensions.Identity,
	action datatypes.Action, call datatypes.FallbackCall, cause error) (*datatypes.InvocationResult, error) {

	if s.fallback == nil || !fallbackEligible(cause) {
		s.record(ident, datatypes.UsageRecord{Model: call.Model, Action: action})
		return nil, cause
	}

	settings, err := s.settings.Get(ctx, ident.CompanyID)
	if err != nil {
		slog.Error("Failed to load settings for fallback decision",
			"company_id", ident.CompanyID, "error", err)
		s.record(ident, datatypes.UsageRecord{Model: call.Model, Action: action})
		return nil, cause
	}
	if !settings.Fallback.Enabled {
		slog.Info("Fallback disabled for company, surfacing primary failure",
			"company_id", ident.CompanyID, "model", call.Model)
		s.record(ident, datatypes.UsageRecord{Model: call.Model, Action: action})
		return nil, cause
	}

	trace.SpanFromContext(ctx).AddEvent("fallback_attempt", trace.WithAttributes(
		attribute.String("gateway.model", call.Model),
		attribute.String("gateway.primary_error", cause.Error())))

	call.Config = settings.Fallback
	call.Cause = cause
	result, fbErr := s.fallback.Execute(ctx, call)
	if fbErr != nil {
		// A fallback was attempted, so the ledger entry carries the
		// fallback action even though it failed.
		s.record(ident, datatypes.UsageRecord{Model: call.Model, Action: action.Fallback()})
		return nil, fbErr
	}

	if result.TokenCount == 0 {
		result.TokenCount = s.estimator.Estimate(result.Text)
	}
	s.record(ident, datatypes.UsageRecord{
		Model:            result.Model,
		Action:           action.Fallback(),
		Tokens:           result.TokenCount,
		Success:          true,
		FallbackProvider: result.Provider,
	})
	return result, nil
}

// fallbackEligible reports whether a primary failure may be retried on a
// fallback provider. Both unreachable-daemon and daemon-reported failures
// qualify; a cancelled or expired caller context never does.
func fallbackEligible(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch datatypes.KindOf(err) {
	case datatypes.KindProviderUnavailable, datatypes.KindProviderError:
		return true
	}
	return false
}

// record writes one usage record without blocking the request path.
func (s *Service) record(ident extensions.Identity, rec datatypes.UsageRecord) {
	rec.UserID = ident.UserID
	rec.CompanyID = ident.CompanyID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		defer cancel()
		if err := s.usage.Append(ctx, rec); err != nil {
			slog.Error("Failed to record usage",
				"user_id", rec.UserID, "company_id", rec.CompanyID,
				"action", rec.Action, "error", err)
		}
	}()
}

// invocationResult shapes a daemon result, preferring the daemon's token
// accounting and falling back to an estimate.
func (s *Service) invocationResult(res *ollama.Result, requestedModel string) *datatypes.InvocationResult {
	model := res.Model
	if model == "" {
		model = requestedModel
	}
	tokens := res.EvalCount
	if tokens == 0 {
		tokens = s.estimator.Estimate(res.Content)
	}
	return &datatypes.InvocationResult{
		Success:    true,
		Text:       res.Content,
		TokenCount: tokens,
		Provider:   datatypes.ProviderOllama,
		Model:      model,
		Raw:        res.Raw,
	}
}

// buildOptions merges caller options over the sampling defaults into the
// daemon's options map.
func buildOptions(o *datatypes.SamplingOptions) map[string]any {
	opts := map[string]any{
		"temperature":    defaultTemperature,
		"top_p":          defaultTopP,
		"top_k":          defaultTopK,
		"repeat_penalty": defaultRepeatPenalty,
	}
	if o == nil {
		return opts
	}
	if o.Temperature != nil {
		opts["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		opts["top_p"] = *o.TopP
	}
	if o.TopK != nil {
		opts["top_k"] = *o.TopK
	}
	if o.RepeatPenalty != nil {
		opts["repeat_penalty"] = *o.RepeatPenalty
	}
	if o.NumPredict != nil {
		opts["num_predict"] = *o.NumPredict
	}
	if len(o.Stop) > 0 {
		opts["stop"] = o.Stop
	}
	return opts
}
